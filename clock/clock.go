package clock

import (
	"fmt"
	"time"
)

// Clock abstracts "current UTC instant" so the engine can be driven by a fake
// in tests and by the wall clock in production.
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock, always in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed is a settable clock for tests.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time          { return f.T.UTC() }
func (f *Fixed) Set(t time.Time)         { f.T = t }
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }

// IsWeekend reports whether t falls on Saturday or Sunday in UTC.
func IsWeekend(t time.Time) bool {
	wd := t.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Window is a closed-open minute range [StartH:StartM, EndH:EndM) in UTC.
// The upper bound is exclusive so back-to-back windows do not overlap.
type Window struct {
	StartH, StartM int
	EndH, EndM     int
}

// Contains compares only (hour, minute) of t in UTC; seconds are ignored.
func (w Window) Contains(t time.Time) bool {
	u := t.UTC()
	m := u.Hour()*60 + u.Minute()
	return m >= w.StartH*60+w.StartM && m < w.EndH*60+w.EndM
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.StartH, w.StartM, w.EndH, w.EndM)
}

// ParseWindow parses "HH:MM" start and end strings into a Window.
func ParseWindow(start, end string) (Window, error) {
	var w Window
	if _, err := fmt.Sscanf(start, "%d:%d", &w.StartH, &w.StartM); err != nil {
		return w, fmt.Errorf("parse window start %q: %w", start, err)
	}
	if _, err := fmt.Sscanf(end, "%d:%d", &w.EndH, &w.EndM); err != nil {
		return w, fmt.Errorf("parse window end %q: %w", end, err)
	}
	if w.StartH > 23 || w.StartM > 59 || w.EndH > 23 || w.EndM > 59 {
		return w, fmt.Errorf("window %s-%s out of range", start, end)
	}
	return w, nil
}

// InAny reports whether t is inside at least one window.
func InAny(t time.Time, windows []Window) bool {
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}
