package news

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"axfl/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NEWS CALENDAR - High-impact event blackout windows
// ═══════════════════════════════════════════════════════════════════════════════

// Event is one scheduled economic release.
type Event struct {
	Time       time.Time
	Currencies []string
	Impact     string // low | medium | high
	Title      string
}

// Window is an event's time expanded by the configured pads. Entries on
// affected symbols are refused while now is inside the window.
type Window struct {
	Start time.Time
	End   time.Time
	Event Event
}

// Contains reports whether t falls inside the window (inclusive bounds).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Calendar holds events sorted by time.
type Calendar struct {
	events []Event
}

// NewCalendar wraps a pre-built event list.
func NewCalendar(events []Event) *Calendar {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	return &Calendar{events: sorted}
}

// LoadCSV parses events from a CSV with columns
// date (YYYY-MM-DD), time_utc (HH:MM), currencies (comma-separated), impact, title.
func LoadCSV(path string) (*Calendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("news csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var events []Event
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("news csv %s: %w", path, err)
		}
		if first {
			first = false
			if strings.EqualFold(rec[0], "date") {
				continue
			}
		}
		if len(rec) < 5 {
			continue
		}
		ts, err := time.Parse("2006-01-02 15:04", rec[0]+" "+rec[1])
		if err != nil {
			log.Warn().Str("date", rec[0]).Str("time", rec[1]).Msg("skipping unparseable news row")
			continue
		}
		var ccys []string
		for _, c := range strings.Split(rec[2], ",") {
			c = strings.ToUpper(strings.TrimSpace(c))
			if c != "" {
				ccys = append(ccys, c)
			}
		}
		events = append(events, Event{
			Time:       ts.UTC(),
			Currencies: ccys,
			Impact:     strings.ToLower(strings.TrimSpace(rec[3])),
			Title:      rec[4],
		})
	}
	log.Info().Int("events", len(events)).Str("path", path).Msg("news calendar loaded")
	return NewCalendar(events), nil
}

// Upcoming returns padded windows for events whose padded window can overlap
// [now, now+lookahead]: events from now-afterPad through now+lookahead.
func (c *Calendar) Upcoming(now time.Time, beforeM, afterM, lookaheadH int) []Window {
	lo := now.Add(-time.Duration(afterM) * time.Minute)
	hi := now.Add(time.Duration(lookaheadH) * time.Hour)
	var out []Window
	for _, e := range c.events {
		if e.Time.Before(lo) || e.Time.After(hi) {
			continue
		}
		out = append(out, Window{
			Start: e.Time.Add(-time.Duration(beforeM) * time.Minute),
			End:   e.Time.Add(time.Duration(afterM) * time.Minute),
			Event: e,
		})
	}
	return out
}

// HighImpact filters windows to high-impact events.
func HighImpact(windows []Window) []Window {
	var out []Window
	for _, w := range windows {
		if w.Event.Impact == "high" {
			out = append(out, w)
		}
	}
	return out
}

// Affects reports whether the event touches either constituent currency of
// the symbol. Gold and silver are treated as quoted in USD.
func Affects(symbol string, e Event) bool {
	base, quote := market.Currencies(symbol)
	if base == "XAU" || base == "XAG" {
		base = "USD"
	}
	for _, c := range e.Currencies {
		if c == base || c == quote {
			return true
		}
	}
	return false
}

// InEventWindow reports whether any window both contains now and affects the
// symbol.
func InEventWindow(symbol string, now time.Time, windows []Window) bool {
	for _, w := range windows {
		if w.Contains(now) && Affects(symbol, w.Event) {
			return true
		}
	}
	return false
}
