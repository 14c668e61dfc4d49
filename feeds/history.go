package feeds

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"axfl/market"
	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HISTORY SOURCES - 1-minute warm-up / replay data
// ═══════════════════════════════════════════════════════════════════════════════

// HistorySource provides 1-minute bars for a symbol over a UTC range.
type HistorySource interface {
	Name() string
	MinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error)
}

// Chain tries sources in order and returns the first non-empty result.
type Chain struct {
	Sources []HistorySource
}

func (c *Chain) Name() string { return "auto" }

func (c *Chain) MinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	var lastErr error
	for _, s := range c.Sources {
		bars, err := s.MinuteBars(ctx, symbol, from, to)
		if err != nil {
			log.Warn().Err(err).Str("source", s.Name()).Str("symbol", symbol).Msg("history fetch failed, trying next source")
			lastErr = err
			continue
		}
		if len(bars) > 0 {
			return bars, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no source returned bars for %s", symbol)
	}
	return nil, lastErr
}

// SourcesFor builds the ordered fallback chain for a configured source name.
func SourcesFor(source, dataDir, twelveKey, finnhubKey string) HistorySource {
	csvSrc := &CSVSource{Dir: dataDir}
	td := &TwelveData{APIKey: twelveKey, Client: &http.Client{Timeout: 20 * time.Second}}
	fh := &FinnhubHistory{APIKey: finnhubKey, Client: &http.Client{Timeout: 20 * time.Second}}
	switch source {
	case "twelvedata":
		return &Chain{Sources: []HistorySource{td, csvSrc}}
	case "finnhub":
		return &Chain{Sources: []HistorySource{fh, csvSrc}}
	default: // auto
		return &Chain{Sources: []HistorySource{td, fh, csvSrc}}
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// TwelveData time_series client
// ───────────────────────────────────────────────────────────────────────────────

type TwelveData struct {
	APIKey string
	Client *http.Client
}

func (t *TwelveData) Name() string { return "twelvedata" }

func (t *TwelveData) MinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	if t.APIKey == "" {
		return nil, fmt.Errorf("twelvedata: no api key")
	}
	q := url.Values{}
	q.Set("symbol", market.Slash(symbol))
	q.Set("interval", "1min")
	q.Set("start_date", from.UTC().Format("2006-01-02 15:04:05"))
	q.Set("end_date", to.UTC().Format("2006-01-02 15:04:05"))
	q.Set("timezone", "UTC")
	q.Set("outputsize", "5000")
	q.Set("apikey", t.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.twelvedata.com/time_series?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twelvedata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twelvedata: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Values []struct {
			Datetime string `json:"datetime"`
			Open     string `json:"open"`
			High     string `json:"high"`
			Low      string `json:"low"`
			Close    string `json:"close"`
		} `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("twelvedata: decode: %w", err)
	}

	bars := make([]types.Bar, 0, len(payload.Values))
	for _, v := range payload.Values {
		ts, err := time.Parse("2006-01-02 15:04:05", v.Datetime)
		if err != nil {
			continue
		}
		bars = append(bars, types.Bar{
			Time:   ts.UTC(),
			Open:   atof(v.Open),
			High:   atof(v.High),
			Low:    atof(v.Low),
			Close:  atof(v.Close),
			Volume: 1,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// Finnhub forex candle client
// ───────────────────────────────────────────────────────────────────────────────

type FinnhubHistory struct {
	APIKey string
	Client *http.Client
}

func (f *FinnhubHistory) Name() string { return "finnhub" }

func (f *FinnhubHistory) MinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	if f.APIKey == "" {
		return nil, fmt.Errorf("finnhub: no api key")
	}
	q := url.Values{}
	q.Set("symbol", market.VenueName("OANDA", symbol))
	q.Set("resolution", "1")
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	q.Set("token", f.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://finnhub.io/api/v1/forex/candle?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("finnhub: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("finnhub: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		S string    `json:"s"`
		T []int64   `json:"t"`
		O []float64 `json:"o"`
		H []float64 `json:"h"`
		L []float64 `json:"l"`
		C []float64 `json:"c"`
		V []float64 `json:"v"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("finnhub: decode: %w", err)
	}
	if payload.S != "ok" {
		return nil, fmt.Errorf("finnhub: status %q", payload.S)
	}

	bars := make([]types.Bar, 0, len(payload.T))
	for i := range payload.T {
		bars = append(bars, types.Bar{
			Time:   time.Unix(payload.T[i], 0).UTC(),
			Open:   payload.O[i],
			High:   payload.H[i],
			Low:    payload.L[i],
			Close:  payload.C[i],
			Volume: int64(payload.V[i]),
		})
	}
	return bars, nil
}

// ───────────────────────────────────────────────────────────────────────────────
// CSV file source - doubles as the replay dataset loader
// ───────────────────────────────────────────────────────────────────────────────

// CSVSource reads <dir>/<SYMBOL>_1m.csv with columns time,open,high,low,close[,volume].
// Time is RFC 3339 or unix seconds.
type CSVSource struct {
	Dir string
}

func (c *CSVSource) Name() string { return "csv" }

func (c *CSVSource) MinuteBars(_ context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	path := filepath.Join(c.Dir, strings.ToUpper(symbol)+"_1m.csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var bars []types.Bar
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv source %s: %w", path, err)
		}
		if first {
			first = false
			if strings.EqualFold(rec[0], "time") {
				continue // header
			}
		}
		if len(rec) < 5 {
			continue
		}
		ts, ok := parseTime(rec[0])
		if !ok {
			continue
		}
		if ts.Before(from) || ts.After(to) {
			continue
		}
		bar := types.Bar{
			Time:   ts,
			Open:   atof(rec[1]),
			High:   atof(rec[2]),
			Low:    atof(rec[3]),
			Close:  atof(rec[4]),
			Volume: 1,
		}
		if len(rec) > 5 {
			if v, err := strconv.ParseInt(rec[5], 10, 64); err == nil {
				bar.Volume = v
			}
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

func parseTime(s string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), true
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), true
	}
	return time.Time{}, false
}

func atof(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
