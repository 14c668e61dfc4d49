package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"axfl/clock"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCHEDULE CONFIGURATION - YAML profiles
// ═══════════════════════════════════════════════════════════════════════════════
//
// The schedule document carries named profiles plus the strategy lists.
// Unknown keys are rejected at decode time.
//
// ═══════════════════════════════════════════════════════════════════════════════

// RiskBlock is the per-profile risk configuration.
type RiskBlock struct {
	GlobalDailyStopR       float64 `yaml:"global_daily_stop_r"`
	MaxOpenPositions       int     `yaml:"max_open_positions"`
	PerStrategyDailyTrades int     `yaml:"per_strategy_daily_trades"`
	PerStrategyDailyStopR  float64 `yaml:"per_strategy_daily_stop_r"`
	DailyRiskFraction      float64 `yaml:"daily_risk_fraction"`
	PerTradeFraction       float64 `yaml:"per_trade_fraction"`
}

// RiskParity controls the inverse-volatility allocator.
type RiskParity struct {
	Enabled   bool    `yaml:"enabled"`
	LookbackD int     `yaml:"lookback_d"`
	Floor     float64 `yaml:"floor"`
	Cap       float64 `yaml:"cap"`
}

// DDLock controls the trailing-drawdown lock.
type DDLock struct {
	Enabled     bool    `yaml:"enabled"`
	TrailingPct float64 `yaml:"trailing_pct"`
	CooloffMin  int     `yaml:"cooloff_min"`
}

// NewsGuard controls the high-impact event blackout gate.
type NewsGuard struct {
	Enabled    bool   `yaml:"enabled"`
	CSVPath    string `yaml:"csv_path"`
	PadBeforeM int    `yaml:"pad_before_m"`
	PadAfterM  int    `yaml:"pad_after_m"`
}

// Profile is one named run configuration.
type Profile struct {
	Symbols      []string           `yaml:"symbols"`
	Interval     string             `yaml:"interval"`
	Source       string             `yaml:"source"` // auto | finnhub | twelvedata
	Venue        string             `yaml:"venue"`
	WarmupDays   int                `yaml:"warmup_days"`
	ReplayDays   int                `yaml:"replay_days"`
	StatusEveryS int                `yaml:"status_every_s"`
	Risk         RiskBlock          `yaml:"risk"`
	Spreads      map[string]float64 `yaml:"spreads"`
	SpreadFlat   float64            `yaml:"spread_flat"`
	RiskParity   RiskParity         `yaml:"risk_parity"`
	DDLock       DDLock             `yaml:"dd_lock"`
	NewsGuard    NewsGuard          `yaml:"news_guard"`
}

// WindowSpec is one session window in HH:MM form.
type WindowSpec struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// StrategySpec names a strategy, its parameter overlay and its windows.
type StrategySpec struct {
	Name    string             `yaml:"name"`
	Params  map[string]float64 `yaml:"params"`
	Windows []WindowSpec       `yaml:"windows"`
}

// Schedule is the whole document.
type Schedule struct {
	Profiles     map[string]Profile `yaml:"profiles"`
	Strategies   []StrategySpec     `yaml:"strategies"`
	StrategiesNY []StrategySpec     `yaml:"strategies_ny"`
}

// Load reads and validates the schedule document and resolves one profile.
func Load(path, profileName string) (*Schedule, *Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read schedule: %w", err)
	}

	var s Schedule
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, nil, fmt.Errorf("parse schedule %s: %w", path, err)
	}

	p, ok := s.Profiles[profileName]
	if !ok {
		names := make([]string, 0, len(s.Profiles))
		for n := range s.Profiles {
			names = append(names, n)
		}
		return nil, nil, fmt.Errorf("profile %q not found (have %v)", profileName, names)
	}
	p.applyDefaults()

	if len(p.Symbols) == 0 {
		return nil, nil, fmt.Errorf("profile %q: empty symbols list", profileName)
	}
	if len(s.Strategies) == 0 {
		return nil, nil, fmt.Errorf("schedule %s: empty strategies list", path)
	}
	for _, spec := range append(append([]StrategySpec{}, s.Strategies...), s.StrategiesNY...) {
		if len(spec.Windows) == 0 {
			return nil, nil, fmt.Errorf("strategy %q: no session windows", spec.Name)
		}
		if _, err := ParseWindows(spec.Windows); err != nil {
			return nil, nil, fmt.Errorf("strategy %q: %w", spec.Name, err)
		}
	}
	return &s, &p, nil
}

func (p *Profile) applyDefaults() {
	if p.Interval == "" {
		p.Interval = "5m"
	}
	if p.Source == "" {
		p.Source = "auto"
	}
	if p.Venue == "" {
		p.Venue = "OANDA"
	}
	if p.WarmupDays == 0 {
		p.WarmupDays = 10
	}
	if p.ReplayDays == 0 {
		p.ReplayDays = 1
	}
	if p.StatusEveryS == 0 {
		p.StatusEveryS = 180
	}
	if p.Risk.MaxOpenPositions == 0 {
		p.Risk.MaxOpenPositions = 3
	}
	if p.Risk.GlobalDailyStopR == 0 {
		p.Risk.GlobalDailyStopR = -3
	}
	if p.Risk.PerStrategyDailyTrades == 0 {
		p.Risk.PerStrategyDailyTrades = 4
	}
	if p.Risk.PerStrategyDailyStopR == 0 {
		p.Risk.PerStrategyDailyStopR = -2
	}
	if p.RiskParity.LookbackD == 0 {
		p.RiskParity.LookbackD = 10
	}
	if p.RiskParity.Floor == 0 {
		p.RiskParity.Floor = 0.1
	}
	if p.RiskParity.Cap == 0 {
		p.RiskParity.Cap = 0.5
	}
	if p.NewsGuard.PadBeforeM == 0 {
		p.NewsGuard.PadBeforeM = 30
	}
	if p.NewsGuard.PadAfterM == 0 {
		p.NewsGuard.PadAfterM = 30
	}
	if p.DDLock.TrailingPct == 0 {
		p.DDLock.TrailingPct = 5
	}
	if p.DDLock.CooloffMin == 0 {
		p.DDLock.CooloffMin = 120
	}
}

// ParseWindows converts HH:MM window specs to clock windows.
func ParseWindows(specs []WindowSpec) ([]clock.Window, error) {
	out := make([]clock.Window, 0, len(specs))
	for _, ws := range specs {
		w, err := clock.ParseWindow(ws.Start, ws.End)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
