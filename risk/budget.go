package risk

// Budgets is the portfolio-level risk budget snapshot. The per-strategy
// budget is an equal split of the daily limit across enabled strategies.
type Budgets struct {
	EquityUSD         float64
	DailyRTotal       float64
	PerStrategy       map[string]float64
	PerTradeR         float64
	PerTradeFraction  float64
	DailyRiskFraction float64
}

// Defaults per the schedule configuration.
const (
	DefaultDailyRiskFraction = 0.02
	DefaultPerTradeFraction  = 0.005
)

// ComputeBudgets derives the daily and per-trade dollar budgets from equity.
func ComputeBudgets(equity float64, strategies []string, dailyFraction, perTradeFraction float64) Budgets {
	if dailyFraction <= 0 {
		dailyFraction = DefaultDailyRiskFraction
	}
	if perTradeFraction <= 0 {
		perTradeFraction = DefaultPerTradeFraction
	}
	b := Budgets{
		EquityUSD:         equity,
		DailyRTotal:       equity * dailyFraction,
		PerTradeR:         equity * perTradeFraction,
		PerTradeFraction:  perTradeFraction,
		DailyRiskFraction: dailyFraction,
		PerStrategy:       make(map[string]float64, len(strategies)),
	}
	if len(strategies) > 0 {
		share := b.DailyRTotal / float64(len(strategies))
		for _, s := range strategies {
			b.PerStrategy[s] = share
		}
	}
	return b
}
