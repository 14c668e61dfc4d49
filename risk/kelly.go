package risk

// KellyFraction returns f* = max(0, min(maxFraction, (p*b - q)/b)) where
// b = avgWin/avgLoss, p = winRate, q = 1-p. Helper only; the engine does not
// enable Kelly sizing by default.
func KellyFraction(winRate, avgWin, avgLoss, maxFraction float64) float64 {
	if avgLoss <= 0 || avgWin <= 0 {
		return 0
	}
	b := avgWin / avgLoss
	f := (winRate*b - (1 - winRate)) / b
	if f < 0 {
		return 0
	}
	if f > maxFraction {
		return maxFraction
	}
	return f
}
