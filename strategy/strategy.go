package strategy

import (
	"fmt"
	"sort"

	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY INTERFACE - Plug-in pattern, opaque to the engine
// ═══════════════════════════════════════════════════════════════════════════════
//
// A strategy consumes a prepared bar window and emits open intents per bar
// index. Stateless strategies have Prepare re-run after every appended bar;
// stateful ones are prepared once at warm-up.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Params is the strategy parameter bag; user values overlay tuned defaults.
type Params map[string]float64

// Get returns a parameter or its fallback.
func (p Params) Get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// Strategy is the contract every strategy implements.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string

	// Stateless reports whether Prepare must re-run on every new bar.
	Stateless() bool

	// Prepare derives indicator state over the bar window.
	Prepare(bars []types.Bar)

	// Signals returns open intents for bar index i, in emission order.
	Signals(bars []types.Bar, i int) []types.Intent

	// Snapshot exposes the strategy's counters and effective parameters.
	Snapshot() map[string]float64
}

type factory struct {
	defaults Params
	build    func(Params) Strategy
}

var registry = map[string]factory{}

// Register installs a strategy constructor with its tuned defaults.
func Register(name string, defaults Params, build func(Params) Strategy) {
	registry[name] = factory{defaults: defaults, build: build}
}

// New instantiates a registered strategy, overlaying user params on the
// tuned defaults.
func New(name string, user Params) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %v)", name, Names())
	}
	merged := make(Params, len(f.defaults)+len(user))
	for k, v := range f.defaults {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	return f.build(merged), nil
}

// Names lists the registered strategies.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
