package indicator

import (
	"context"
	"fmt"

	"swingbot/internal/domain"
	"swingbot/internal/ports"
)

// Config holds the engine's indicator parameters and the set of enabled rules.
type Config struct {
	ShortSMAPeriod   int     // e.g., 20
	LongSMAPeriod    int     // e.g., 50
	RSIPeriod        int     // e.g., 14
	RSIOversold      float64 // e.g., 30.0
	RSIOverbought    float64 // e.g., 70.0
	MACDFast         int     // e.g., 12
	MACDSlow         int     // e.g., 26
	MACDSignal       int     // e.g., 9
	BollingerPeriod  int     // e.g., 20
	BollingerStdDev  float64 // e.g., 2.0
	SqueezeThreshold float64 // bandwidth percent, e.g., 4.0

	// Rules enables individual signal rules by their entry-side name.
	// An empty list enables golden_cross only.
	Rules []domain.SignalRule

	// RequireConfirmation demands two independent rules fire ENTRY in the
	// same tick before an entry signal is emitted.
	RequireConfirmation bool
}

// Engine turns an ordered bar series into at most one SignalEvent per tick.
// It is stateless: every evaluation works only on the supplied bars, and the
// crossover policy (compare the sign of the previous and current difference
// of the two most recent fully-defined points) guarantees a signal fires
// exactly once per true state change, never for a static condition held
// across ticks.
type Engine struct {
	cfg    Config
	rules  map[domain.SignalRule]bool
	logger ports.Logger
}

// New creates a new signal engine.
func New(cfg Config, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for the signal engine")
	}
	if cfg.ShortSMAPeriod <= 0 || cfg.LongSMAPeriod <= 0 {
		return nil, fmt.Errorf("SMA periods must be positive")
	}
	if cfg.ShortSMAPeriod >= cfg.LongSMAPeriod {
		return nil, fmt.Errorf("short SMA period must be less than long SMA period")
	}
	if cfg.RSIPeriod <= 0 || cfg.MACDFast <= 0 || cfg.MACDSlow <= 0 || cfg.MACDSignal <= 0 || cfg.BollingerPeriod <= 0 {
		return nil, fmt.Errorf("indicator periods must be positive")
	}
	if cfg.MACDFast >= cfg.MACDSlow {
		return nil, fmt.Errorf("MACD fast period must be less than slow period")
	}

	enabled := cfg.Rules
	if len(enabled) == 0 {
		enabled = []domain.SignalRule{domain.RuleGoldenCross}
	}
	rules := make(map[domain.SignalRule]bool, len(enabled))
	for _, r := range enabled {
		switch r {
		case domain.RuleGoldenCross, domain.RuleRSIRecovery, domain.RuleMACDBullish, domain.RuleSqueezeBreakout:
			rules[r] = true
		default:
			return nil, fmt.Errorf("unknown signal rule %q", r)
		}
	}

	return &Engine{cfg: cfg, rules: rules, logger: logger}, nil
}

// MinBars returns the number of bars needed before every enabled rule has two
// fully-defined points to compare.
func (e *Engine) MinBars() int {
	min := e.cfg.LongSMAPeriod + 1
	if n := e.cfg.RSIPeriod + 2; e.rules[domain.RuleRSIRecovery] && n > min {
		min = n
	}
	if n := e.cfg.MACDSlow + e.cfg.MACDSignal; e.rules[domain.RuleMACDBullish] && n > min {
		min = n
	}
	if n := e.cfg.BollingerPeriod + 1; e.rules[domain.RuleSqueezeBreakout] && n > min {
		min = n
	}
	return min
}

// Evaluate produces at most one SignalEvent from the two most recent
// fully-defined points of each enabled rule. Insufficient history yields
// nil, nil; malformed input yields ErrInvalidSeries.
func (e *Engine) Evaluate(ctx context.Context, bars []domain.Bar) (*domain.SignalEvent, error) {
	if err := validateBars(bars); err != nil {
		return nil, err
	}
	if len(bars) < 2 {
		return nil, nil
	}

	var entries, exits []domain.SignalEvent
	for _, rule := range ruleOrder {
		if !e.rules[rule] {
			continue
		}
		var ev *domain.SignalEvent
		switch rule {
		case domain.RuleGoldenCross:
			ev = e.evalSMACross(bars)
		case domain.RuleRSIRecovery:
			ev = e.evalRSI(bars)
		case domain.RuleMACDBullish:
			ev = e.evalMACD(bars)
		case domain.RuleSqueezeBreakout:
			ev = e.evalSqueeze(bars)
		}
		if ev == nil {
			continue
		}
		if ev.Kind == domain.SignalEntry {
			entries = append(entries, *ev)
		} else {
			exits = append(exits, *ev)
		}
	}

	// An exit always wins over a simultaneous entry: protecting an open
	// position takes priority over opening a new one.
	if len(exits) > 0 {
		ev := exits[0]
		e.logger.Info(ctx, "Exit signal fired", map[string]interface{}{"rule": ev.Rule, "values": ev.Values})
		return &ev, nil
	}

	if len(entries) == 0 {
		return nil, nil
	}
	if e.cfg.RequireConfirmation && len(entries) < 2 {
		e.logger.Info(ctx, "Entry signal discarded: confirmation required but only one rule fired",
			map[string]interface{}{"rule": entries[0].Rule, "values": entries[0].Values})
		return nil, nil
	}

	ev := entries[0]
	if len(entries) > 1 {
		ev.Values["confirmations"] = float64(len(entries))
		e.logger.Info(ctx, "Entry signal confirmed by multiple rules", map[string]interface{}{
			"rule":       ev.Rule,
			"confirming": entries[1].Rule,
		})
	} else {
		e.logger.Info(ctx, "Entry signal fired", map[string]interface{}{"rule": ev.Rule, "values": ev.Values})
	}
	return &ev, nil
}

func (e *Engine) evalSMACross(bars []domain.Bar) *domain.SignalEvent {
	short := SMA(bars, e.cfg.ShortSMAPeriod)
	long := SMA(bars, e.cfg.LongSMAPeriod)
	prevS, currS, okS := short.LastTwo()
	prevL, currL, okL := long.LastTwo()
	if !okS || !okL {
		return nil
	}
	values := map[string]float64{
		"sma_short_prev": prevS, "sma_short": currS,
		"sma_long_prev": prevL, "sma_long": currL,
	}
	switch crossOf(prevS-prevL, currS-currL) {
	case crossUp:
		return e.event(bars, domain.SignalEntry, domain.RuleGoldenCross, values)
	case crossDown:
		return e.event(bars, domain.SignalExit, domain.RuleDeathCross, values)
	}
	return nil
}

func (e *Engine) evalRSI(bars []domain.Bar) *domain.SignalEvent {
	rsi := RSI(bars, e.cfg.RSIPeriod)
	prev, curr, ok := rsi.LastTwo()
	if !ok {
		return nil
	}
	values := map[string]float64{"rsi_prev": prev, "rsi": curr}
	// Recovery: crossing up through the oversold line. Exhaustion: crossing
	// down through the overbought line. Sitting beyond a line is not a signal.
	if crossOf(prev-e.cfg.RSIOversold, curr-e.cfg.RSIOversold) == crossUp {
		values["oversold"] = e.cfg.RSIOversold
		return e.event(bars, domain.SignalEntry, domain.RuleRSIRecovery, values)
	}
	if crossOf(prev-e.cfg.RSIOverbought, curr-e.cfg.RSIOverbought) == crossDown {
		values["overbought"] = e.cfg.RSIOverbought
		return e.event(bars, domain.SignalExit, domain.RuleRSIExhaustion, values)
	}
	return nil
}

func (e *Engine) evalMACD(bars []domain.Bar) *domain.SignalEvent {
	line, signal := MACD(bars, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
	prevM, currM, okM := line.LastTwo()
	prevSig, currSig, okS := signal.LastTwo()
	if !okM || !okS {
		return nil
	}
	values := map[string]float64{
		"macd_prev": prevM, "macd": currM,
		"signal_prev": prevSig, "signal": currSig,
	}
	switch crossOf(prevM-prevSig, currM-currSig) {
	case crossUp:
		return e.event(bars, domain.SignalEntry, domain.RuleMACDBullish, values)
	case crossDown:
		return e.event(bars, domain.SignalExit, domain.RuleMACDBearish, values)
	}
	return nil
}

// evalSqueeze detects a volatility squeeze resolving upward: bandwidth below
// the threshold on the prior bar, with price now closing above the upper
// band. A two-bar compound condition, not a single-bar threshold.
func (e *Engine) evalSqueeze(bars []domain.Bar) *domain.SignalEvent {
	upper, _, _, bandwidth := Bollinger(bars, e.cfg.BollingerPeriod, e.cfg.BollingerStdDev)
	n := len(bars)
	prevBW, okBW := bandwidth.At(n - 2)
	prevUpper, okPU := upper.At(n - 2)
	currUpper, okCU := upper.At(n - 1)
	if !okBW || !okPU || !okCU {
		return nil
	}
	prevClose := bars[n-2].Close
	currClose := bars[n-1].Close
	if prevBW < e.cfg.SqueezeThreshold && prevClose <= prevUpper && currClose > currUpper {
		return e.event(bars, domain.SignalEntry, domain.RuleSqueezeBreakout, map[string]float64{
			"bandwidth_prev": prevBW,
			"threshold":      e.cfg.SqueezeThreshold,
			"upper_band":     currUpper,
			"close":          currClose,
		})
	}
	return nil
}

func (e *Engine) event(bars []domain.Bar, kind domain.SignalKind, rule domain.SignalRule, values map[string]float64) *domain.SignalEvent {
	return &domain.SignalEvent{
		Kind:      kind,
		Rule:      rule,
		Timestamp: bars[len(bars)-1].Timestamp,
		Values:    values,
	}
}

// ruleOrder fixes the evaluation order so that simultaneous signals resolve
// the same way on every tick.
var ruleOrder = []domain.SignalRule{
	domain.RuleGoldenCross,
	domain.RuleRSIRecovery,
	domain.RuleMACDBullish,
	domain.RuleSqueezeBreakout,
}

type cross int

const (
	crossNone cross = iota
	crossUp
	crossDown
)

// crossOf implements the shared crossover policy: compare the sign of the
// previous and current difference. A tie on either side yields no cross, so a
// relationship that merely holds (rather than flips) never fires.
func crossOf(prevDiff, currDiff float64) cross {
	switch {
	case prevDiff < 0 && currDiff > 0:
		return crossUp
	case prevDiff > 0 && currDiff < 0:
		return crossDown
	default:
		return crossNone
	}
}

// validateBars rejects malformed input: timestamps must strictly increase and
// prices must be positive.
func validateBars(bars []domain.Bar) error {
	for i, b := range bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return fmt.Errorf("%w: non-positive price at index %d", ports.ErrInvalidSeries, i)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: non-increasing timestamp at index %d", ports.ErrInvalidSeries, i)
		}
	}
	return nil
}
