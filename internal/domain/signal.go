package domain

import "time"

// SignalKind classifies a signal as an entry or exit trigger.
type SignalKind string

const (
	SignalEntry SignalKind = "ENTRY"
	SignalExit  SignalKind = "EXIT"
)

// SignalRule names the indicator rule that produced a signal.
type SignalRule string

const (
	RuleGoldenCross     SignalRule = "golden_cross"
	RuleDeathCross      SignalRule = "death_cross"
	RuleRSIRecovery     SignalRule = "rsi_recovery"
	RuleRSIExhaustion   SignalRule = "rsi_exhaustion"
	RuleMACDBullish     SignalRule = "macd_bullish"
	RuleMACDBearish     SignalRule = "macd_bearish"
	RuleSqueezeBreakout SignalRule = "squeeze_breakout"
)

// SignalEvent is emitted when a monitored indicator relationship changes state
// between the previous and current observation. A static condition ("RSI is
// under 30") is never an event; only the flip itself is.
type SignalEvent struct {
	Kind      SignalKind         `json:"kind"`
	Rule      SignalRule         `json:"rule"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values,omitempty"` // supporting indicator values
}
