package domain

import "time"

// Phase is the lifecycle state machine's current phase.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhasePendingEntry Phase = "PENDING_ENTRY"
	PhaseOpen         Phase = "OPEN"
	PhasePendingExit  Phase = "PENDING_EXIT"
	// PhaseFaulted is entered on unreconcilable divergence and is never left
	// automatically; an operator must clear the persisted state.
	PhaseFaulted Phase = "FAULTED"
)

// PersistedState is the durable snapshot of the state machine's belief. It is
// written atomically after every transition and read once at startup.
type PersistedState struct {
	Version          int              `json:"version"`
	Symbol           string           `json:"symbol"`
	Phase            Phase            `json:"phase"`
	Position         *Position        `json:"position,omitempty"`
	ActiveOrders     []BrokerOrderRef `json:"active_orders,omitempty"`
	LastReconciledAt time.Time        `json:"last_reconciled_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// StateVersion is bumped when the persisted layout changes.
const StateVersion = 1

// TickAction summarizes what the state machine did during one tick.
type TickAction string

const (
	ActionNone       TickAction = "none"
	ActionEntered    TickAction = "entered"
	ActionRaisedStop TickAction = "raised_stop"
	ActionExited     TickAction = "exited"
	ActionHalted     TickAction = "halted" // FAULTED, no trading until cleared
)

// TickOutcome reports the result of one evaluation tick to the caller.
type TickOutcome struct {
	Action TickAction
	Phase  Phase
	Signal *SignalEvent // the event acted on (or discarded), nil when none fired
}

// ReconciliationResult describes how a divergence between the persisted belief
// and the broker's ground truth was resolved.
type ReconciliationResult struct {
	Phase         Phase     `json:"phase"`
	Adopted       bool      `json:"adopted"`        // position was taken over from the broker
	StopRestored  bool      `json:"stop_restored"`  // a missing protective leg was re-created
	Discrepancies []string  `json:"discrepancies"`  // human-readable divergence notes
	ReconciledAt  time.Time `json:"reconciled_at"`
}
