package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

// State is the orchestrator's position in the checkout flow.
type State string

const (
	Idle                 State = "idle"
	SessionRequested     State = "session_requested"
	SessionReady         State = "session_ready"
	WidgetMounted        State = "widget_mounted"
	PaymentSubmitted     State = "payment_submitted"
	AwaitingConfirmation State = "awaiting_confirmation"
	Succeeded            State = "succeeded"
	Failed               State = "failed"
	TimedOut             State = "timed_out"
)

// AllStates lists every state in flow order.
var AllStates = []State{
	Idle, SessionRequested, SessionReady, WidgetMounted, PaymentSubmitted,
	AwaitingConfirmation, Succeeded, Failed, TimedOut,
}

// Terminal reports whether the state ends the current job.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == TimedOut
}

// canBegin reports whether a new attempt may start from s.
func (s State) canBegin() bool {
	return s == Idle || s.Terminal()
}

// Snapshot is the view of the orchestrator handed to renderers.
type Snapshot struct {
	State         State              `json:"state"`
	Job           *model.CheckoutJob `json:"job,omitempty"`
	Shipping      model.Shipping     `json:"shipping,omitempty"`
	Subtotal      decimal.Decimal    `json:"subtotal"`
	Total         decimal.Decimal    `json:"total"`
	Error         string             `json:"error,omitempty"`
	ErrorCode     string             `json:"errorCode,omitempty"`
	Recoverable   bool               `json:"recoverable,omitempty"`
	SubmitEnabled bool               `json:"submitEnabled"`
	Attempts      int                `json:"pollAttempts"`
	MaxAttempts   int                `json:"maxPollAttempts"`
	Elapsed       time.Duration      `json:"-"`
	ElapsedSecs   int                `json:"elapsedSeconds"`
	LastOrderID   string             `json:"lastOrderId,omitempty"`
}

// Event is emitted on every transition. From == To for elapsed-time ticks
// and for polls that leave the state unchanged.
type Event struct {
	From     State
	To       State
	Snapshot Snapshot
	Poll     string // "paid", "failed", "pending", "unknown", "error" or "unauthorized"; empty when no poll resolved
}

// Listener receives events after the orchestrator lock is released.
type Listener func(Event)
