package plugin

import (
	"context"
	"time"

	"mealiemate/internal/clock"
)

// DefaultDecisionTimeout bounds how long a run waits for a human decision
// before proceeding with the default.
const DefaultDecisionTimeout = time.Hour

// Decision is a typed user decision delivered through a button press.
type Decision struct {
	Accepted bool
}

// DecisionGate is a single-slot channel a running plugin blocks on while it
// waits for a user decision. The dispatcher submits decisions from outside
// the plugin's goroutine; the plugin owns the gate.
type DecisionGate struct {
	ch    chan Decision
	clock clock.Clock
}

// NewDecisionGate creates a gate. A nil clk defaults to the real clock.
func NewDecisionGate(clk clock.Clock) *DecisionGate {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &DecisionGate{
		ch:    make(chan Decision, 1),
		clock: clk,
	}
}

// Submit delivers a decision to a waiting run. It never blocks; it returns
// false when the slot is already occupied by an unconsumed decision.
func (g *DecisionGate) Submit(d Decision) bool {
	select {
	case g.ch <- d:
		return true
	default:
		return false
	}
}

// Wait blocks until a decision arrives, the timeout elapses, or ctx is
// cancelled. On timeout the wait is abandoned: ok is false and the caller
// proceeds with its default rather than hanging forever.
func (g *DecisionGate) Wait(ctx context.Context, timeout time.Duration) (Decision, bool) {
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}

	select {
	case d := <-g.ch:
		return d, true
	case <-g.clock.After(timeout):
		return Decision{}, false
	case <-ctx.Done():
		return Decision{}, false
	}
}
