// Package op holds the cooperative building blocks shared by every driver
// state machine: the Operation contract and a tick-counted gate.
//
// Nothing in here blocks. A machine does at most one bounded unit of work per
// Advance call and returns; the caller decides how often to poll.
package op

// DefaultDelay is the hold, in ticks, used between steps that need the
// hardware to settle but have no datasheet-specific figure.
const DefaultDelay = 1

// Operation is a resumable state machine driven by repeated Advance calls.
// In is the per-call context (usually a peripherals handle or a supply
// voltage) and Out reports progress, conventionally "finished".
type Operation[In, Out any] interface {
	Advance(in In) Out
}

// Timer counts down ticks. The zero value is not holding.
type Timer struct {
	ticks int
}

// Wind arms the timer for n ticks. Negative values are treated as zero.
func (t *Timer) Wind(n int) {
	if n < 0 {
		n = 0
	}
	t.ticks = n
}

// Count consumes one tick and reports whether the caller must still hold.
func (t *Timer) Count() bool {
	if t.ticks == 0 {
		return false
	}
	t.ticks--
	return true
}

// Holding reports whether ticks remain, without consuming one.
func (t *Timer) Holding() bool { return t.ticks > 0 }

// Gate pairs a state tag with a Timer. Transitions are written as
// g.Wind(next, n); Count must be consulted before any transition logic.
type Gate[S comparable] struct {
	Timer
	State S
}

// NewGate returns a gate in state s with no hold.
func NewGate[S comparable](s S) Gate[S] {
	return Gate[S]{State: s}
}

// Wind moves to s and holds for n ticks.
func (g *Gate[S]) Wind(s S, n int) {
	g.State = s
	g.Timer.Wind(n)
}

// Change moves to s without holding.
func (g *Gate[S]) Change(s S) { g.Wind(s, 0) }

// WindDefault moves to s and holds for DefaultDelay ticks.
func (g *Gate[S]) WindDefault(s S) { g.Wind(s, DefaultDelay) }
