package epd

import "fmt"

// DrawKind selects a draw protocol.
type DrawKind uint8

const (
	DrawFull DrawKind = iota
	DrawFast
	DrawPart
)

func (k DrawKind) String() string {
	switch k {
	case DrawFull:
		return "full"
	case DrawFast:
		return "fast"
	case DrawPart:
		return "part"
	default:
		return fmt.Sprintf("DrawKind(%d)", uint8(k))
	}
}

// Protocol returns the descriptor for k.
func (k DrawKind) Protocol() *Protocol {
	switch k {
	case DrawFast:
		return FastDraw
	case DrawPart:
		return PartDraw
	default:
		return FullDraw
	}
}

// Request wakes the controller and then draws. Every draw advance waits for
// BUSY to read low.
type Request struct {
	kind DrawKind
	init *Sequence
	draw *Sequence
}

// NewRequest starts a request for kind.
func NewRequest(kind DrawKind) *Request {
	return &Request{kind: kind, init: NewSequence(Init)}
}

// Kind returns the requested draw kind.
func (r *Request) Kind() DrawKind { return r.kind }

// Drawing reports whether the wake-up phase is over.
func (r *Request) Drawing() bool { return r.draw != nil }

// Advance implements op.Operation.
func (r *Request) Advance(in Input) bool {
	if r.draw == nil {
		if r.init.Advance(in) {
			r.draw = NewSequence(r.kind.Protocol())
		}
		return false
	}
	if busy(in) {
		return false
	}
	return r.draw.Advance(in)
}
