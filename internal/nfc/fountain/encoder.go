package fountain

import "errors"

// ErrEmptyMessage is returned for zero-length messages.
var ErrEmptyMessage = errors.New("fountain: empty message")

// Encoder produces packets for one message.
type Encoder struct {
	msgLen  uint32
	symbols []byte
	dist    *distribution
}

// NewEncoder prepares msg for encoding.
func NewEncoder(msg []byte) (*Encoder, error) {
	if len(msg) == 0 {
		return nil, ErrEmptyMessage
	}
	k := symbolCount(uint32(len(msg)))
	symbols := make([]byte, k*SymbolSize)
	copy(symbols, msg)
	return &Encoder{msgLen: uint32(len(msg)), symbols: symbols, dist: newDistribution(k)}, nil
}

// Symbols is the number of source symbols, the least number of packets that
// can rebuild the message.
func (e *Encoder) Symbols() int { return e.dist.k }

// Packet returns packet id.
func (e *Encoder) Packet(id uint32) Packet {
	p := Packet{MsgLen: e.msgLen, ID: id}
	for _, s := range e.dist.neighbours(id) {
		xorInto(&p.Data, e.symbols[s*SymbolSize:(s+1)*SymbolSize])
	}
	return p
}
