package fountain

import (
	"errors"
	"fmt"

	"coldsign/internal/psram"
)

var (
	// ErrMessageMismatch is returned for a packet of a different message.
	ErrMessageMismatch = errors.New("fountain: packet belongs to another message")
	// ErrTooLarge is returned when the message cannot be held in memory.
	ErrTooLarge = errors.New("fountain: message does not fit in memory")
	// ErrPoolFull is returned when no slot is left for an unresolved packet.
	ErrPoolFull = errors.New("fountain: no room for pending packets")
)

// pending is a packet that still covers more than one unknown symbol. Its
// data lives in a pool slot in external memory.
type pending struct {
	slot    int
	symbols map[int]struct{}
}

// Decoder peels packets into a message kept in external memory. Symbols are
// stored from base in order, so the rebuilt message is contiguous. Only the
// bookkeeping stays in RAM.
type Decoder struct {
	base    psram.Address
	msgLen  uint32
	dist    *distribution
	known   []bool
	missing int

	pool      int // offset of the pending pool from base
	poolSlots int
	free      []int
	next      int
	pending   map[int]*pending // by slot
	bySymbol  map[int][]int    // slots waiting on a symbol
	seen      map[uint32]struct{}
	maxSeen   int
}

// maxPending bounds the pool for a message of k symbols. Peeling rarely
// holds more than about k packets at once.
func maxPending(k int) int { return 4*k + 64 }

// NewDecoder starts decoding the message first belongs to, storing it at
// base on d.
func NewDecoder(d *psram.Device, base psram.Address, first Packet) (*Decoder, error) {
	if first.MsgLen == 0 {
		return nil, ErrEmptyMessage
	}
	k := symbolCount(first.MsgLen)
	room := d.Size() - int(base.Uint32())
	if room < (k+1)*SymbolSize {
		return nil, fmt.Errorf("%w: %d bytes at %v", ErrTooLarge, first.MsgLen, base)
	}
	dec := &Decoder{
		base:      base,
		msgLen:    first.MsgLen,
		dist:      newDistribution(k),
		known:     make([]bool, k),
		missing:   k,
		pool:      k * SymbolSize,
		poolSlots: min(room/SymbolSize-k, maxPending(k)),
		pending:   make(map[int]*pending),
		bySymbol:  make(map[int][]int),
		seen:      make(map[uint32]struct{}),
	}
	dec.maxSeen = k + dec.poolSlots
	if err := dec.Add(d, first); err != nil {
		return nil, err
	}
	return dec, nil
}

// MsgLen is the length of the message being rebuilt.
func (dec *Decoder) MsgLen() uint32 { return dec.msgLen }

// Missing is the number of symbols not yet recovered.
func (dec *Decoder) Missing() int { return dec.missing }

// Pending is the number of packets parked in the pool.
func (dec *Decoder) Pending() int { return len(dec.pending) }

// Add feeds one packet. Repeated ids are ignored while the id table has
// room; past that a repeat costs a pool slot at worst.
func (dec *Decoder) Add(d *psram.Device, p Packet) error {
	if p.MsgLen != dec.msgLen {
		return fmt.Errorf("%w: length %d, decoding %d", ErrMessageMismatch, p.MsgLen, dec.msgLen)
	}
	if dec.missing == 0 {
		return nil
	}
	if _, ok := dec.seen[p.ID]; ok {
		return nil
	}
	if err := dec.add(d, p); err != nil {
		return err
	}
	if len(dec.seen) < dec.maxSeen {
		dec.seen[p.ID] = struct{}{}
	}
	return nil
}

func (dec *Decoder) add(d *psram.Device, p Packet) error {
	data := p.Data
	var rest []int
	for _, s := range dec.dist.neighbours(p.ID) {
		if !dec.known[s] {
			rest = append(rest, s)
			continue
		}
		sym, err := d.ReadAt(dec.at(s*SymbolSize), SymbolSize)
		if err != nil {
			return err
		}
		xorInto(&data, sym)
	}

	switch len(rest) {
	case 0:
		return nil
	case 1:
		return dec.resolve(d, rest[0], data)
	}
	return dec.park(d, rest, data)
}

// Done returns where the message is once every symbol is known.
func (dec *Decoder) Done() (psram.Access, bool) {
	if dec.missing > 0 {
		return psram.Access{}, false
	}
	return psram.Access{Start: dec.base, Len: int(dec.msgLen)}, true
}

func (dec *Decoder) at(off int) psram.Address {
	// NewDecoder checked that everything from base fits.
	a, err := dec.base.Shift(off)
	if err != nil {
		panic(err)
	}
	return a
}

func (dec *Decoder) park(d *psram.Device, symbols []int, data [SymbolSize]byte) error {
	slot, ok := dec.alloc()
	if !ok {
		return ErrPoolFull
	}
	if err := d.WriteAt(dec.at(dec.pool+slot*SymbolSize), data[:]); err != nil {
		dec.free = append(dec.free, slot)
		return err
	}
	p := &pending{slot: slot, symbols: make(map[int]struct{}, len(symbols))}
	dec.pending[slot] = p
	for _, s := range symbols {
		p.symbols[s] = struct{}{}
		dec.bySymbol[s] = append(dec.bySymbol[s], slot)
	}
	return nil
}

// release returns p's slot to the pool and forgets it on the symbols it
// still waits for, so a reused slot is never mistaken for p.
func (dec *Decoder) release(p *pending) {
	for s := range p.symbols {
		slots := dec.bySymbol[s][:0]
		for _, slot := range dec.bySymbol[s] {
			if slot != p.slot {
				slots = append(slots, slot)
			}
		}
		if len(slots) == 0 {
			delete(dec.bySymbol, s)
		} else {
			dec.bySymbol[s] = slots
		}
	}
	delete(dec.pending, p.slot)
	dec.free = append(dec.free, p.slot)
}

func (dec *Decoder) alloc() (int, bool) {
	if n := len(dec.free); n > 0 {
		slot := dec.free[n-1]
		dec.free = dec.free[:n-1]
		return slot, true
	}
	if dec.next == dec.poolSlots {
		return 0, false
	}
	dec.next++
	return dec.next - 1, true
}

type found struct {
	symbol int
	data   [SymbolSize]byte
}

// resolve stores a recovered symbol and peels it out of every pending packet,
// which may recover further symbols.
func (dec *Decoder) resolve(d *psram.Device, symbol int, data [SymbolSize]byte) error {
	queue := []found{{symbol, data}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if dec.known[f.symbol] {
			continue
		}
		if err := d.WriteAt(dec.at(f.symbol*SymbolSize), f.data[:]); err != nil {
			return err
		}
		dec.known[f.symbol] = true
		dec.missing--

		waiting := dec.bySymbol[f.symbol]
		delete(dec.bySymbol, f.symbol)
		for _, slot := range waiting {
			p := dec.pending[slot]
			delete(p.symbols, f.symbol)
			addr := dec.at(dec.pool + p.slot*SymbolSize)
			raw, err := d.ReadAt(addr, SymbolSize)
			if err != nil {
				return err
			}
			var pd [SymbolSize]byte
			copy(pd[:], raw)
			xorInto(&pd, f.data[:])

			if len(p.symbols) > 1 {
				if err := d.WriteAt(addr, pd[:]); err != nil {
					return err
				}
				continue
			}
			for s := range p.symbols {
				queue = append(queue, found{s, pd})
			}
			dec.release(p)
		}
	}
	return nil
}
