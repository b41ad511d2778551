package nfc

import (
	"coldsign/internal/hw"
	"coldsign/internal/log"
	"coldsign/internal/nfc/fountain"
	"coldsign/internal/nfc/nfca"
	"coldsign/internal/psram"
)

// DefaultMinMillivolts is the lowest supply at which captures are decoded.
const DefaultMinMillivolts = 4000

// Options tune a Receiver. Zero fields take defaults.
type Options struct {
	// Freq is the capture timer ticks per bit period.
	Freq int
	// MinMillivolts gates Advance on the supply voltage.
	MinMillivolts int
	// Base is where messages are rebuilt in external memory.
	Base psram.Address
	// Memory is the geometry of the external memory.
	Memory psram.Geometry
}

// Receiver decodes captured regions into packets and, once a message is
// whole, into a Result. It stops after the first Result.
type Receiver struct {
	handle    *hw.Handle
	ring      *Ring
	key       [32]byte
	opts      Options
	collector Collector
	done      bool
	heard     bool
}

// NewReceiver reads from ring and accepts transactions for key.
func NewReceiver(h *hw.Handle, ring *Ring, key [32]byte, opts Options) *Receiver {
	if opts.Freq == 0 {
		opts.Freq = nfca.DefaultFreq
	}
	if opts.MinMillivolts == 0 {
		opts.MinMillivolts = DefaultMinMillivolts
	}
	return &Receiver{
		handle:    h,
		ring:      ring,
		key:       key,
		opts:      opts,
		collector: Collector{Base: opts.Base},
	}
}

// IsEmpty reports whether no packet has been accepted yet.
func (r *Receiver) IsEmpty() bool { return r.collector.State() == Empty }

// Heard reports whether any packet has been accepted since start, even if
// the message it belonged to was later discarded.
func (r *Receiver) Heard() bool { return r.heard }

// Collector exposes the packet collector.
func (r *Receiver) Collector() *Collector { return &r.collector }

// Advance decodes at most the one readable region. It returns a Result once,
// when a complete message is recognised; errors are protocol violations or
// malformed requests and are not recoverable.
func (r *Receiver) Advance(millivolts int) (*Result, error) {
	if millivolts < r.opts.MinMillivolts || r.done {
		return nil, nil
	}
	if err := r.drain(); err != nil {
		return nil, err
	}
	acc, ok := r.collector.Result()
	if !ok {
		return nil, nil
	}

	var (
		res *Result
		err error
	)
	r.handle.InFree(func(p *hw.Peripherals) {
		res, err = parsePayload(r.opts.Memory.On(p.Memory), acc, r.key)
		if err == nil && res != nil {
			p.DMA.Mask()
		}
	})
	switch {
	case err != nil:
		r.done = true
		return nil, err
	case res == nil:
		log.Info("nfc: unknown payload, listening again", "len", acc.Len)
		r.collector.Reset()
		return nil, nil
	}
	r.done = true
	log.Info("nfc: message received", "kind", res.Kind, "len", acc.Len)
	return res, nil
}

// drain feeds every packet of the readable region to the collector and
// releases the region.
func (r *Receiver) drain() error {
	region, ok := r.ring.ReadRegion()
	if !ok {
		return nil
	}
	frames := nfca.Decode(region, r.opts.Freq, func(f nfca.Frame) bool {
		return f.Kind == nfca.Standard && len(f.Data) >= fountain.PacketSize
	})
	for _, f := range frames {
		p, err := fountain.ParsePacket(f.Data[len(f.Data)-fountain.PacketSize:])
		if err != nil {
			return err
		}
		r.handle.InFree(func(per *hw.Peripherals) {
			err = r.collector.Add(r.opts.Memory.On(per.Memory), p)
		})
		if err != nil {
			log.Debug("nfc: packet dropped", "id", p.ID, "err", err)
		} else if r.collector.State() != Empty {
			r.heard = true
		}
	}

	var err error
	r.handle.InFree(func(p *hw.Peripherals) {
		err = r.ring.ReadDone(p.DMA)
	})
	return err
}
