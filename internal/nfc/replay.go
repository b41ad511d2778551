package nfc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"coldsign/internal/hw"
	"coldsign/internal/log"
	"coldsign/internal/nfc/fountain"
	"coldsign/internal/nfc/nfca"
)

// Replay stands in for the capture DMA on hosts without the RF front end. It
// copies recorded stamps into the Ring one region per link and raises the
// completion interrupt through the peripherals handle. It is the hw.Linker
// the Ring re-arms.
type Replay struct {
	ring   *Ring
	stamps []uint16
	relink chan struct{}
	masked atomic.Bool
}

// NewReplay plays stamps into ring.
func NewReplay(ring *Ring, stamps []uint16) *Replay {
	return &Replay{ring: ring, stamps: stamps, relink: make(chan struct{}, 1)}
}

// Relink arms the next transfer.
func (r *Replay) Relink() {
	select {
	case r.relink <- struct{}{}:
	default:
	}
}

// Mask stops further completions.
func (r *Replay) Mask() { r.masked.Store(true) }

// Masked reports whether Mask was called.
func (r *Replay) Masked() bool { return r.masked.Load() }

// Run feeds regions until the recording runs out, the link is masked or ctx
// is done. A trailing partial region is never delivered.
func (r *Replay) Run(ctx context.Context, h *hw.Handle) error {
	r.Relink()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.relink:
		}
		if r.masked.Load() {
			return nil
		}
		region, ok := r.ring.WriteRegion()
		if !ok {
			continue
		}
		if len(r.stamps) < len(region) {
			log.Info("nfc: replay exhausted", "left", len(r.stamps))
			return nil
		}
		copy(region, r.stamps)
		r.stamps = r.stamps[len(region):]

		var err error
		h.Interrupt(func(p *hw.Peripherals) {
			err = r.ring.TransferComplete(p.DMA)
		})
		if err != nil {
			// The hardware handler swallows this too; the reader catches up.
			log.Error("nfc: transfer completion", err)
		}
	}
}

// Synthesize produces the stamps of count fountain packets of msg, starting
// at packet id first, each sent as one standard frame.
func Synthesize(msg []byte, first uint32, count, freq int) ([]uint16, error) {
	enc, err := fountain.NewEncoder(msg)
	if err != nil {
		return nil, err
	}
	frames := make([]nfca.Frame, count)
	for i := range frames {
		p := enc.Packet(first + uint32(i))
		frames[i] = nfca.Frame{Kind: nfca.Standard, Data: p.Marshal()}
	}
	return nfca.Encode(frames, freq, 0), nil
}

// ReadStamps reads a recording of little-endian 16-bit stamps.
func ReadStamps(rd io.Reader) ([]uint16, error) {
	raw, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("nfc: recording has odd length %d", len(raw))
	}
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return out, nil
}

// WriteStamps writes stamps in the format ReadStamps expects.
func WriteStamps(w io.Writer, stamps []uint16) error {
	return binary.Write(w, binary.LittleEndian, stamps)
}
