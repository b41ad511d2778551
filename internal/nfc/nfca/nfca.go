// Package nfca recovers ISO 14443-A reader frames from the timer stamps of
// field pauses.
//
// The reader encodes bits with modified Miller coding. Each bit period has
// two halves; a pause in the second half is a one (X), a pause at the start
// is a zero (Z), and a period without pause (Y) is a zero that follows a one.
// A frame opens with Z and ends with a zero followed by Y. Only the pause
// positions reach us, as free-running 16-bit timer values.
package nfca

import (
	"errors"
	"fmt"
	"math/bits"
)

// DefaultFreq is the number of timer ticks in one bit period.
const DefaultFreq = 22

// maxGap is the longest distance, in half bits, between two pauses of the
// same frame: X, Y, X.
const maxGap = 4

// Kind tells short frames from standard ones.
type Kind uint8

const (
	// Short frames carry 7 bits and no parity.
	Short Kind = iota
	// Standard frames carry whole bytes, each followed by an odd parity bit.
	Standard
)

func (k Kind) String() string {
	switch k {
	case Short:
		return "short"
	case Standard:
		return "standard"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Frame is one reader frame. A short frame holds its 7 bits in Data[0].
type Frame struct {
	Kind Kind
	Data []byte
}

var (
	errParity = errors.New("nfca: parity error")
	errLength = errors.New("nfca: bit count fits no frame type")
)

// Decode extracts every complete frame from stamps, keeping those accepted by
// keep, which may be nil. Frames cut by either end of the window are skipped:
// decoding starts after the first idle gap and stops at the last complete
// frame.
func Decode(stamps []uint16, freq int, keep func(Frame) bool) []Frame {
	if freq < 2 {
		freq = DefaultFreq
	}
	d := decoder{half: freq / 2}
	var out []Frame
	for i := 1; i < len(stamps); i++ {
		gap := d.halves(stamps[i] - stamps[i-1])
		f, ok := d.step(gap)
		if ok && (keep == nil || keep(f)) {
			out = append(out, f)
		}
	}
	return out
}

type decoder struct {
	half   int
	synced bool
	pos    int // half-bit position of the last pause in the frame
	prev   bool
	bits   []bool
}

// halves rounds a tick distance to whole half bits.
func (d *decoder) halves(delta uint16) int {
	return (int(delta) + d.half/2) / d.half
}

// step consumes the pause that follows the previous one by gap half bits.
// It returns a frame when that pause proved the previous frame complete.
func (d *decoder) step(gap int) (Frame, bool) {
	if !d.synced {
		// The window may open mid-frame; wait for a pause that can only
		// start one.
		if gap > maxGap {
			d.synced = true
			d.open()
		}
		return Frame{}, false
	}

	at := d.pos + gap
	// Whole bit periods skipped without a pause are Y.
	for slot := d.pos/2 + 1; slot < at/2; slot++ {
		if !d.prev {
			f, ok := d.close()
			// This pause starts the next frame.
			d.open()
			return f, ok
		}
		d.push(false)
	}

	switch {
	case at/2 == d.pos/2:
		// Two pauses in one bit period.
		d.synced = false
	case at%2 == 1:
		d.push(true)
	case d.prev:
		// Z may not follow a one.
		d.synced = false
	default:
		d.push(false)
	}
	d.pos = at
	return Frame{}, false
}

func (d *decoder) open() {
	d.pos = 0
	d.prev = false
	d.bits = d.bits[:0]
}

func (d *decoder) push(b bool) {
	d.bits = append(d.bits, b)
	d.prev = b
}

// close ends the frame at a Y that follows a zero. The final zero is the
// end-of-frame marker, not data.
func (d *decoder) close() (Frame, bool) {
	if len(d.bits) == 0 {
		return Frame{}, false
	}
	f, err := assemble(d.bits[:len(d.bits)-1])
	return f, err == nil
}

func assemble(b []bool) (Frame, error) {
	if len(b) == 7 {
		return Frame{Kind: Short, Data: []byte{packBits(b)}}, nil
	}
	if len(b) == 0 || len(b)%9 != 0 {
		return Frame{}, errLength
	}
	data := make([]byte, len(b)/9)
	for i := range data {
		chunk := b[i*9 : i*9+9]
		v := packBits(chunk[:8])
		if parity(v) != chunk[8] {
			return Frame{}, errParity
		}
		data[i] = v
	}
	return Frame{Kind: Standard, Data: data}, nil
}

// packBits packs up to 8 bits, least significant first.
func packBits(b []bool) byte {
	var v byte
	for i, set := range b {
		if set {
			v |= 1 << i
		}
	}
	return v
}

// parity is the odd parity bit of v.
func parity(v byte) bool {
	return bits.OnesCount8(v)%2 == 0
}
