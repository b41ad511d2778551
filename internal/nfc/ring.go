// Package nfc turns captured NFC field edges into a reassembled payload and
// interprets it.
//
// Capture is continuous: a DMA engine fills one third of a sample buffer
// while the poll loop decodes another. The Ring keeps the two apart and
// stalls the writer, rather than dropping data, when the reader falls behind.
package nfc

import (
	"errors"
	"fmt"
	"sync"

	"coldsign/internal/hw"
)

var (
	// ErrUnexpectedTransferDone means a transfer completed while the writer
	// was halted.
	ErrUnexpectedTransferDone = errors.New("nfc: transfer completed while writer halted")
	// ErrUnexpectedReadDone means a read was released with nothing to read.
	ErrUnexpectedReadDone = errors.New("nfc: read released with no readable region")
)

// Region is one third of the capture buffer.
type Region uint8

// BufferStatus names the region being read (R0..R2, or h when none is
// readable) and the region being written (W0..W2, or h when the writer is
// halted).
type BufferStatus uint8

const (
	RhW0 BufferStatus = iota
	RhW1
	RhW2
	R0W1
	R0Wh
	R1W2
	R1Wh
	R2W0
	R2Wh
)

var statusNames = [...]string{"RhW0", "RhW1", "RhW2", "R0W1", "R0Wh", "R1W2", "R1Wh", "R2W0", "R2Wh"}

func (s BufferStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("BufferStatus(%d)", uint8(s))
}

// PassIfDone7 records a completed transfer. The finished region becomes
// readable if nothing else is; otherwise the writer halts.
func (s *BufferStatus) PassIfDone7() error {
	switch *s {
	case R0W1:
		*s = R0Wh
	case R1W2:
		*s = R1Wh
	case R2W0:
		*s = R2Wh
	case RhW0:
		*s = R0W1
	case RhW1:
		*s = R1W2
	case RhW2:
		*s = R2W0
	default:
		return fmt.Errorf("%w: %v", ErrUnexpectedTransferDone, *s)
	}
	return nil
}

// PassReadDone records that the readable region has been consumed.
func (s *BufferStatus) PassReadDone() error {
	switch *s {
	case R0W1:
		*s = RhW1
	case R0Wh:
		*s = R1W2
	case R1W2:
		*s = RhW2
	case R1Wh:
		*s = R2W0
	case R2W0:
		*s = RhW0
	case R2Wh:
		*s = R0W1
	default:
		return fmt.Errorf("%w: %v", ErrUnexpectedReadDone, *s)
	}
	return nil
}

// ReadFrom returns the readable region, if any.
func (s BufferStatus) ReadFrom() (Region, bool) {
	switch s {
	case R0W1, R0Wh:
		return 0, true
	case R1W2, R1Wh:
		return 1, true
	case R2W0, R2Wh:
		return 2, true
	}
	return 0, false
}

// WriteTo returns the region being written, if the writer runs.
func (s BufferStatus) WriteTo() (Region, bool) {
	switch s {
	case RhW0, R2W0:
		return 0, true
	case RhW1, R0W1:
		return 1, true
	case RhW2, R1W2:
		return 2, true
	}
	return 0, false
}

// IsWriteHalted reports whether the DMA is waiting for the reader.
func (s BufferStatus) IsWriteHalted() bool {
	return s == R0Wh || s == R1Wh || s == R2Wh
}

// CaptureBuffer is the DMA target: three equal regions of timer stamps.
type CaptureBuffer struct {
	samples   []uint16
	regionLen int
}

// NewCaptureBuffer allocates 3×regionLen stamps.
func NewCaptureBuffer(regionLen int) *CaptureBuffer {
	return &CaptureBuffer{samples: make([]uint16, 3*regionLen), regionLen: regionLen}
}

// Region returns the stamps of r. The slice aliases the buffer.
func (b *CaptureBuffer) Region(r Region) []uint16 {
	off := int(r) * b.regionLen
	return b.samples[off : off+b.regionLen]
}

// RegionLen is the number of stamps per region.
func (b *CaptureBuffer) RegionLen() int { return b.regionLen }

// Ring shares a BufferStatus between the completion interrupt and the poll
// loop.
type Ring struct {
	mu     sync.Mutex
	status BufferStatus
	Buffer *CaptureBuffer
}

// NewRing starts with region 0 being written and nothing to read.
func NewRing(regionLen int) *Ring {
	return &Ring{status: RhW0, Buffer: NewCaptureBuffer(regionLen)}
}

// Status returns a snapshot of the status.
func (r *Ring) Status() BufferStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ReadRegion returns the stamps that may be read now.
func (r *Ring) ReadRegion() ([]uint16, bool) {
	reg, ok := r.Status().ReadFrom()
	if !ok {
		return nil, false
	}
	return r.Buffer.Region(reg), true
}

// WriteRegion returns the stamps the DMA fills next.
func (r *Ring) WriteRegion() ([]uint16, bool) {
	reg, ok := r.Status().WriteTo()
	if !ok {
		return nil, false
	}
	return r.Buffer.Region(reg), true
}

// TransferComplete is the completion interrupt. The link is re-armed unless
// the writer had to halt.
func (r *Ring) TransferComplete(dma hw.Linker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.status.PassIfDone7(); err != nil {
		return err
	}
	if !r.status.IsWriteHalted() {
		dma.Relink()
	}
	return nil
}

// ReadDone releases the readable region. If that frees a halted writer the
// link is re-armed at once.
func (r *Ring) ReadDone(dma hw.Linker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	halted := r.status.IsWriteHalted()
	if err := r.status.PassReadDone(); err != nil {
		return err
	}
	if halted && !r.status.IsWriteHalted() {
		dma.Relink()
	}
	return nil
}
