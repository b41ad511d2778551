// Package hw models the peripheral block shared by the display, the external
// memory and the NFC capture path, and the borrow discipline used to reach it.
//
// The poll loop only touches peripherals through Handle.InFree or IfInFree;
// the DMA-completion goroutine uses Handle.Interrupt. Both run under the same
// mutex, which plays the part of masking the competing interrupt.
package hw

import (
	"errors"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// ErrBorrowed is reported when the peripherals are requested while the poll
// loop already holds them. Seeing it means the scheduling contract is broken.
var ErrBorrowed = errors.New("hw: peripherals already borrowed")

// Serial is the register view of a synchronous serial port: TXBL, TXDATA,
// TXC and RXDATA. Every transmitted byte clocks one byte back in, which has
// to be drained before chip select may be released.
type Serial interface {
	// TxReady reports that the transmit buffer can accept a byte.
	TxReady() bool
	// Transmit loads one byte into the transmit buffer.
	Transmit(b byte)
	// TxDone reports that the shift register is empty.
	TxDone() bool
	// Receive drains one byte from the receive buffer.
	Receive() byte
}

// Linker re-arms the capture DMA and masks its completion interrupt.
type Linker interface {
	Relink()
	Mask()
}

// DisplayPort groups the lines wired to the e-paper controller.
type DisplayPort struct {
	Serial Serial
	CS     *ChipSelect
	DC     gpio.PinOut
	RST    gpio.PinOut
	Busy   gpio.PinIn
}

// SelectCommand drives DC low so the next byte is latched as an opcode.
func (d *DisplayPort) SelectCommand() { _ = d.DC.Out(gpio.Low) }

// SelectData drives DC high so the next byte is latched as a parameter.
func (d *DisplayPort) SelectData() { _ = d.DC.Out(gpio.High) }

// IsBusy reads the controller BUSY line. High means busy.
func (d *DisplayPort) IsBusy() bool { return d.Busy.Read() == gpio.High }

// ResetLow and ResetHigh drive the controller reset line.
func (d *DisplayPort) ResetLow()  { _ = d.RST.Out(gpio.Low) }
func (d *DisplayPort) ResetHigh() { _ = d.RST.Out(gpio.High) }

// MemoryBus is the external paged memory: a SPI connection plus its select.
type MemoryBus struct {
	Conn spi.Conn
	CS   *ChipSelect
}

// Peripherals is everything the drivers may touch.
type Peripherals struct {
	Display *DisplayPort
	Memory  *MemoryBus
	DMA     Linker
}

// Handle hands out Peripherals to one owner at a time.
type Handle struct {
	mu       sync.Mutex
	borrowed atomic.Bool
	p        *Peripherals
}

// NewHandle wraps p. The handle owns p from now on.
func NewHandle(p *Peripherals) *Handle {
	return &Handle{p: p}
}

// InFree runs f with exclusive access to the peripherals. Re-entering from
// inside f is fatal.
func (h *Handle) InFree(f func(p *Peripherals)) {
	if _, err := IfInFree(h, func(p *Peripherals) struct{} {
		f(p)
		return struct{}{}
	}); err != nil {
		panic(err)
	}
}

// IfInFree runs f with exclusive access, or returns ErrBorrowed when the poll
// loop is already inside a critical section.
func IfInFree[T any](h *Handle, f func(p *Peripherals) T) (T, error) {
	var zero T
	if !h.borrowed.CompareAndSwap(false, true) {
		return zero, ErrBorrowed
	}
	defer h.borrowed.Store(false)
	h.mu.Lock()
	defer h.mu.Unlock()
	return f(h.p), nil
}

// Interrupt runs f from interrupt context. It waits for the poll loop to leave
// its critical section, as a masked interrupt would stay pending.
func (h *Handle) Interrupt(f func(p *Peripherals)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f(h.p)
}
