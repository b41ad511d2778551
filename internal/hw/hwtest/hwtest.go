// Package hwtest provides in-memory stand-ins for the peripheral block so the
// drivers can be exercised without hardware.
package hwtest

import (
	"fmt"
	"sync"

	"coldsign/internal/hw"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
)

// Record is one byte seen on the display serial line.
type Record struct {
	Command bool
	Byte    byte
}

// Serial logs every transmitted byte with the DC level latched at that time.
type Serial struct {
	DC *gpiotest.Pin
	CS *gpiotest.Pin

	// Stall makes TxReady report false for this many calls before every byte.
	Stall int
	// TxDelay makes TxDone report false for this many calls after every byte.
	TxDelay int

	Log []Record
	// Unselected counts bytes sent while chip select was released.
	Unselected int
	// Drained counts receive-register reads.
	Drained int

	stalled int
	shifting int
}

func (s *Serial) TxReady() bool {
	if s.stalled < s.Stall {
		s.stalled++
		return false
	}
	return true
}

func (s *Serial) Transmit(b byte) {
	s.stalled = 0
	s.shifting = s.TxDelay
	if s.CS.Read() != gpio.Low {
		s.Unselected++
	}
	s.Log = append(s.Log, Record{Command: s.DC.Read() == gpio.Low, Byte: b})
}

func (s *Serial) TxDone() bool {
	if s.shifting > 0 {
		s.shifting--
		return false
	}
	return true
}

func (s *Serial) Receive() byte {
	s.Drained++
	return 0
}

// Commands returns the opcodes in order of transmission.
func (s *Serial) Commands() []byte {
	var out []byte
	for _, r := range s.Log {
		if r.Command {
			out = append(out, r.Byte)
		}
	}
	return out
}

// Stream returns every byte in order of transmission.
func (s *Serial) Stream() []byte {
	out := make([]byte, len(s.Log))
	for i, r := range s.Log {
		out[i] = r.Byte
	}
	return out
}

// Reset clears the log.
func (s *Serial) Reset() {
	s.Log = nil
	s.Unselected = 0
	s.Drained = 0
}

// Memory emulates a paged serial RAM behind a spi.Conn. Each Tx call is one
// chip-select framed transaction. Sequential access wraps inside a page.
type Memory struct {
	mu       sync.Mutex
	PageSize int
	Data     []byte
	ID       [3]byte
	// Resets counts reset-enable followed by reset.
	Resets int
	// Crossings counts transactions that wrapped past the end of a page.
	Crossings int

	armed bool
}

// NewMemory returns a blank memory of the given geometry.
func NewMemory(pageSize, capacity int) *Memory {
	return &Memory{PageSize: pageSize, Data: make([]byte, capacity), ID: [3]byte{0x0d, 0x5d, 0x52}}
}

func (m *Memory) String() string      { return "hwtest.Memory" }
func (m *Memory) Halt() error         { return nil }
func (m *Memory) Duplex() conn.Duplex { return conn.Full }

func (m *Memory) TxPackets(p []spi.Packet) error {
	for _, pk := range p {
		if err := m.Tx(pk.W, pk.R); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(w) == 0 {
		return nil
	}
	cmd := w[0]
	switch cmd {
	case 0x66:
		m.armed = true
		return nil
	case 0x99:
		if m.armed {
			m.Resets++
		}
		m.armed = false
		return nil
	}
	m.armed = false
	if cmd == 0x9f {
		if len(r) >= 4+len(m.ID) {
			copy(r[4:], m.ID[:])
		}
		return nil
	}
	if len(w) < 4 {
		return fmt.Errorf("hwtest: short transaction for command %#x", cmd)
	}
	addr := int(w[1])<<16 | int(w[2])<<8 | int(w[3])
	if addr >= len(m.Data) {
		return fmt.Errorf("hwtest: address %#x out of range", addr)
	}
	switch cmd {
	case 0x03:
		m.walk(addr, len(w)-4, func(i, at int) { r[4+i] = m.Data[at] })
	case 0x02:
		m.walk(addr, len(w)-4, func(i, at int) { m.Data[at] = w[4+i] })
	default:
		return fmt.Errorf("hwtest: unknown command %#x", cmd)
	}
	return nil
}

func (m *Memory) walk(addr, n int, f func(i, at int)) {
	base := addr - addr%m.PageSize
	off := addr % m.PageSize
	for i := 0; i < n; i++ {
		if off == m.PageSize {
			off = 0
			m.Crossings++
		}
		f(i, base+off)
		off++
	}
}

// DMA counts relinks and masks.
type DMA struct {
	mu      sync.Mutex
	Relinks int
	Masked  bool
}

func (d *DMA) Relink() {
	d.mu.Lock()
	d.Relinks++
	d.mu.Unlock()
}

func (d *DMA) Mask() {
	d.mu.Lock()
	d.Masked = true
	d.mu.Unlock()
}

// Bench is a complete fake peripheral block.
type Bench struct {
	Serial *Serial
	Memory *Memory
	DMA    *DMA

	DisplayCS *gpiotest.Pin
	MemoryCS  *gpiotest.Pin
	DC        *gpiotest.Pin
	RST       *gpiotest.Pin
	Busy      *gpiotest.Pin

	Peripherals *hw.Peripherals
	Handle      *hw.Handle
}

// NewBench wires fakes together. The memory is 8 MiB with 1 KiB pages.
func NewBench() *Bench {
	b := &Bench{
		DisplayCS: &gpiotest.Pin{N: "DISPLAY_CS", L: gpio.High},
		MemoryCS:  &gpiotest.Pin{N: "MEMORY_CS", L: gpio.High},
		DC:        &gpiotest.Pin{N: "DC", L: gpio.Low},
		RST:       &gpiotest.Pin{N: "RST", L: gpio.High},
		Busy:      &gpiotest.Pin{N: "BUSY", L: gpio.Low},
		Memory:    NewMemory(1024, 1<<23),
		DMA:       &DMA{},
	}
	b.Serial = &Serial{DC: b.DC, CS: b.DisplayCS}

	var group hw.CSGroup
	b.Peripherals = &hw.Peripherals{
		Display: &hw.DisplayPort{
			Serial: b.Serial,
			CS:     group.Add("display", b.DisplayCS),
			DC:     b.DC,
			RST:    b.RST,
			Busy:   b.Busy,
		},
		Memory: &hw.MemoryBus{
			Conn: b.Memory,
			CS:   group.Add("memory", b.MemoryCS),
		},
		DMA: b.DMA,
	}
	b.Handle = hw.NewHandle(b.Peripherals)
	return b
}

// SetBusy drives the fake BUSY line.
func (b *Bench) SetBusy(busy bool) {
	if busy {
		_ = b.Busy.Out(gpio.High)
	} else {
		_ = b.Busy.Out(gpio.Low)
	}
}
