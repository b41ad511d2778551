package psram

import (
	"errors"
	"fmt"

	"coldsign/internal/hw"
)

// Commands from the part's manual.
const (
	cmdResetEnable = 0x66
	cmdReset       = 0x99
	cmdReadID      = 0x9f
	cmdRead        = 0x03
	cmdWrite       = 0x02

	// dummy is clocked out while only the reply matters.
	dummy = 0xff
)

// Device is the memory behind a borrowed bus. A zero PageSize or Capacity
// selects the fitted part's geometry.
type Device struct {
	Bus      *hw.MemoryBus
	PageSize int
	Capacity int
}

// On returns the default-geometry device on bus.
func On(bus *hw.MemoryBus) *Device {
	return &Device{Bus: bus}
}

// Geometry is the page size and capacity of a fitted part. Zero fields
// select the defaults.
type Geometry struct {
	PageSize int
	Capacity int
}

// On returns the device of geometry g on bus.
func (g Geometry) On(bus *hw.MemoryBus) *Device {
	return &Device{Bus: bus, PageSize: g.PageSize, Capacity: g.Capacity}
}

func (d *Device) pageSize() int {
	if d.PageSize > 0 {
		return d.PageSize
	}
	return PageSize
}

func (d *Device) capacity() int {
	if d.Capacity > 0 {
		return d.Capacity
	}
	return Capacity
}

// Size is the number of addressable bytes.
func (d *Device) Size() int { return d.capacity() }

// tx runs one chip-select framed transaction.
func (d *Device) tx(w, r []byte) error {
	d.Bus.CS.Select()
	defer d.Bus.CS.Deselect()
	if err := d.Bus.Conn.Tx(w, r); err != nil {
		return fmt.Errorf("psram: transaction %#x: %w", w[0], err)
	}
	return nil
}

// Reset issues reset-enable then reset, each in its own transaction.
func (d *Device) Reset() error {
	if err := d.tx([]byte{cmdResetEnable}, nil); err != nil {
		return err
	}
	return d.tx([]byte{cmdReset}, nil)
}

// ReadID returns the manufacturer and known-good-die bytes.
func (d *Device) ReadID() ([IDLen]byte, error) {
	var id [IDLen]byte
	w := []byte{cmdReadID, dummy, dummy, dummy, dummy, dummy, dummy}
	r := make([]byte, len(w))
	if err := d.tx(w, r); err != nil {
		return id, err
	}
	copy(id[:], r[1+AddrLen:])
	return id, nil
}

func (d *Device) readSpan(a Address, out []byte) error {
	w := make([]byte, 1+AddrLen+len(out))
	w[0] = cmdRead
	copy(w[1:], a[:])
	for i := 1 + AddrLen; i < len(w); i++ {
		w[i] = dummy
	}
	r := make([]byte, len(w))
	if err := d.tx(w, r); err != nil {
		return err
	}
	copy(out, r[1+AddrLen:])
	return nil
}

func (d *Device) writeSpan(a Address, data []byte) error {
	w := make([]byte, 0, 1+AddrLen+len(data))
	w = append(w, cmdWrite)
	w = append(w, a[:]...)
	w = append(w, data...)
	return d.tx(w, nil)
}

// ReadPage reads n bytes in a single transaction. The device wraps at the
// end of the page, so reads longer than the rest of the page come back
// rotated.
func (d *Device) ReadPage(a Address, n int) ([]byte, error) {
	if n < 0 {
		return nil, &RangeError{Position: n}
	}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	return out, d.readSpan(a, out)
}

// WritePage writes data in a single transaction, wrapping inside the page.
func (d *Device) WritePage(a Address, data []byte) error {
	if err := d.Reset(); err != nil {
		return err
	}
	return d.writeSpan(a, data)
}

// ReadAt reads n consecutive bytes starting at a, crossing pages as needed.
func (d *Device) ReadAt(a Address, n int) ([]byte, error) {
	spans, err := Split(a, n, d.pageSize(), d.capacity())
	if errors.Is(err, ErrOverflow) {
		return nil, ErrReadTooLarge
	} else if err != nil {
		return nil, err
	}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	for _, s := range spans {
		if err := d.readSpan(s.Addr, out[s.Off:s.Off+s.Len]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteAt writes data to consecutive addresses starting at a.
func (d *Device) WriteAt(a Address, data []byte) error {
	spans, err := Split(a, len(data), d.pageSize(), d.capacity())
	if err != nil {
		return ErrWriteTooLarge
	}
	if err := d.Reset(); err != nil {
		return err
	}
	for _, s := range spans {
		if err := d.writeSpan(s.Addr, data[s.Off:s.Off+s.Len]); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the whole of acc.
func (d *Device) Read(acc Access) ([]byte, error) {
	return d.ReadAt(acc.Start, acc.Len)
}

// ReadSlice returns n bytes at position pos inside acc.
func (d *Device) ReadSlice(acc Access, pos, n int) ([]byte, error) {
	sub, err := acc.Sub(pos, n)
	if err != nil {
		return nil, err
	}
	return d.Read(sub)
}
