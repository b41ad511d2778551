// Package psram drives the external paged RAM and keeps the address
// arithmetic for transfers that straddle its pages.
//
// The device wraps its internal address counter at the end of every page, so
// a logical transfer is cut into page-bounded transactions. Everything that
// talks to the bus takes a *hw.MemoryBus and must be called from inside a
// peripherals critical section.
package psram

import (
	"errors"
	"fmt"
)

// Geometry of the fitted part.
const (
	PageSize = 1024
	Capacity = 1 << 23

	// AddrLen is the size of a bus address.
	AddrLen = 3
	// IDLen is the size of the read-id reply.
	IDLen = 3

	// maxAddr is the highest address accepted by NewAddress.
	maxAddr = Capacity - 1
)

var (
	// ErrOverflow is returned when an address would leave the device.
	ErrOverflow = errors.New("psram: attempted to address memory that does not exist")
	// ErrReadTooLarge is returned when a read runs past the end of the device.
	ErrReadTooLarge = errors.New("psram: read exceeds available memory")
	// ErrWriteTooLarge is returned when a write runs past the end of the device.
	ErrWriteTooLarge = errors.New("psram: write exceeds available memory")
)

// TypeInfoDamagedError reports a registry entry whose stored bytes do not
// decode.
type TypeInfoDamagedError struct {
	ID uint32
}

func (e *TypeInfoDamagedError) Error() string {
	return fmt.Sprintf("psram: type information for type id %d in metadata is damaged", e.ID)
}

// Address is a bounded 3-byte big-endian device address.
type Address [AddrLen]byte

// NewAddress validates n as a device address.
func NewAddress(n uint32) (Address, error) {
	if n > maxAddr {
		return Address{}, ErrOverflow
	}
	return Address{byte(n >> 16), byte(n >> 8), byte(n)}, nil
}

// MustAddress is NewAddress for constants known to be in range.
func MustAddress(n uint32) Address {
	a, err := NewAddress(n)
	if err != nil {
		panic(err)
	}
	return a
}

// Uint32 returns the address as a number.
func (a Address) Uint32() uint32 {
	return uint32(a[0])<<16 | uint32(a[1])<<8 | uint32(a[2])
}

// Shift returns a+n, or ErrOverflow instead of wrapping.
func (a Address) Shift(n int) (Address, error) {
	if n < 0 || uint64(a.Uint32())+uint64(n) > maxAddr {
		return Address{}, ErrOverflow
	}
	return NewAddress(a.Uint32() + uint32(n))
}

func (a Address) String() string {
	return fmt.Sprintf("0x%06x", a.Uint32())
}

// Access is a logical byte range in the device.
type Access struct {
	Start Address
	Len   int
}

// RangeError reports a slice request outside an Access.
type RangeError struct {
	// Position is where the request started, or the available length when
	// Short is set.
	Position int
	// Missing is how many bytes the request lacked.
	Missing int
	// Short distinguishes "data too short" from "out of range".
	Short bool
}

func (e *RangeError) Error() string {
	if e.Short {
		return fmt.Sprintf("psram: data too short, %d bytes available, %d more needed", e.Position, e.Missing)
	}
	return fmt.Sprintf("psram: position %d out of range", e.Position)
}

// Limit returns the same range cut to n bytes.
func (a Access) Limit(n int) (Access, error) {
	if n < 0 {
		return Access{}, &RangeError{Position: n}
	}
	if n > a.Len {
		return Access{}, &RangeError{Position: 0, Missing: n, Short: true}
	}
	return Access{Start: a.Start, Len: n}, nil
}

// Sub returns the n bytes at position pos of a.
func (a Access) Sub(pos, n int) (Access, error) {
	if pos < 0 || n < 0 || pos > a.Len {
		return Access{}, &RangeError{Position: pos}
	}
	if pos+n > a.Len {
		return Access{}, &RangeError{Position: a.Len, Missing: pos + n - a.Len, Short: true}
	}
	start, err := a.Start.Shift(pos)
	if err != nil {
		return Access{}, err
	}
	return Access{Start: start, Len: n}, nil
}

// Span is one page-bounded transaction.
type Span struct {
	Addr Address
	// Off is the span's offset in the logical transfer.
	Off int
	Len int
}

// Split cuts a transfer of n bytes at start into page-bounded spans: the rest
// of the first page, whole pages, then the tail. Empty spans are omitted.
func Split(start Address, n, pageSize, capacity int) ([]Span, error) {
	if n < 0 {
		return nil, &RangeError{Position: n}
	}
	s := int(start.Uint32())
	if s+n > capacity {
		return nil, ErrOverflow
	}
	var spans []Span
	off := 0
	for off < n {
		at := s + off
		l := pageSize - at%pageSize
		if l > n-off {
			l = n - off
		}
		addr, err := NewAddress(uint32(at))
		if err != nil {
			return nil, err
		}
		spans = append(spans, Span{Addr: addr, Off: off, Len: l})
		off += l
	}
	return spans, nil
}
