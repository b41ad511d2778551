package psram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"coldsign/internal/scale"
)

// ErrMetadataFormat is returned when stored metadata does not parse.
var ErrMetadataFormat = errors.New("psram: received metadata has invalid format")

// TypeNotResolvedError reports an id absent from a Registry.
type TypeNotResolvedError struct {
	ID uint32
}

func (e *TypeNotResolvedError) Error() string {
	return fmt.Sprintf("psram: type id %d not resolved", e.ID)
}

// accessReader streams acc from the device, fetching only what each Read
// asks for.
type accessReader struct {
	d   *Device
	acc Access
	pos int
}

func (r *accessReader) Read(p []byte) (int, error) {
	left := r.acc.Len - r.pos
	if left <= 0 {
		return 0, io.EOF
	}
	if len(p) > left {
		p = p[:left]
	}
	b, err := r.d.ReadSlice(r.acc, r.pos, len(p))
	if err != nil {
		return 0, err
	}
	r.pos += copy(p, b)
	return len(b), nil
}

// Reader returns an io.Reader over acc starting at pos.
func (d *Device) Reader(acc Access, pos int) io.Reader {
	return &accessReader{d: d, acc: acc, pos: pos}
}

// FindCompact decodes the compact at pos inside acc, reading only as many
// bytes as its first byte announces. It returns the value and the position
// right after it.
func (d *Device) FindCompact(acc Access, pos int) (uint32, int, error) {
	if pos >= acc.Len {
		return 0, 0, &RangeError{Position: acc.Len, Missing: 1, Short: true}
	}
	v, n, err := scale.ReadCompact(d.Reader(acc, pos))
	if err != nil {
		return 0, 0, err
	}
	if v > 1<<32-1 {
		return 0, 0, fmt.Errorf("psram: compact %d overflows u32", v)
	}
	return uint32(v), pos + n, nil
}

// skipBytes steps over a compact-prefixed byte string at pos.
func (d *Device) skipBytes(acc Access, pos int) (int, error) {
	l, next, err := d.FindCompact(acc, pos)
	if err != nil {
		return 0, err
	}
	if next+int(l) > acc.Len {
		return 0, &RangeError{Position: acc.Len, Missing: next + int(l) - acc.Len, Short: true}
	}
	return next + int(l), nil
}

// TypeInfo is one resolved registry entry.
type TypeInfo struct {
	ID   uint32
	Path string
	Def  []byte
}

func appendType(b []byte, t TypeInfo) []byte {
	b = scale.AppendBytes(b, []byte(t.Path))
	return scale.AppendBytes(b, t.Def)
}

func decodeType(id uint32, b []byte) (*TypeInfo, error) {
	path, n, err := scale.DecodeBytes(b)
	if err != nil {
		return nil, &TypeInfoDamagedError{ID: id}
	}
	def, m, err := scale.DecodeBytes(b[n:])
	if err != nil || n+m != len(b) {
		return nil, &TypeInfoDamagedError{ID: id}
	}
	return &TypeInfo{ID: id, Path: string(path), Def: append([]byte(nil), def...)}, nil
}

// Entry locates one encoded type inside the registry's memory.
type Entry struct {
	ID       uint32
	Position int
	Len      int
}

// Registry is a type registry left in external memory. Only the entry
// index is held; types are read back when resolved.
type Registry struct {
	Start   Address
	Entries []Entry
}

// Resolve reads and decodes the type with the given id.
func (r *Registry) Resolve(d *Device, id uint32) (*TypeInfo, error) {
	for _, e := range r.Entries {
		if e.ID != id {
			continue
		}
		at, err := r.Start.Shift(e.Position)
		if err != nil {
			return nil, err
		}
		raw, err := d.ReadAt(at, e.Len)
		if err != nil {
			return nil, err
		}
		return decodeType(id, raw)
	}
	return nil, &TypeNotResolvedError{ID: id}
}

// ShortSpecs are the network parameters needed to render amounts.
type ShortSpecs struct {
	Base58Prefix uint16
	Decimals     uint8
	Unit         string
}

// CheckedMetadata is network metadata whose type registry stays in external
// memory.
type CheckedMetadata struct {
	Types        Registry
	CallTy       uint32
	SpecName     string
	SpecVersion  uint32
	Base58Prefix uint16
	Decimals     uint8
	Unit         string
}

// Specs returns the short network specs.
func (m *CheckedMetadata) Specs() ShortSpecs {
	return ShortSpecs{Base58Prefix: m.Base58Prefix, Decimals: m.Decimals, Unit: m.Unit}
}

// ReadCheckedMetadata indexes the metadata stored in acc: a compact count of
// types, each a compact id followed by the encoded type, then the tail with
// call type, spec name and version, and the short specs.
func ReadCheckedMetadata(d *Device, acc Access) (*CheckedMetadata, error) {
	count, pos, err := d.FindCompact(acc, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: type count: %v", ErrMetadataFormat, err)
	}
	if int(count) > acc.Len {
		return nil, fmt.Errorf("%w: %d types in %d bytes", ErrMetadataFormat, count, acc.Len)
	}
	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		id, next, err := d.FindCompact(acc, pos)
		if err != nil {
			return nil, fmt.Errorf("%w: type %d id: %v", ErrMetadataFormat, i, err)
		}
		end, err := d.skipBytes(acc, next)
		if err == nil {
			end, err = d.skipBytes(acc, end)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: type %d: %v", ErrMetadataFormat, id, err)
		}
		entries = append(entries, Entry{ID: id, Position: next, Len: end - next})
		pos = end
	}

	tail, err := d.ReadSlice(acc, pos, acc.Len-pos)
	if err != nil {
		return nil, fmt.Errorf("%w: tail: %v", ErrMetadataFormat, err)
	}
	m := &CheckedMetadata{Types: Registry{Start: acc.Start, Entries: entries}}
	if err := m.decodeTail(tail); err != nil {
		return nil, fmt.Errorf("%w: tail: %v", ErrMetadataFormat, err)
	}
	return m, nil
}

func (m *CheckedMetadata) decodeTail(b []byte) error {
	callTy, n, err := scale.DecodeCompact32(b)
	if err != nil {
		return err
	}
	b = b[n:]
	name, n, err := scale.DecodeBytes(b)
	if err != nil {
		return err
	}
	b = b[n:]
	if len(b) < 4+2+1 {
		return scale.ErrShort
	}
	m.SpecVersion = binary.LittleEndian.Uint32(b)
	m.Base58Prefix = binary.LittleEndian.Uint16(b[4:])
	m.Decimals = b[6]
	unit, n, err := scale.DecodeBytes(b[7:])
	if err != nil {
		return err
	}
	if 7+n != len(b) {
		return fmt.Errorf("%d trailing bytes", len(b)-7-n)
	}
	m.CallTy = callTy
	m.SpecName = string(name)
	m.Unit = string(unit)
	return nil
}

// AppendMetadata encodes types and the tail fields of m in the layout read
// by ReadCheckedMetadata. m.Types is ignored.
func AppendMetadata(b []byte, types []TypeInfo, m *CheckedMetadata) []byte {
	b = scale.AppendCompact(b, uint64(len(types)))
	for _, t := range types {
		b = scale.AppendCompact(b, uint64(t.ID))
		b = appendType(b, t)
	}
	b = scale.AppendCompact(b, uint64(m.CallTy))
	b = scale.AppendBytes(b, []byte(m.SpecName))
	b = binary.LittleEndian.AppendUint32(b, m.SpecVersion)
	b = binary.LittleEndian.AppendUint16(b, m.Base58Prefix)
	b = append(b, m.Decimals)
	return scale.AppendBytes(b, []byte(m.Unit))
}
