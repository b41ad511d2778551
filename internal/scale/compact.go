// Package scale frames the variable-length fields of the wire payloads with
// SCALE compact integers. The integer codec itself is go-substrate-rpc-client's;
// this package adds the canonical-form checks and the byte-string helpers the
// payload parsers need, over slices and over any io.Reader.
package scale

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"

	codec "github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

var (
	// ErrShort is returned when the input ends inside a compact.
	ErrShort = errors.New("scale: input too short for compact")
	// ErrNonCanonical is returned for a compact that could be written shorter.
	ErrNonCanonical = errors.New("scale: non-canonical compact")
	// ErrTooBig is returned when a compact does not fit into 64 bits.
	ErrTooBig = errors.New("scale: compact exceeds 64 bits")
)

// CompactLen returns the encoded size implied by the first byte of a compact.
func CompactLen(first byte) int {
	switch first & 3 {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	default:
		return int(first>>2) + 5
	}
}

// countingReader remembers how much was read and the first read error. The
// codec drops the error of its first byte read, so an empty input shows up
// here as zero bytes read.
type countingReader struct {
	r   io.Reader
	n   int
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

// ReadCompact decodes one compact from r and returns the value and the
// number of bytes consumed. r is read exactly as far as the compact goes.
func ReadCompact(r io.Reader) (uint64, int, error) {
	cr := &countingReader{r: r}
	v, err := codec.NewDecoder(cr).DecodeUintCompact()
	if cr.n == 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrShort, cr.err)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrShort, err)
	}
	if v.BitLen() > 64 {
		return 0, 0, ErrTooBig
	}
	if encodedLen(v.Uint64()) != cr.n {
		return 0, 0, ErrNonCanonical
	}
	return v.Uint64(), cr.n, nil
}

// encodedLen is the canonical size of v.
func encodedLen(v uint64) int {
	switch {
	case v < 1<<6:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<30:
		return 4
	}
	n := 8
	for n > 4 && v>>(8*(n-1)) == 0 {
		n--
	}
	return n + 1
}

// DecodeCompact decodes the compact at the start of b and returns the value and
// the number of bytes consumed.
func DecodeCompact(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrShort
	}
	return ReadCompact(bytes.NewReader(b))
}

// DecodeCompact32 is DecodeCompact restricted to values that fit in 32 bits.
func DecodeCompact32(b []byte) (uint32, int, error) {
	v, n, err := DecodeCompact(b)
	if err != nil {
		return 0, 0, err
	}
	if v > 1<<32-1 {
		return 0, 0, fmt.Errorf("scale: compact %d overflows u32", v)
	}
	return uint32(v), n, nil
}

// AppendCompact appends the canonical encoding of v to b.
func AppendCompact(b []byte, v uint64) []byte {
	buf := bytes.NewBuffer(b)
	// A bytes.Buffer does not fail and every uint64 is in range.
	_ = codec.NewEncoder(buf).EncodeUintCompact(*new(big.Int).SetUint64(v))
	return buf.Bytes()
}

// AppendBytes appends b as a compact-prefixed byte string.
func AppendBytes(dst, b []byte) []byte {
	dst = AppendCompact(dst, uint64(len(b)))
	return append(dst, b...)
}

// DecodeBytes reads a compact-prefixed byte string from the start of b.
// The returned slice aliases b.
func DecodeBytes(b []byte) ([]byte, int, error) {
	l, n, err := DecodeCompact(b)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(b)-n) < l {
		return nil, 0, fmt.Errorf("scale: byte string of %d bytes, %d available: %w", l, len(b)-n, ErrShort)
	}
	end := n + int(l)
	return b[n:end], end, nil
}
