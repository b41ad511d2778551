// Package fountain is a Luby transform code. A message is cut into fixed-size
// symbols; every packet carries the XOR of a pseudo-random set of them, chosen
// by the packet id alone. Any sufficiently large set of distinct packets, in
// any order, rebuilds the message.
package fountain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	// SymbolSize is the payload carried by one packet.
	SymbolSize = 32
	headerSize = 8
	// PacketSize is the wire size of a packet.
	PacketSize = headerSize + SymbolSize
)

// ErrPacketSize is returned by ParsePacket for input of the wrong length.
var ErrPacketSize = errors.New("fountain: wrong packet size")

// Packet is one encoded symbol. On the wire: message length and id as
// big-endian uint32, then the data.
type Packet struct {
	MsgLen uint32
	ID     uint32
	Data   [SymbolSize]byte
}

// ParsePacket decodes exactly PacketSize bytes.
func ParsePacket(b []byte) (Packet, error) {
	var p Packet
	if len(b) != PacketSize {
		return p, fmt.Errorf("%w: %d bytes", ErrPacketSize, len(b))
	}
	p.MsgLen = binary.BigEndian.Uint32(b)
	p.ID = binary.BigEndian.Uint32(b[4:])
	copy(p.Data[:], b[headerSize:])
	return p, nil
}

// Marshal returns the wire form of p.
func (p Packet) Marshal() []byte {
	b := make([]byte, 0, PacketSize)
	b = binary.BigEndian.AppendUint32(b, p.MsgLen)
	b = binary.BigEndian.AppendUint32(b, p.ID)
	return append(b, p.Data[:]...)
}

func symbolCount(msgLen uint32) int {
	return int((uint64(msgLen) + SymbolSize - 1) / SymbolSize)
}

// Robust soliton parameters.
const (
	solitonC     = 0.1
	solitonDelta = 0.5
)

// distribution draws symbol sets for a message of k symbols.
type distribution struct {
	k   int
	cdf []float64 // cdf[i] is P(degree <= i+1)
}

func newDistribution(k int) *distribution {
	kf := float64(k)
	mu := make([]float64, k+1)

	// Ideal soliton.
	mu[1] = 1 / kf
	for d := 2; d <= k; d++ {
		mu[d] = 1 / float64(d*(d-1))
	}

	// Robust part: extra weight on low degrees and a spike at k/r.
	r := solitonC * math.Log(kf/solitonDelta) * math.Sqrt(kf)
	if r > 0 {
		if pivot := int(kf / r); pivot >= 1 && pivot <= k {
			for d := 1; d < pivot; d++ {
				mu[d] += r / (float64(d) * kf)
			}
			if spike := r * math.Log(r/solitonDelta) / kf; spike > 0 {
				mu[pivot] += spike
			}
		}
	}

	var total float64
	for _, p := range mu[1:] {
		total += p
	}
	cdf := make([]float64, k)
	var acc float64
	for d := 1; d <= k; d++ {
		acc += mu[d] / total
		cdf[d-1] = acc
	}
	cdf[k-1] = 1
	return &distribution{k: k, cdf: cdf}
}

// neighbours returns the distinct symbol indices XORed into packet id.
func (d *distribution) neighbours(id uint32) []int {
	rng := rand.New(rand.NewSource(int64(id)))
	deg := sort.SearchFloat64s(d.cdf, rng.Float64()) + 1
	if deg > d.k {
		deg = d.k
	}
	if 2*deg > d.k {
		return rng.Perm(d.k)[:deg]
	}
	picked := make(map[int]bool, deg)
	out := make([]int, 0, deg)
	for len(out) < deg {
		s := rng.Intn(d.k)
		if !picked[s] {
			picked[s] = true
			out = append(out, s)
		}
	}
	return out
}

func xorInto(dst *[SymbolSize]byte, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
