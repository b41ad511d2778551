package nfca

// idlePeriods is the silence, in bit periods, the encoder leaves between
// frames.
const idlePeriods = 8

// Encode produces the pause stamps a reader sending frames would leave in the
// capture timer, starting at tick start. A lead-in pause precedes the first
// frame and a lead-out pause follows the last one, so Decode sees every frame
// as complete.
func Encode(frames []Frame, freq int, start uint16) []uint16 {
	if freq < 2 {
		freq = DefaultFreq
	}
	half := freq / 2
	t := int(start)
	out := []uint16{uint16(t)}
	t += idlePeriods * 2 * half

	for _, f := range frames {
		slots := miller(frameBits(f))
		for i, s := range slots {
			switch s {
			case seqZ:
				out = append(out, uint16(t+2*i*half))
			case seqX:
				out = append(out, uint16(t+(2*i+1)*half))
			}
		}
		t += (len(slots) + idlePeriods) * 2 * half
	}
	return append(out, uint16(t))
}

type sequence uint8

const (
	seqX sequence = iota
	seqY
	seqZ
)

// miller codes b, adding the start Z, the end zero and the closing Y.
func miller(b []bool) []sequence {
	out := []sequence{seqZ}
	prev := false
	for _, bit := range append(b, false) {
		switch {
		case bit:
			out = append(out, seqX)
		case prev:
			out = append(out, seqY)
		default:
			out = append(out, seqZ)
		}
		prev = bit
	}
	return append(out, seqY)
}

func frameBits(f Frame) []bool {
	var b []bool
	if f.Kind == Short {
		for i := 0; i < 7; i++ {
			b = append(b, f.Data[0]&(1<<i) != 0)
		}
		return b
	}
	for _, v := range f.Data {
		for i := 0; i < 8; i++ {
			b = append(b, v&(1<<i) != 0)
		}
		b = append(b, parity(v))
	}
	return b
}
