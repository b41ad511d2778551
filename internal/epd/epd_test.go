package epd

import (
	"context"
	"image"
	"testing"
	"time"

	"coldsign/internal/hw/hwtest"
	"coldsign/internal/op"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

// drive advances m until it finishes and returns the number of calls.
func drive(t *testing.T, m op.Operation[Input, bool], in Input) int {
	t.Helper()
	for i := 1; i <= 100000; i++ {
		if m.Advance(in) {
			return i
		}
	}
	t.Fatal("operation did not finish")
	return 0
}

func testFrame() []byte {
	frame := make([]byte, BufSize)
	for i := range frame {
		frame[i] = byte(i * 7)
	}
	return frame
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var updateFullBytes = []byte{0x21, 0x40, 0x00, 0x18, 0x80, 0x22, 0xf7, 0x20}

func TestFullDrawSequence(t *testing.T) {
	b := hwtest.NewBench()
	frame := testFrame()
	in := Input{Handle: b.Handle, Image: frame}

	drive(t, NewSequence(FullDraw), in)

	want := cat([]byte{0x4e, 0x00, 0x4f, 0x07, 0x24}, frame, updateFullBytes)
	require.Equal(t, want, b.Serial.Stream())
	require.Equal(t, []byte{0x4e, 0x4f, 0x24, 0x21, 0x18, 0x22, 0x20}, b.Serial.Commands())
	require.Zero(t, b.Serial.Unselected)
	require.Equal(t, gpio.High, b.DisplayCS.Read())
	// One drain per transfer: 7 commands, 5 parameter runs, one frame.
	require.Equal(t, 13, b.Serial.Drained)
}

func TestTransferWaitsForTransmitter(t *testing.T) {
	b := hwtest.NewBench()
	b.Serial.Stall = 3
	in := Input{Handle: b.Handle}

	calls := drive(t, DataBytes(1, 2), in)
	require.Equal(t, []byte{1, 2}, b.Serial.Stream())
	// Three stalls per byte, one issue per byte, one drain.
	require.Equal(t, 9, calls)
	require.False(t, b.Serial.Log[0].Command)
}

func TestTransferWaitsForShiftRegister(t *testing.T) {
	b := hwtest.NewBench()
	b.Serial.TxDelay = 4
	in := Input{Handle: b.Handle}
	tr := DataBytes(1, 2)

	// One call per byte issued.
	require.False(t, tr.Advance(in))
	require.False(t, tr.Advance(in))
	require.Equal(t, []byte{1, 2}, b.Serial.Stream())

	for i := 0; i < 4; i++ {
		require.False(t, tr.Advance(in))
		require.Equal(t, gpio.Low, b.DisplayCS.Read(), "released while shifting")
		require.Zero(t, b.Serial.Drained)
	}
	require.True(t, tr.Advance(in))
	require.Equal(t, 1, b.Serial.Drained)
	require.Equal(t, gpio.High, b.DisplayCS.Read())
}

func TestFastDrawGatesOnBusy(t *testing.T) {
	b := hwtest.NewBench()
	frame := testFrame()
	in := Input{Handle: b.Handle, Image: frame}
	seq := NewSequence(FastDraw)

	b.SetBusy(true)
	for i := 0; i < 50; i++ {
		require.False(t, seq.Advance(in))
	}
	require.Equal(t, []byte{0x4e, 0x00, 0x4f, 0x07}, b.Serial.Stream())

	b.SetBusy(false)
	drive(t, seq, in)
	want := cat(
		[]byte{0x4e, 0x00, 0x4f, 0x07, 0x24}, frame,
		[]byte{0x18, 0x80, 0x1a, 0x64, 0x00, 0x22, 0x91, 0x20},
		[]byte{0x21, 0x40, 0x00, 0x22, 0xc7, 0x20},
	)
	require.Equal(t, want, b.Serial.Stream())
}

func TestResetPulse(t *testing.T) {
	b := hwtest.NewBench()
	in := Input{Handle: b.Handle}
	seq := NewSequence(Reset)

	require.False(t, seq.Advance(in))
	require.Equal(t, gpio.Low, b.RST.Read())
	for i := 0; i < op.DefaultDelay; i++ {
		require.False(t, seq.Advance(in))
	}
	require.False(t, seq.Advance(in))
	require.Equal(t, gpio.High, b.RST.Read())

	calls := drive(t, seq, in)
	require.Equal(t, gpio.Low, b.RST.Read())
	require.Equal(t, gpio.High, b.DisplayCS.Read())
	require.Equal(t, 2*op.DefaultDelay+2, calls)
	require.Empty(t, b.Serial.Log)
}

func TestRequestWakesThenDraws(t *testing.T) {
	b := hwtest.NewBench()
	frame := testFrame()
	in := Input{Handle: b.Handle, Image: frame}
	req := NewRequest(DrawFull)
	require.Equal(t, DrawFull, req.Kind())

	for !req.Drawing() {
		require.False(t, req.Advance(in))
	}
	require.Equal(t, []byte{0x12}, b.Serial.Stream())

	b.SetBusy(true)
	for i := 0; i < 20; i++ {
		require.False(t, req.Advance(in))
	}
	require.Equal(t, []byte{0x12}, b.Serial.Stream())

	b.SetBusy(false)
	drive(t, req, in)
	want := cat([]byte{0x12, 0x4e, 0x00, 0x4f, 0x07, 0x24}, frame, updateFullBytes)
	require.Equal(t, want, b.Serial.Stream())
}

func TestWindowFor(t *testing.T) {
	cases := []struct {
		name string
		r    image.Rectangle
		want Window
	}{
		{"full screen", image.Rect(0, 0, Width, Height), Window{0, 21, 263, 0}},
		{"top left pixel", image.Rect(0, 0, 1, 1), Window{0, 0, 263, 263}},
		{"top right pixel", image.Rect(Width-1, 0, Width, 1), Window{0, 0, 0, 0}},
		{"bottom left pixel", image.Rect(0, Height-1, 1, Height), Window{21, 21, 263, 263}},
		{"bottom right pixel", image.Rect(Width-1, Height-1, Width, Height), Window{21, 21, 0, 0}},
		{"inner", image.Rect(8, 16, 16, 32), Window{2, 3, 255, 248}},
		{"unaligned rows", image.Rect(0, 3, 1, 9), Window{0, 1, 263, 263}},
		{"overhanging", image.Rect(-10, -10, Width+10, Height+10), Window{0, 21, 263, 0}},
		{"beyond bottom right", image.Rect(Width+5, Height+5, Width+10, Height+10), Window{21, 21, 0, 0}},
		{"beyond top left", image.Rect(-10, -10, -5, -5), Window{0, 0, 263, 263}},
		{"empty at origin", image.Rect(0, 0, 0, 0), Window{0, 0, 263, 263}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := WindowFor(c.r)
			require.Equal(t, c.want, w)
			require.LessOrEqual(t, int(w.XStart), XAddressWidth-1)
			require.LessOrEqual(t, int(w.XEnd), XAddressWidth-1)
			require.LessOrEqual(t, int(w.YStart), Width-1)
			require.LessOrEqual(t, int(w.YEnd), Width-1)
		})
	}
	require.Equal(t, FullWindow, WindowFor(image.Rect(0, 0, Width, Height)))
}

func TestPartDrawSequence(t *testing.T) {
	b := hwtest.NewBench()
	frame := testFrame()
	w := WindowFor(image.Rect(8, 16, 16, 32))
	in := Input{Handle: b.Handle, Image: frame, Window: w}

	drive(t, NewSequence(PartDraw), in)

	var part []byte
	for row := 8; row <= 15; row++ {
		part = append(part, frame[row*XAddressWidth+2], frame[row*XAddressWidth+3])
	}
	want := cat(
		[]byte{0x3c, 0x80, 0x44, 2, 3, 0x45, 255, 0, 248, 0, 0x4e, 2, 0x4f, 255, 0},
		[]byte{0x24}, part,
		[]byte{0x26}, part,
		[]byte{0x21, 0x80, 0x00, 0x22, 0xff, 0x20},
	)
	require.Equal(t, want, b.Serial.Stream())
}

func TestPartDrawFullWindowStreamsWholeFrame(t *testing.T) {
	b := hwtest.NewBench()
	frame := testFrame()
	in := Input{Handle: b.Handle, Image: frame, Window: FullWindow}

	drive(t, DataPart(), in)
	require.Equal(t, frame, b.Serial.Stream())
}

func TestBlockingHelpers(t *testing.T) {
	b := hwtest.NewBench()
	d := b.Peripherals.Display

	DeepSleep(d)
	require.Equal(t, []byte{0x10, 0x03}, b.Serial.Stream())
	require.Equal(t, []byte{0x10}, b.Serial.Commands())

	b.SetBusy(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, WaitIdle(ctx, d), context.DeadlineExceeded)

	b.SetBusy(false)
	b.Serial.Reset()
	frame := testFrame()
	require.NoError(t, DrawBlocking(context.Background(), d, frame))
	want := cat(
		[]byte{0x4e, 0x00, 0x4f, 0x07, 0x24}, frame,
		[]byte{0x26}, frame,
		[]byte{0x12, 0x22, 0xf7, 0x20},
	)
	require.Equal(t, want, b.Serial.Stream())
	require.Zero(t, b.Serial.Unselected)
}
