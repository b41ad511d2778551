// Package display owns the frame buffer and schedules refreshes against the
// supply voltage.
package display

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"coldsign/internal/convert"
	"coldsign/internal/epd"
	"coldsign/internal/hw"
	"coldsign/internal/log"
	"coldsign/internal/op"

	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Thresholds are the supply voltages, in millivolts, that must be exceeded
// before each refresh kind is advanced.
type Thresholds struct {
	Full int
	Fast int
	Part int
}

// DefaultThresholds is used for zero fields.
var DefaultThresholds = Thresholds{Full: 5000, Fast: 5000, Part: 5000}

func (t Thresholds) orDefault() Thresholds {
	if t.Full == 0 {
		t.Full = DefaultThresholds.Full
	}
	if t.Fast == 0 {
		t.Fast = DefaultThresholds.Fast
	}
	if t.Part == 0 {
		t.Part = DefaultThresholds.Part
	}
	return t
}

func (t Thresholds) of(k epd.DrawKind) int {
	switch k {
	case epd.DrawFast:
		return t.Fast
	case epd.DrawPart:
		return t.Part
	default:
		return t.Full
	}
}

// Phase is the refresh state of a FrameBuffer.
type Phase uint8

const (
	Idle Phase = iota
	Requested
	Updating
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case Updating:
		return "updating"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Screen is the whole panel in screen coordinates.
var Screen = image.Rect(0, 0, epd.Width, epd.Height)

// FrameBuffer is the in-memory image of the panel. It implements draw.Image
// with image1bit colours: On is paper, Off is ink.
type FrameBuffer struct {
	handle *hw.Handle
	th     Thresholds
	data   []byte
	area   image.Rectangle
	gate   op.Gate[Phase]
	req    *epd.Request
}

var _ draw.Image = (*FrameBuffer)(nil)

// New returns a blank, idle frame buffer drawing through h.
func New(h *hw.Handle, th Thresholds) *FrameBuffer {
	f := &FrameBuffer{
		handle: h,
		th:     th.orDefault(),
		data:   make([]byte, epd.BufSize),
		area:   Screen,
		gate:   op.NewGate(Idle),
	}
	f.Clear()
	return f
}

// Clear paints the whole buffer white.
func (f *FrameBuffer) Clear() {
	for i := range f.data {
		f.data[i] = 0xff
	}
}

// Bytes returns the packed buffer. The slice aliases the buffer.
func (f *FrameBuffer) Bytes() []byte { return f.data }

// Phase returns the refresh state.
func (f *FrameBuffer) Phase() Phase { return f.gate.State }

// Area returns the rectangle the next partial refresh will cover.
func (f *FrameBuffer) Area() image.Rectangle { return f.area }

func (f *FrameBuffer) ColorModel() color.Model { return image1bit.BitModel }

func (f *FrameBuffer) Bounds() image.Rectangle { return Screen }

func (f *FrameBuffer) At(x, y int) color.Color {
	if !image.Pt(x, y).In(Screen) {
		return image1bit.On
	}
	i, mask := bitOf(x, y)
	return image1bit.Bit(f.data[i]&mask != 0)
}

func (f *FrameBuffer) Set(x, y int, c color.Color) {
	f.SetPixel(x, y, image1bit.BitModel.Convert(c).(image1bit.Bit))
}

// SetPixel writes one pixel. Pixels outside the panel are dropped.
func (f *FrameBuffer) SetPixel(x, y int, b image1bit.Bit) {
	if !image.Pt(x, y).In(Screen) {
		return
	}
	i, mask := bitOf(x, y)
	if b {
		f.data[i] |= mask
	} else {
		f.data[i] &^= mask
	}
}

func bitOf(x, y int) (int, byte) {
	bit := y + x*epd.Height
	return bit / 8, 0x80 >> (bit % 8)
}

// DrawImage replaces the buffer with img, shrunk to fit and dithered.
func (f *FrameBuffer) DrawImage(img image.Image) {
	gray := convert.Dither(img, epd.Width, epd.Height)
	copy(f.data, convert.Pack(gray, epd.Width, epd.Height))
}

// RequestFull schedules a full refresh, replacing any refresh in progress.
func (f *FrameBuffer) RequestFull() { f.request(epd.DrawFull) }

// RequestFast schedules a fast refresh.
func (f *FrameBuffer) RequestFast() { f.request(epd.DrawFast) }

// RequestPart schedules a partial refresh of area. An area with nothing on
// screen is ignored.
func (f *FrameBuffer) RequestPart(area image.Rectangle) {
	area = area.Intersect(Screen)
	if area.Empty() {
		log.Debug("display: empty partial refresh dropped")
		return
	}
	f.area = area
	f.request(epd.DrawPart)
}

func (f *FrameBuffer) request(k epd.DrawKind) {
	log.Debug("display: refresh requested", "kind", k, "area", f.area)
	f.req = epd.NewRequest(k)
	f.gate.Change(Requested)
}

// Advance moves the pending refresh forward by one step when the supply is
// strictly above the threshold of its kind. It returns true only when idle.
func (f *FrameBuffer) Advance(millivolts int) bool {
	if f.gate.Count() {
		return false
	}
	switch f.gate.State {
	case Idle:
		return true
	case Requested:
		if millivolts > f.th.of(f.req.Kind()) {
			in := epd.Input{Handle: f.handle, Image: f.data, Window: epd.WindowFor(f.area)}
			if f.req.Advance(in) {
				f.gate.WindDefault(Updating)
			}
		}
		return false
	case Updating:
		f.handle.InFree(func(p *hw.Peripherals) { epd.DeepSleep(p.Display) })
		log.Debug("display: refresh done", "kind", f.req.Kind())
		f.req = nil
		f.area = Screen
		f.gate.Change(Idle)
		return false
	}
	panic(fmt.Sprintf("display: invalid phase %v", f.gate.State))
}
