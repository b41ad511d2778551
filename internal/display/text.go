package display

import (
	"context"
	"encoding/hex"
	"image"
	"strings"

	"coldsign/internal/epd"
	"coldsign/internal/hw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// margin is the blank border kept around text blocks.
const margin = 4

// face is the only font on the device.
var face = basicfont.Face7x13

// LineWidth is how many characters fit on one line of a text block.
var LineWidth = (epd.Width - 2*margin) / face.Advance

// Text draws s in ink with its top-left corner at at. Newlines start a new
// line; nothing is wrapped.
func (f *FrameBuffer) Text(at image.Point, s string) {
	metrics := face.Metrics()
	drawer := font.Drawer{
		Dst:  f,
		Src:  image.NewUniform(image1bit.Off),
		Face: face,
	}
	for i, line := range strings.Split(s, "\n") {
		drawer.Dot = fixed.P(at.X, at.Y)
		drawer.Dot.Y += metrics.Ascent + fixed.I(i).Mul(metrics.Height)
		drawer.DrawString(line)
	}
}

// Block clears the buffer and draws s from the top-left margin, breaking long
// lines at LineWidth.
func (f *FrameBuffer) Block(s string) {
	f.Clear()
	f.Text(image.Pt(margin, margin), Wrap(s, LineWidth))
}

// Wrap hard-breaks every line of s longer than width characters.
func Wrap(s string, width int) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		for len(line) > width {
			out = append(out, line[:width])
			line = line[width:]
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// ShowAddress draws the device public key and schedules a full refresh.
func (f *FrameBuffer) ShowAddress(key []byte) {
	f.Block("Address\n\n" + hex.EncodeToString(key))
	f.RequestFull()
}

// Diagnose draws msg and pushes it to the panel synchronously, then puts the
// controller to sleep. It is meant for the fatal path only.
func (f *FrameBuffer) Diagnose(ctx context.Context, msg string) error {
	f.Block(msg)
	var err error
	f.handle.InFree(func(p *hw.Peripherals) {
		d := p.Display
		if err = epd.HardInit(ctx, d); err != nil {
			return
		}
		if err = epd.DrawBlocking(ctx, d, f.data); err != nil {
			return
		}
		epd.DeepSleep(d)
	})
	return err
}
