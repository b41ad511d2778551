package epd

import (
	"encoding/binary"
	"image"
)

// Window is a RAM address window. X addresses pack eight screen rows per
// byte; Y addresses count screen columns from the right edge because of how
// the panel is mounted.
type Window struct {
	XStart uint8
	XEnd   uint8
	YStart uint16
	YEnd   uint16
}

// FullWindow covers the whole panel.
var FullWindow = Window{XStart: 0, XEnd: XAddressWidth - 1, YStart: Width - 1, YEnd: 0}

// WindowFor maps a screen rectangle to the RAM window containing it. Each
// bound is clamped to its register range independently.
func WindowFor(r image.Rectangle) Window {
	var w Window

	switch y := r.Min.Y; {
	case y < 0:
		w.XStart = 0
	case y > Height-1:
		w.XStart = XAddressWidth - 1
	default:
		w.XStart = uint8(y / 8)
	}

	switch x := r.Min.X; {
	case x < 0:
		w.YStart = Width - 1
	case x > Width-1:
		w.YStart = 0
	default:
		w.YStart = uint16(Width - 1 - x)
	}

	switch y := r.Max.Y; {
	case y > Height:
		w.XEnd = XAddressWidth - 1
	case y < 1:
		w.XEnd = 0
	default:
		// Last byte touched by row y-1.
		w.XEnd = uint8((y+7)/8 - 1)
	}

	switch x := r.Max.X; {
	case x > Width:
		w.YEnd = 0
	case x < 1:
		w.YEnd = Width - 1
	default:
		w.YEnd = uint16(Width - x)
	}
	return w
}

func (w Window) xRange() []byte { return []byte{w.XStart, w.XEnd} }

func (w Window) yRange() []byte {
	b := binary.LittleEndian.AppendUint16(nil, w.YStart)
	return binary.LittleEndian.AppendUint16(b, w.YEnd)
}

func (w Window) xCursor() []byte { return []byte{w.XStart} }

func (w Window) yCursor() []byte { return binary.LittleEndian.AppendUint16(nil, w.YStart) }
