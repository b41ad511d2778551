// Package epd drives the 2.7" e-paper controller without blocking.
//
// Every transaction is a resumable machine: byte transfers, the reset pulse,
// wake-up, the draw variants and the update triggers. The composite machines
// are a single Sequence walking a Protocol descriptor, so adding a variant
// means writing a table, not another machine. The blocking helpers at the end
// of the package exist only for the fatal diagnostic path.
package epd

import (
	"coldsign/internal/hw"
)

// Panel geometry. The panel RAM is addressed column-major: one RAM row holds
// one screen column of Height pixels packed 8 per byte.
const (
	Width  = 264
	Height = 176

	// XAddressWidth is the number of bytes per RAM row.
	XAddressWidth = Height / 8
	// BufSize is the size of one full RAM plane.
	BufSize = Width * Height / 8
)

// Controller opcodes.
const (
	OpDeepSleep       = 0x10
	OpSoftReset       = 0x12
	OpTempSensor      = 0x18
	OpTempWrite       = 0x1a
	OpActivate        = 0x20
	OpUpdateControl1  = 0x21
	OpUpdateControl2  = 0x22
	OpWriteRAMBW      = 0x24
	OpWriteRAMRed     = 0x26
	OpBorderWaveform  = 0x3c
	OpRAMXWindow      = 0x44
	OpRAMYWindow      = 0x45
	OpRAMXCursor      = 0x4e
	OpRAMYCursor      = 0x4f
	deepSleepRetainNo = 0x03
)

// Input is what every display machine is advanced with.
type Input struct {
	Handle *hw.Handle
	// Image is the BufSize-byte frame to stream. Unused by non-draw machines.
	Image []byte
	// Window is the RAM window of a partial draw.
	Window Window
}

// busy reports whether the controller is busy. A peripheral block that is
// already borrowed counts as busy.
func busy(in Input) bool {
	b, err := hw.IfInFree(in.Handle, func(p *hw.Peripherals) bool {
		return p.Display.IsBusy()
	})
	return err != nil || b
}
