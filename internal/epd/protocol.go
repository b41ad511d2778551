package epd

import (
	"fmt"

	"coldsign/internal/hw"
	"coldsign/internal/op"
)

// StepKind selects what a protocol step does.
type StepKind uint8

const (
	StepCommand StepKind = iota
	StepData
	StepWindowData
	StepImage
	StepImagePart
	StepResetLow
	StepResetHigh
	StepDeselect
	StepRun
)

func (k StepKind) String() string {
	switch k {
	case StepCommand:
		return "command"
	case StepData:
		return "data"
	case StepWindowData:
		return "window-data"
	case StepImage:
		return "image"
	case StepImagePart:
		return "image-part"
	case StepResetLow:
		return "reset-low"
	case StepResetHigh:
		return "reset-high"
	case StepDeselect:
		return "deselect"
	case StepRun:
		return "run"
	default:
		return fmt.Sprintf("StepKind(%d)", uint8(k))
	}
}

// Step is one entry of a Protocol.
type Step struct {
	Kind StepKind
	// Bytes holds the opcode of a command step or the payload of a data step.
	Bytes []byte
	// Field derives the payload of a window-data step.
	Field func(Window) []byte
	// Sub is the protocol run by a run step.
	Sub *Protocol
	// WaitIdle gates every advance of the step on BUSY reading low.
	WaitIdle bool
	// Hold is the number of ticks to wait after the step, unless it is the
	// last one.
	Hold int
}

// Protocol is an ordered list of steps.
type Protocol struct {
	Name  string
	Steps []Step
}

func (p *Protocol) String() string { return p.Name }

func cmd(opcode byte) Step { return Step{Kind: StepCommand, Bytes: []byte{opcode}} }

func data(b ...byte) Step { return Step{Kind: StepData, Bytes: b} }

func run(p *Protocol) Step { return Step{Kind: StepRun, Sub: p} }

func gated(s Step) Step {
	s.WaitIdle = true
	return s
}

func hold(s Step, ticks int) Step {
	s.Hold = ticks
	return s
}

// Sequence runs a Protocol. It implements op.Operation[Input, bool].
type Sequence struct {
	proto *Protocol
	idx   int
	cur   op.Operation[Input, bool]
	timer op.Timer
}

// NewSequence starts p from its first step.
func NewSequence(p *Protocol) *Sequence {
	return &Sequence{proto: p}
}

// Step returns the index of the step in progress.
func (s *Sequence) Step() int { return s.idx }

// Advance performs at most one unit of the current step and reports whether
// the protocol has finished.
func (s *Sequence) Advance(in Input) bool {
	if s.timer.Count() {
		return false
	}
	steps := s.proto.Steps
	if s.idx >= len(steps) {
		return true
	}
	st := steps[s.idx]
	if st.WaitIdle && busy(in) {
		return false
	}
	if s.cur == nil {
		s.cur = st.start()
	}
	if !s.cur.Advance(in) {
		return false
	}
	s.cur = nil
	s.idx++
	if s.idx == len(steps) {
		return true
	}
	s.timer.Wind(st.Hold)
	return false
}

func (st Step) start() op.Operation[Input, bool] {
	switch st.Kind {
	case StepCommand:
		return Command(st.Bytes[0])
	case StepData:
		return DataBytes(st.Bytes...)
	case StepWindowData:
		return windowData(st.Field)
	case StepImage:
		return Data()
	case StepImagePart:
		return DataPart()
	case StepResetLow:
		return line(func(d *hw.DisplayPort) { d.ResetLow() })
	case StepResetHigh:
		return line(func(d *hw.DisplayPort) { d.ResetHigh() })
	case StepDeselect:
		return line(func(d *hw.DisplayPort) { d.CS.Deselect() })
	case StepRun:
		return NewSequence(st.Sub)
	}
	panic(fmt.Sprintf("epd: unknown step kind %v", st.Kind))
}

// line is a single GPIO write, done in one advance.
type line func(d *hw.DisplayPort)

func (l line) Advance(in Input) bool {
	in.Handle.InFree(func(p *hw.Peripherals) { l(p.Display) })
	return true
}

// Reset pulses the reset line and leaves the controller deselected.
var Reset = &Protocol{Name: "reset", Steps: []Step{
	hold(Step{Kind: StepResetLow}, op.DefaultDelay),
	hold(Step{Kind: StepResetHigh}, op.DefaultDelay),
	hold(Step{Kind: StepResetLow}, op.DefaultDelay),
	{Kind: StepDeselect},
}}

// wakeHold is the settle time between the reset pulse and the wake command.
const wakeHold = 10

// Init resets the controller and wakes it with a software reset.
var Init = &Protocol{Name: "init", Steps: []Step{
	hold(run(Reset), wakeHold),
	gated(cmd(OpSoftReset)),
}}

// UpdateFull triggers a full refresh with the panel's stored waveform.
var UpdateFull = &Protocol{Name: "update-full", Steps: []Step{
	cmd(OpUpdateControl1), data(0x40, 0x00),
	cmd(OpTempSensor), data(0x80),
	cmd(OpUpdateControl2), data(0xf7),
	gated(cmd(OpActivate)),
}}

// UpdateFast loads the fast waveform for a forced temperature, then
// refreshes with it.
var UpdateFast = &Protocol{Name: "update-fast", Steps: []Step{
	cmd(OpTempSensor), data(0x80),
	cmd(OpTempWrite), data(0x64, 0x00),
	cmd(OpUpdateControl2), data(0x91),
	gated(cmd(OpActivate)),
	cmd(OpUpdateControl1), data(0x40, 0x00),
	gated(cmd(OpUpdateControl2)), data(0xc7),
	gated(cmd(OpActivate)),
}}

// UpdateUltraFast refreshes only the changed pixels.
var UpdateUltraFast = &Protocol{Name: "update-ultrafast", Steps: []Step{
	cmd(OpUpdateControl1), data(0x80, 0x00),
	cmd(OpUpdateControl2), data(0xff),
	gated(cmd(OpActivate)),
}}

// FullDraw writes the whole frame and runs a full refresh.
var FullDraw = &Protocol{Name: "full-draw", Steps: []Step{
	cmd(OpRAMXCursor), data(0x00),
	cmd(OpRAMYCursor), data(0x07),
	cmd(OpWriteRAMBW), {Kind: StepImage},
	run(UpdateFull),
}}

// FastDraw writes the whole frame and runs the fast refresh.
var FastDraw = &Protocol{Name: "fast-draw", Steps: []Step{
	cmd(OpRAMXCursor), data(0x00),
	cmd(OpRAMYCursor), data(0x07),
	gated(cmd(OpWriteRAMBW)), {Kind: StepImage},
	run(UpdateFast),
}}

// PartDraw writes the window into both RAM planes and refreshes it.
var PartDraw = &Protocol{Name: "part-draw", Steps: []Step{
	cmd(OpBorderWaveform), data(0x80),
	cmd(OpRAMXWindow), {Kind: StepWindowData, Field: Window.xRange},
	cmd(OpRAMYWindow), {Kind: StepWindowData, Field: Window.yRange},
	cmd(OpRAMXCursor), {Kind: StepWindowData, Field: Window.xCursor},
	cmd(OpRAMYCursor), {Kind: StepWindowData, Field: Window.yCursor},
	cmd(OpWriteRAMBW), {Kind: StepImagePart},
	cmd(OpWriteRAMRed), {Kind: StepImagePart},
	run(UpdateUltraFast),
}}
