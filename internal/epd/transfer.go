package epd

import (
	"coldsign/internal/hw"
)

// cursor yields the bytes of one transfer.
type cursor interface {
	// next returns the byte to send and whether it is the last one.
	next(in Input) (b byte, last bool)
}

// Transfer sends one command or a run of data bytes. Phase one loads the
// transmit register once it accepts a byte, repeated for every byte; phase
// two drains the byte clocked back in and waits for the shift register to
// empty before releasing chip select.
type Transfer struct {
	command  bool
	cur      cursor
	draining bool
}

// Command sends the opcode op.
func Command(op byte) *Transfer {
	return &Transfer{command: true, cur: &fixed{b: []byte{op}}}
}

// DataBytes sends fixed parameter bytes.
func DataBytes(b ...byte) *Transfer {
	return &Transfer{cur: &fixed{b: b}}
}

// Data streams the whole frame from Input.Image.
func Data() *Transfer {
	return &Transfer{cur: &whole{}}
}

// DataPart streams only the bytes of Input.Image inside Input.Window.
func DataPart() *Transfer {
	return &Transfer{cur: &imagePart{}}
}

// windowData sends bytes derived from Input.Window when the step runs.
func windowData(f func(Window) []byte) *Transfer {
	return &Transfer{cur: &derived{f: f}}
}

// Advance implements op.Operation.
func (t *Transfer) Advance(in Input) bool {
	if !t.draining {
		in.Handle.InFree(func(p *hw.Peripherals) {
			d := p.Display
			d.CS.Deselect()
			d.CS.Select()
			if t.command {
				d.SelectCommand()
			} else {
				d.SelectData()
			}
		})
		ready, err := hw.IfInFree(in.Handle, func(p *hw.Peripherals) bool {
			return p.Display.Serial.TxReady()
		})
		if err == nil && ready {
			in.Handle.InFree(func(p *hw.Peripherals) {
				b, last := t.cur.next(in)
				p.Display.Serial.Transmit(b)
				if last {
					t.draining = true
				}
			})
		}
		return false
	}

	done, err := hw.IfInFree(in.Handle, func(p *hw.Peripherals) bool {
		return p.Display.Serial.TxDone()
	})
	if err != nil || !done {
		return false
	}
	in.Handle.InFree(func(p *hw.Peripherals) {
		p.Display.Serial.Receive()
		p.Display.CS.Deselect()
	})
	return true
}

type fixed struct {
	b   []byte
	pos int
}

func (f *fixed) next(Input) (byte, bool) {
	b := f.b[f.pos]
	f.pos++
	return b, f.pos == len(f.b)
}

type derived struct {
	f func(Window) []byte
	fixed
}

func (d *derived) next(in Input) (byte, bool) {
	if d.b == nil {
		d.b = d.f(in.Window)
	}
	return d.fixed.next(in)
}

type whole struct {
	pos int
}

func (c *whole) next(in Input) (byte, bool) {
	b := in.Image[c.pos]
	c.pos++
	return b, c.pos == len(in.Image)
}

// imagePart walks the RAM rows of the window. Rows run from the inverted
// y-start to the inverted y-end, and inside each row from x-start to x-end.
type imagePart struct {
	started bool
	pos     int
	xStart  int
	xEnd    int
	end     int
}

func (c *imagePart) next(in Input) (byte, bool) {
	if !c.started {
		w := in.Window
		c.started = true
		c.xStart = int(w.XStart)
		c.xEnd = int(w.XEnd)
		c.pos = (Width-1-int(w.YStart))*XAddressWidth + c.xStart
		c.end = (Width-1-int(w.YEnd))*XAddressWidth + c.xEnd
	}
	b := in.Image[c.pos]
	if c.pos >= c.end {
		return b, true
	}
	row := c.pos / XAddressWidth
	if c.pos-row*XAddressWidth >= c.xEnd {
		c.pos = (row+1)*XAddressWidth + c.xStart
	} else {
		c.pos++
	}
	return b, false
}
