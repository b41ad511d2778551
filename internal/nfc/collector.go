package nfc

import (
	"fmt"

	"coldsign/internal/nfc/fountain"
	"coldsign/internal/psram"
)

// CollectorState is the progress of a Collector.
type CollectorState uint8

const (
	Empty CollectorState = iota
	InProgress
	Done
)

func (s CollectorState) String() string {
	switch s {
	case Empty:
		return "empty"
	case InProgress:
		return "in-progress"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("CollectorState(%d)", uint8(s))
	}
}

// Collector gathers fountain packets until the message they carry is whole.
type Collector struct {
	// Base is where the message is rebuilt in external memory.
	Base psram.Address

	state  CollectorState
	dec    *fountain.Decoder
	result psram.Access
}

// State returns the collector state.
func (c *Collector) State() CollectorState { return c.state }

// Result returns the rebuilt message once Done.
func (c *Collector) Result() (psram.Access, bool) {
	return c.result, c.state == Done
}

// Reset drops everything collected so far.
func (c *Collector) Reset() {
	c.state = Empty
	c.dec = nil
	c.result = psram.Access{}
}

// Add feeds one packet. The first accepted packet fixes the message; a
// packet that cannot start a decoder leaves the collector Empty. Packets
// after Done are ignored.
func (c *Collector) Add(d *psram.Device, p fountain.Packet) error {
	switch c.state {
	case Empty:
		dec, err := fountain.NewDecoder(d, c.Base, p)
		if err != nil {
			return err
		}
		c.dec = dec
		c.state = InProgress
	case InProgress:
		if err := c.dec.Add(d, p); err != nil {
			return err
		}
	case Done:
		return nil
	}
	if acc, ok := c.dec.Done(); ok {
		c.result = acc
		c.state = Done
		c.dec = nil
	}
	return nil
}
