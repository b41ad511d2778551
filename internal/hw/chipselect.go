package hw

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// CSGroup is a set of active-low chip select lines sharing one bus. At most
// one line of a group is asserted at any time.
type CSGroup struct {
	mu    sync.Mutex
	lines []*ChipSelect
}

// ChipSelect is one line of a CSGroup.
type ChipSelect struct {
	group *CSGroup
	pin   gpio.PinOut
	name  string
}

// Add registers pin in the group, deasserted.
func (g *CSGroup) Add(name string, pin gpio.PinOut) *ChipSelect {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs := &ChipSelect{group: g, pin: pin, name: name}
	_ = pin.Out(gpio.High)
	g.lines = append(g.lines, cs)
	return cs
}

// Select deasserts every other line of the group, then asserts this one.
func (c *ChipSelect) Select() {
	c.group.mu.Lock()
	defer c.group.mu.Unlock()
	for _, other := range c.group.lines {
		if other != c {
			_ = other.pin.Out(gpio.High)
		}
	}
	_ = c.pin.Out(gpio.Low)
}

// Deselect releases the line.
func (c *ChipSelect) Deselect() {
	_ = c.pin.Out(gpio.High)
}

// Selected reports whether the line is currently asserted.
func (c *ChipSelect) Selected() bool {
	if in, ok := c.pin.(gpio.PinIn); ok {
		return in.Read() == gpio.Low
	}
	return false
}

func (c *ChipSelect) String() string { return c.name }
