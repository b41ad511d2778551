//go:build linux

package hw

import (
	"fmt"

	"coldsign/internal/config"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Bus is an opened SPI port together with the peripherals wired to it.
type Bus struct {
	port spi.PortCloser
	*Peripherals
}

// Close releases the SPI port. GPIO lines need no explicit release.
func (b *Bus) Close() error {
	return b.port.Close()
}

// Open initializes periph, opens the shared SPI port and configures every
// display and memory line. dma is the capture link for the NFC ring.
func Open(cfg *config.Config, dma Linker) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hw: periph host init failed: %w", err)
	}

	port, err := spireg.Open(cfg.SPI.Port)
	if err != nil {
		return nil, fmt.Errorf("hw: failed to open SPI port %q: %w", cfg.SPI.Port, err)
	}
	conn, err := port.Connect(physic.Frequency(cfg.SPI.FreqMHz)*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("hw: failed to connect SPI: %w", err)
	}

	out := func(name string, l gpio.Level) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("hw: gpio %s not found", name)
		}
		if err := p.Out(l); err != nil {
			return nil, fmt.Errorf("hw: gpio %s Out failed: %w", name, err)
		}
		return p, nil
	}

	var group CSGroup
	pins := make(map[string]gpio.PinIO)
	for _, n := range []struct {
		name  string
		level gpio.Level
	}{
		{cfg.Pins.DisplayCS, gpio.High},
		{cfg.Pins.MemoryCS, gpio.High},
		{cfg.Pins.DisplayDC, gpio.Low},
		{cfg.Pins.DisplayRST, gpio.High},
	} {
		p, err := out(n.name, n.level)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		pins[n.name] = p
	}

	busy := gpioreg.ByName(cfg.Pins.DisplayBusy)
	if busy == nil {
		_ = port.Close()
		return nil, fmt.Errorf("hw: gpio %s not found", cfg.Pins.DisplayBusy)
	}
	if err := busy.In(gpio.PullDown, gpio.NoEdge); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("hw: gpio %s In failed: %w", cfg.Pins.DisplayBusy, err)
	}

	return &Bus{
		port: port,
		Peripherals: &Peripherals{
			Display: &DisplayPort{
				Serial: NewSPISerial(conn),
				CS:     group.Add("display", pins[cfg.Pins.DisplayCS]),
				DC:     pins[cfg.Pins.DisplayDC],
				RST:    pins[cfg.Pins.DisplayRST],
				Busy:   busy,
			},
			Memory: &MemoryBus{
				Conn: conn,
				CS:   group.Add("memory", pins[cfg.Pins.MemoryCS]),
			},
			DMA: dma,
		},
	}, nil
}
