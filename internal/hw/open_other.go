//go:build !linux

package hw

import (
	"fmt"
	"runtime"

	"coldsign/internal/config"
)

// Bus is an opened SPI port together with the peripherals wired to it.
type Bus struct {
	*Peripherals
}

func (b *Bus) Close() error { return nil }

// Open always fails off Linux; periph has no SPI or GPIO drivers there.
func Open(cfg *config.Config, dma Linker) (*Bus, error) {
	return nil, fmt.Errorf("hw: peripherals are not available on %s", runtime.GOOS)
}
