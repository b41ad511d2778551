// Package battery reports the supply voltage that gates display refreshes
// and NFC decoding.
package battery

import (
	"context"
	"errors"
	"runtime"

	"coldsign/internal/config"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Status is one gauge sample.
type Status struct {
	// Percent is the charge level in 0–100%.
	Percent int
	// VoltageMv is the supply voltage in millivolts.
	VoltageMv int
}

// Reader abstracts how the supply is measured, so benches without a fuel
// gauge can run on a fixed voltage.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Fuel gauge registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2a
)

// Linear charge estimate between these voltages.
const (
	emptyMv = 3300
	fullMv  = 5400
)

type mockReader struct {
	mv int
}

// NewMockReader returns a Reader that always reports mv.
func NewMockReader(mv int) Reader {
	return &mockReader{mv: mv}
}

func (m *mockReader) Read(_ context.Context) (Status, error) {
	return Status{Percent: percentOf(m.mv), VoltageMv: m.mv}, nil
}

func percentOf(mv int) int {
	switch {
	case mv <= emptyMv:
		return 0
	case mv >= fullMv:
		return 100
	}
	return (mv - emptyMv) * 100 / (fullMv - emptyMv)
}

// i2cReader talks to an I2C fuel gauge exposing the voltage at 0x22 (high)
// and 0x23 (low) and the charge at 0x2a.
type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader returns a gauge reader. busName "" selects the default bus.
// The bus is opened on every Read.
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return Status{}, err
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}
	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// DefaultReader picks the gauge described by cfg, falling back to the fixed
// voltage when it is disabled or does not answer.
func DefaultReader(ctx context.Context, cfg config.BatteryConfig) Reader {
	mock := NewMockReader(cfg.MockMv)
	if cfg.Mock || runtime.GOOS != "linux" {
		return mock
	}
	r := NewI2CReader(cfg.Bus, cfg.Addr)
	if _, err := r.Read(ctx); err != nil {
		return mock
	}
	return r
}
