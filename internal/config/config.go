package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SPIConfig selects the bus shared by the display and the external memory.
type SPIConfig struct {
	// Port is a periph spireg name ("" picks the first registered port).
	Port string `yaml:"port"`
	// FreqMHz is the bus clock.
	FreqMHz int `yaml:"freq_mhz"`
}

// PinConfig names GPIO lines as understood by periph gpioreg.ByName.
type PinConfig struct {
	DisplayCS   string `yaml:"display_cs"`
	DisplayDC   string `yaml:"display_dc"`
	DisplayRST  string `yaml:"display_rst"`
	DisplayBusy string `yaml:"display_busy"`
	MemoryCS    string `yaml:"memory_cs"`
}

// PowerConfig holds the supply thresholds, in millivolts, below which an
// operation is not started.
type PowerConfig struct {
	FullRefreshMv int `yaml:"full_refresh_mv"`
	FastRefreshMv int `yaml:"fast_refresh_mv"`
	PartRefreshMv int `yaml:"part_refresh_mv"`
	NFCMinMv      int `yaml:"nfc_min_mv"`
}

// BatteryConfig describes the fuel gauge and how often it is sampled.
type BatteryConfig struct {
	// Bus is the periph i2creg name ("" for the default bus).
	Bus  string `yaml:"bus"`
	Addr uint16 `yaml:"addr"`
	// Mock forces the fixed-voltage reader, for benches without a gauge.
	Mock bool `yaml:"mock"`
	// MockMv is the voltage reported by the mock reader.
	MockMv int `yaml:"mock_mv"`
	// Sample is a robfig/cron spec, e.g. "@every 2s".
	Sample string `yaml:"sample"`
}

// MemoryConfig is the external paged memory geometry.
type MemoryConfig struct {
	PageSize int `yaml:"page_size"`
	Capacity int `yaml:"capacity"`
}

// NFCConfig tunes the receive path.
type NFCConfig struct {
	// Freq is the number of capture timer ticks per bit.
	Freq int `yaml:"freq"`
	// RegionLen is the number of 16-bit samples per DMA region.
	RegionLen int `yaml:"region_len"`
	// MaxEmptyCycles is how many idle polls pass before the device shows its
	// address on its own.
	MaxEmptyCycles int `yaml:"max_empty_cycles"`
	// Capture, if set, is a file of recorded capture stamps replayed into the
	// ring instead of live DMA.
	Capture string `yaml:"capture"`
}

// Config is the top-level application configuration.
type Config struct {
	SPI     SPIConfig     `yaml:"spi"`
	Pins    PinConfig     `yaml:"pins"`
	Power   PowerConfig   `yaml:"power"`
	Battery BatteryConfig `yaml:"battery"`
	Memory  MemoryConfig  `yaml:"memory"`
	NFC     NFCConfig     `yaml:"nfc"`

	// PublicKey is the hex-encoded 32-byte device key transactions must be
	// addressed to.
	PublicKey string `yaml:"public_key"`

	// Poll is the pause between two scheduler passes.
	Poll time.Duration `yaml:"poll"`

	// LogLevel is one of DEBUG, INFO, ERROR.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.SPI.FreqMHz <= 0 {
		c.SPI.FreqMHz = 4
	}
	if c.Pins.DisplayCS == "" {
		c.Pins.DisplayCS = "GPIO8"
	}
	if c.Pins.DisplayDC == "" {
		c.Pins.DisplayDC = "GPIO25"
	}
	if c.Pins.DisplayRST == "" {
		c.Pins.DisplayRST = "GPIO17"
	}
	if c.Pins.DisplayBusy == "" {
		c.Pins.DisplayBusy = "GPIO24"
	}
	if c.Pins.MemoryCS == "" {
		c.Pins.MemoryCS = "GPIO7"
	}

	if c.Power.FullRefreshMv <= 0 {
		c.Power.FullRefreshMv = 5000
	}
	if c.Power.FastRefreshMv <= 0 {
		c.Power.FastRefreshMv = 5000
	}
	if c.Power.PartRefreshMv <= 0 {
		c.Power.PartRefreshMv = 5000
	}
	if c.Power.NFCMinMv <= 0 {
		c.Power.NFCMinMv = 4000
	}

	if c.Battery.Addr == 0 {
		c.Battery.Addr = 0x57
	}
	if c.Battery.MockMv <= 0 {
		c.Battery.MockMv = 5200
	}
	if c.Battery.Sample == "" {
		c.Battery.Sample = "@every 2s"
	}

	if c.Memory.PageSize <= 0 {
		c.Memory.PageSize = 1024
	}
	if c.Memory.Capacity <= 0 {
		c.Memory.Capacity = 1 << 23
	}

	if c.NFC.Freq <= 0 {
		c.NFC.Freq = 22
	}
	if c.NFC.RegionLen <= 0 {
		c.NFC.RegionLen = 2048
	}
	if c.NFC.MaxEmptyCycles <= 0 {
		c.NFC.MaxEmptyCycles = 200000
	}

	if c.Poll <= 0 {
		c.Poll = time.Millisecond
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "ERROR":
	default:
		c.LogLevel = "INFO"
	}
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Memory.Capacity%c.Memory.PageSize != 0 {
		return fmt.Errorf("config: memory capacity %d is not a multiple of page size %d",
			c.Memory.Capacity, c.Memory.PageSize)
	}
	if c.Memory.Capacity > 1<<23 {
		return fmt.Errorf("config: memory capacity %d exceeds the addressable 8 MiB", c.Memory.Capacity)
	}
	if c.PublicKey != "" {
		if _, err := c.Key(); err != nil {
			return err
		}
	}
	return nil
}

// Key decodes PublicKey. An empty key decodes to 32 zero bytes.
func (c *Config) Key() ([32]byte, error) {
	var key [32]byte
	if c.PublicKey == "" {
		return key, nil
	}
	raw, err := hex.DecodeString(c.PublicKey)
	if err != nil {
		return key, fmt.Errorf("config: public_key: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("config: public_key is %d bytes, want %d", len(raw), len(key))
	}
	copy(key[:], raw)
	return key, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically via a
// temp file in the same directory, with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".coldsign-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
