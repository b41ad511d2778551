package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Power.FullRefreshMv)
	require.Equal(t, 4000, cfg.Power.NFCMinMv)
	require.Equal(t, 1024, cfg.Memory.PageSize)
	require.Equal(t, time.Millisecond, cfg.Poll)

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadPartialNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("power:\n  part_refresh_mv: 4500\nnfc:\n  freq: 30\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4500, cfg.Power.PartRefreshMv)
	require.Equal(t, 5000, cfg.Power.FastRefreshMv)
	require.Equal(t, 30, cfg.NFC.Freq)
	require.Equal(t, "@every 2s", cfg.Battery.Sample)
}

func TestValidateRejectsBadGeometry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.Capacity = 1000
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Memory.Capacity = 1 << 25
	require.Error(t, cfg.Validate())
}

func TestKey(t *testing.T) {
	cfg := DefaultConfig()
	key, err := cfg.Key()
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, key)

	cfg.PublicKey = "abcd"
	_, err = cfg.Key()
	require.Error(t, err)

	cfg.PublicKey = "0101010101010101010101010101010101010101010101010101010101010101"
	key, err = cfg.Key()
	require.NoError(t, err)
	require.Equal(t, byte(1), key[31])
}
