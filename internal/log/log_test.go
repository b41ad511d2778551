package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatKVs(t *testing.T) {
	require.Equal(t, "", formatKVs())
	require.Equal(t, " a=1 b=x", formatKVs("a", 1, "b", "x"))
	require.Equal(t, " a=1", formatKVs("a", 1, "dangling"))
	require.Equal(t, " b=2", formatKVs(3, 1, "b", 2))
	require.Equal(t, " err=boom", formatKVs("err", errors.New("boom")))
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" debug ")
	require.NoError(t, err)
	require.Equal(t, LevelDebug, l)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestEnabled(t *testing.T) {
	defer SetLevel(LevelInfo)

	SetLevel(LevelError)
	require.True(t, enabled(LevelError))
	require.False(t, enabled(LevelInfo))

	SetLevel(LevelDebug)
	require.True(t, enabled(LevelDebug))
	require.True(t, enabled(LevelInfo))

	SetLevel(LevelInfo)
	require.True(t, enabled(LevelInfo))
	require.True(t, enabled(LevelError))
}
