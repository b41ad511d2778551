package op

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimerHoldsForWoundTicks(t *testing.T) {
	var tm Timer
	require.False(t, tm.Count())

	tm.Wind(3)
	require.True(t, tm.Holding())
	require.True(t, tm.Count())
	require.True(t, tm.Count())
	require.True(t, tm.Count())
	require.False(t, tm.Count())
	require.False(t, tm.Holding())
}

func TestTimerNegativeWind(t *testing.T) {
	var tm Timer
	tm.Wind(-5)
	require.False(t, tm.Count())
}

type phase int

const (
	phaseA phase = iota
	phaseB
)

func TestGateTransitions(t *testing.T) {
	g := NewGate(phaseA)
	require.Equal(t, phaseA, g.State)
	require.False(t, g.Count())

	g.WindDefault(phaseB)
	require.Equal(t, phaseB, g.State)
	for i := 0; i < DefaultDelay; i++ {
		require.True(t, g.Count())
	}
	require.False(t, g.Count())

	g.Wind(phaseA, 2)
	g.Change(phaseB)
	require.Equal(t, phaseB, g.State)
	require.False(t, g.Count())
}
