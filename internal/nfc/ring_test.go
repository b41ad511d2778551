package nfc

import (
	"math/rand"
	"testing"

	"coldsign/internal/hw/hwtest"

	"github.com/stretchr/testify/require"
)

var allStatuses = []BufferStatus{RhW0, RhW1, RhW2, R0W1, R0Wh, R1W2, R1Wh, R2W0, R2Wh}

func TestPassIfDone7(t *testing.T) {
	want := map[BufferStatus]BufferStatus{
		R0W1: R0Wh, R1W2: R1Wh, R2W0: R2Wh,
		RhW0: R0W1, RhW1: R1W2, RhW2: R2W0,
	}
	for _, s := range allStatuses {
		t.Run(s.String(), func(t *testing.T) {
			got := s
			err := got.PassIfDone7()
			next, ok := want[s]
			if !ok {
				require.ErrorIs(t, err, ErrUnexpectedTransferDone)
				require.Equal(t, s, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, next, got)
		})
	}
}

func TestPassReadDone(t *testing.T) {
	want := map[BufferStatus]BufferStatus{
		R0W1: RhW1, R0Wh: R1W2, R1W2: RhW2,
		R1Wh: R2W0, R2W0: RhW0, R2Wh: R0W1,
	}
	for _, s := range allStatuses {
		t.Run(s.String(), func(t *testing.T) {
			got := s
			err := got.PassReadDone()
			next, ok := want[s]
			if !ok {
				require.ErrorIs(t, err, ErrUnexpectedReadDone)
				require.Equal(t, s, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, next, got)
		})
	}
}

func TestRegionsNeverOverlap(t *testing.T) {
	for _, s := range allStatuses {
		r, rok := s.ReadFrom()
		w, wok := s.WriteTo()
		require.Equal(t, s.IsWriteHalted(), !wok, s.String())
		if rok && wok {
			require.NotEqual(t, r, w, s.String())
		}
	}
}

func TestRingBackpressure(t *testing.T) {
	dma := &hwtest.DMA{}
	r := NewRing(4)

	// Region 0 fills; reader gets it and the writer moves to region 1.
	require.NoError(t, r.TransferComplete(dma))
	require.Equal(t, R0W1, r.Status())
	require.Equal(t, 1, dma.Relinks)

	// Region 1 fills before the reader is done: the writer halts.
	require.NoError(t, r.TransferComplete(dma))
	require.Equal(t, R0Wh, r.Status())
	require.Equal(t, 1, dma.Relinks)
	_, ok := r.WriteRegion()
	require.False(t, ok)

	// Another completion while halted is a protocol violation.
	require.ErrorIs(t, r.TransferComplete(dma), ErrUnexpectedTransferDone)

	// Releasing region 0 frees the writer and re-arms at once.
	require.NoError(t, r.ReadDone(dma))
	require.Equal(t, R1W2, r.Status())
	require.Equal(t, 2, dma.Relinks)

	// Releasing without a halted writer does not re-arm.
	require.NoError(t, r.ReadDone(dma))
	require.Equal(t, RhW2, r.Status())
	require.Equal(t, 2, dma.Relinks)

	require.ErrorIs(t, r.ReadDone(dma), ErrUnexpectedReadDone)
}

func TestRingRegions(t *testing.T) {
	dma := &hwtest.DMA{}
	r := NewRing(3)
	w, ok := r.WriteRegion()
	require.True(t, ok)
	copy(w, []uint16{1, 2, 3})
	_, ok = r.ReadRegion()
	require.False(t, ok)

	require.NoError(t, r.TransferComplete(dma))
	got, ok := r.ReadRegion()
	require.True(t, ok)
	require.Equal(t, []uint16{1, 2, 3}, got)

	w, _ = r.WriteRegion()
	copy(w, []uint16{4, 5, 6})
	require.Equal(t, []uint16{1, 2, 3, 4, 5, 6, 0, 0, 0}, r.Buffer.samples)
	require.Equal(t, 3, r.Buffer.RegionLen())
}

func TestRingRandomInterleaving(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		dma := &hwtest.DMA{}
		r := NewRing(1)
		var written, read uint16

		for step := 0; step < 500; step++ {
			s := r.Status()
			rr, rok := s.ReadFrom()
			wr, wok := s.WriteTo()
			if rok && wok {
				require.NotEqual(t, rr, wr, "seed %d step %d: %v", seed, step, s)
			}
			require.True(t, rok || wok, "seed %d: %v stalls both sides", seed, s)

			relinks := dma.Relinks
			if rng.Intn(2) == 0 {
				if !wok {
					require.ErrorIs(t, r.TransferComplete(dma), ErrUnexpectedTransferDone)
					require.Equal(t, s, r.Status())
					continue
				}
				w, _ := r.WriteRegion()
				written++
				w[0] = written
				require.NoError(t, r.TransferComplete(dma))
				if r.Status().IsWriteHalted() {
					require.Equal(t, relinks, dma.Relinks)
				} else {
					require.Equal(t, relinks+1, dma.Relinks)
				}
				continue
			}

			if !rok {
				require.ErrorIs(t, r.ReadDone(dma), ErrUnexpectedReadDone)
				require.Equal(t, s, r.Status())
				continue
			}
			got, _ := r.ReadRegion()
			read++
			// Regions come out in the order they were filled, none lost.
			require.Equal(t, read, got[0], "seed %d step %d", seed, step)
			require.NoError(t, r.ReadDone(dma))
			if s.IsWriteHalted() {
				require.Equal(t, relinks+1, dma.Relinks)
			} else {
				require.Equal(t, relinks, dma.Relinks)
			}
		}
	}
}
