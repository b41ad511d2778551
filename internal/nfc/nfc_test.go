package nfc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"coldsign/internal/hw/hwtest"
	"coldsign/internal/nfc/fountain"
	"coldsign/internal/nfc/nfca"
	"coldsign/internal/psram"
	"coldsign/internal/scale"

	"github.com/stretchr/testify/require"
)

var (
	deviceKey = [32]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}
	genesis = [32]byte{0x91, 0xb1, 0x71, 0xbb}
)

func metadata() ([]byte, *psram.CheckedMetadata) {
	m := &psram.CheckedMetadata{
		CallTy:       7,
		SpecName:     "westend",
		SpecVersion:  9430,
		Base58Prefix: 42,
		Decimals:     12,
		Unit:         "WND",
	}
	types := []psram.TypeInfo{
		{ID: 7, Path: "RuntimeCall", Def: []byte{1, 2, 3}},
		{ID: 9, Path: "Balance", Def: []byte{4}},
	}
	return psram.AppendMetadata(nil, types, m), m
}

func transactionMessage(signer [32]byte) []byte {
	meta, _ := metadata()
	return EncodeTransaction(genesis, meta, []byte("transfer 1 WND to bob"), signer)
}

func store(t *testing.T, b *hwtest.Bench, msg []byte) (*psram.Device, psram.Access) {
	t.Helper()
	d := psram.On(b.Peripherals.Memory)
	at := psram.MustAddress(0x2000)
	require.NoError(t, d.WriteAt(at, msg))
	return d, psram.Access{Start: at, Len: len(msg)}
}

func TestParsePayloadKinds(t *testing.T) {
	b := hwtest.NewBench()

	d, acc := store(t, b, EncodeStop())
	res, err := parsePayload(d, acc, deviceKey)
	require.NoError(t, err)
	require.Equal(t, &Result{Kind: ResultStop}, res)

	d, acc = store(t, b, EncodeAddressRequest())
	res, err = parsePayload(d, acc, deviceKey)
	require.NoError(t, err)
	require.Equal(t, ResultAddress, res.Kind)

	d, acc = store(t, b, []byte{4, 9, 0})
	res, err = parsePayload(d, acc, deviceKey)
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestParseTransaction(t *testing.T) {
	b := hwtest.NewBench()
	d, acc := store(t, b, transactionMessage(deviceKey))

	res, err := parsePayload(d, acc, deviceKey)
	require.NoError(t, err)
	require.Equal(t, ResultTransaction, res.Kind)
	tx := res.Transaction
	require.Equal(t, genesis, tx.GenesisHash)

	_, want := metadata()
	require.Equal(t, want.SpecName, tx.Metadata.SpecName)
	require.Equal(t, want.Specs(), tx.Metadata.Specs())
	ty, err := tx.Metadata.Types.Resolve(d, 9)
	require.NoError(t, err)
	require.Equal(t, "Balance", ty.Path)

	call, err := d.Read(tx.Payload)
	require.NoError(t, err)
	require.Equal(t, []byte("transfer 1 WND to bob"), call)
}

func TestParseTransactionRejects(t *testing.T) {
	b := hwtest.NewBench()

	other := deviceKey
	other[0] ^= 0xff
	d, acc := store(t, b, transactionMessage(other))
	_, err := parsePayload(d, acc, deviceKey)
	require.ErrorIs(t, err, ErrKeyMismatch)

	msg := transactionMessage(deviceKey)
	// Wrong key type.
	bad := append([]byte(nil), msg...)
	bad[len(bad)-33] = 0
	d, acc = store(t, b, bad)
	_, err = parsePayload(d, acc, deviceKey)
	require.ErrorIs(t, err, ErrKeyMismatch)

	// Cut inside the call data; the length prefix still claims the rest.
	d, acc = store(t, b, msg[:len(msg)-40])
	_, err = parsePayload(d, acc, deviceKey)
	require.ErrorIs(t, err, ErrPayloadFormat)

	d, acc = store(t, b, []byte{0})
	_, err = parsePayload(d, acc, deviceKey)
	require.ErrorIs(t, err, ErrPayloadFormat)
}

func TestCollector(t *testing.T) {
	b := hwtest.NewBench()
	d := psram.On(b.Peripherals.Memory)
	msg := transactionMessage(deviceKey)
	enc, err := fountain.NewEncoder(msg)
	require.NoError(t, err)

	c := Collector{Base: psram.MustAddress(0x100)}
	require.Error(t, c.Add(d, fountain.Packet{}))
	require.Equal(t, Empty, c.State())

	for id := uint32(0); c.State() != Done; id++ {
		require.Less(t, id, uint32(50*enc.Symbols()))
		require.NoError(t, c.Add(d, enc.Packet(id)))
		if c.State() != Done {
			require.Equal(t, InProgress, c.State())
		}
	}
	acc, ok := c.Result()
	require.True(t, ok)
	got, err := d.Read(acc)
	require.NoError(t, err)
	require.Equal(t, msg, got)

	// Done ignores everything, even packets of other messages.
	require.NoError(t, c.Add(d, fountain.Packet{MsgLen: 1}))
	require.Equal(t, Done, c.State())

	c.Reset()
	require.Equal(t, Empty, c.State())
}

// pump plays stamps through ring the way the DMA would, advancing the
// receiver after every region.
func pump(t *testing.T, b *hwtest.Bench, ring *Ring, r *Receiver, stamps []uint16, until func(*Result) bool) *Result {
	t.Helper()
	for len(stamps) > 0 {
		if w, ok := ring.WriteRegion(); ok && len(stamps) >= len(w) {
			copy(w, stamps)
			stamps = stamps[len(w):]
			require.NoError(t, ring.TransferComplete(b.DMA))
		} else if ok {
			break
		}
		res, err := r.Advance(5000)
		require.NoError(t, err)
		if until(res) {
			return res
		}
	}
	return nil
}

func TestReceiverEndToEnd(t *testing.T) {
	b := hwtest.NewBench()
	ring := NewRing(1024)
	r := NewReceiver(b.Handle, ring, deviceKey, Options{})
	require.True(t, r.IsEmpty())

	stamps, err := Synthesize(transactionMessage(deviceKey), 0, 300, nfca.DefaultFreq)
	require.NoError(t, err)

	res := pump(t, b, ring, r, stamps, func(res *Result) bool { return res != nil })
	require.NotNil(t, res)
	require.Equal(t, ResultTransaction, res.Kind)
	require.Equal(t, genesis, res.Transaction.GenesisHash)
	require.True(t, b.DMA.Masked)

	// The receiver answers once.
	res, err = r.Advance(5000)
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestReceiverListensAgainAfterUnknownTag(t *testing.T) {
	b := hwtest.NewBench()
	ring := NewRing(1024)
	r := NewReceiver(b.Handle, ring, deviceKey, Options{})

	// Long enough to need packets from several regions.
	msg := scale.AppendBytes(nil, append([]byte{9}, make([]byte, 200)...))
	stamps, err := Synthesize(msg, 0, 200, nfca.DefaultFreq)
	require.NoError(t, err)

	var started bool
	pump(t, b, ring, r, stamps, func(*Result) bool {
		if !r.IsEmpty() {
			started = true
		}
		return started && r.IsEmpty()
	})
	require.True(t, started)
	require.True(t, r.IsEmpty())
	require.False(t, b.DMA.Masked)
}

func TestReceiverNeedsVoltage(t *testing.T) {
	b := hwtest.NewBench()
	ring := NewRing(4)
	r := NewReceiver(b.Handle, ring, deviceKey, Options{})
	require.NoError(t, ring.TransferComplete(b.DMA))

	res, err := r.Advance(3999)
	require.NoError(t, err)
	require.Nil(t, res)
	require.Equal(t, R0W1, ring.Status())

	_, err = r.Advance(4000)
	require.NoError(t, err)
	require.Equal(t, RhW1, ring.Status())
}

func TestReplay(t *testing.T) {
	b := hwtest.NewBench()
	ring := NewRing(1024)
	stamps, err := Synthesize(EncodeAddressRequest(), 0, 60, nfca.DefaultFreq)
	require.NoError(t, err)
	replay := NewReplay(ring, stamps)
	b.Peripherals.DMA = replay
	r := NewReceiver(b.Handle, ring, deviceKey, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- replay.Run(ctx, b.Handle) }()

	var res *Result
	for res == nil {
		require.NoError(t, ctx.Err(), "no result before timeout")
		res, err = r.Advance(5000)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, ResultAddress, res.Kind)
	require.True(t, replay.Masked())

	// The replay stops at its next link.
	replay.Relink()
	require.NoError(t, <-errc)
}

func TestStampsFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStamps(&buf, []uint16{1, 0x0203, 0xffff}))
	require.Equal(t, []byte{1, 0, 3, 2, 0xff, 0xff}, buf.Bytes())

	got, err := ReadStamps(&buf)
	require.NoError(t, err)
	require.Equal(t, []uint16{1, 0x0203, 0xffff}, got)

	_, err = ReadStamps(bytes.NewReader([]byte{1}))
	require.Error(t, err)
}

func TestReceiverUsesMemoryGeometry(t *testing.T) {
	msg := scale.AppendBytes(nil, append([]byte{9}, make([]byte, 2000)...))
	stamps, err := Synthesize(msg, 0, 40, nfca.DefaultFreq)
	require.NoError(t, err)

	for _, c := range []struct {
		mem   psram.Geometry
		heard bool
	}{
		{psram.Geometry{}, true},
		// Too small to rebuild the message in.
		{psram.Geometry{Capacity: 1024}, false},
	} {
		b := hwtest.NewBench()
		ring := NewRing(1024)
		r := NewReceiver(b.Handle, ring, deviceKey, Options{Memory: c.mem})
		pump(t, b, ring, r, stamps, func(*Result) bool { return false })
		require.Equal(t, c.heard, r.Heard(), "%+v", c.mem)
	}
}
