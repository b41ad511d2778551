package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"coldsign/internal/display"
	"coldsign/internal/hw"
	appLog "coldsign/internal/log"
	"coldsign/internal/nfc"
)

// app is one pass of the cooperative scheduler: the frame buffer and the
// receiver are advanced in turn, both gated on the latest supply voltage.
type app struct {
	handle *hw.Handle
	fb     *display.FrameBuffer
	rx     *nfc.Receiver
	key    [32]byte
	volts  func() int

	// maxIdle is how many empty polls pass before the address is shown.
	// Counting stops for good once anything has been received.
	maxIdle   int
	idle      int
	idleShown bool
	// finished is set once a result has been put on screen.
	finished bool
}

// step runs one scheduler pass. done reports that the device has nothing
// left to do once the panel is idle again.
func (a *app) step() (done bool, err error) {
	mv := a.volts()
	a.fb.Advance(mv)
	if a.finished {
		return a.fb.Phase() == display.Idle, nil
	}

	res, err := a.rx.Advance(mv)
	if err != nil {
		return false, err
	}
	if res == nil {
		if !a.idleShown && !a.rx.Heard() {
			a.idle++
			if a.idle >= a.maxIdle {
				appLog.Info("no request seen, showing address", "polls", a.idle)
				a.idleShown = true
				a.fb.ShowAddress(a.key[:])
			}
		}
		return false, nil
	}

	appLog.Info("request received", "kind", res.Kind.String())
	a.finished = true
	switch res.Kind {
	case nfc.ResultStop:
		return a.fb.Phase() == display.Idle, nil
	case nfc.ResultAddress:
		a.fb.ShowAddress(a.key[:])
	case nfc.ResultTransaction:
		a.fb.Block(summary(res.Transaction))
		a.fb.RequestFull()
	}
	return false, nil
}

// safeStep is step with panics turned into errors, so a broken invariant
// still reaches the screen.
func (a *app) safeStep() (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.step()
}

// fail puts err on the panel. The device is expected to halt afterwards.
func (a *app) fail(ctx context.Context, err error) {
	appLog.Error("fatal", err)
	if derr := a.fb.Diagnose(ctx, "Error\n\n"+err.Error()); derr != nil {
		appLog.Error("diagnostic screen failed", derr)
	}
}

// summary is the text shown for a signing request.
func summary(tx *nfc.Transaction) string {
	s := "Sign transaction\n\n"
	if m := tx.Metadata; m != nil {
		s += fmt.Sprintf("Network: %s %d\n", m.SpecName, m.SpecVersion)
		s += fmt.Sprintf("Unit: %s, %d decimals\n", m.Unit, m.Decimals)
	}
	s += fmt.Sprintf("Call: %d bytes\n", tx.Payload.Len)
	s += "Genesis:\n" + hex.EncodeToString(tx.GenesisHash[:])
	return s
}
