package epd

import (
	"context"
	"time"

	"coldsign/internal/hw"
)

// The helpers below block and must only be used while the peripherals are
// already held, i.e. on the fatal path where nothing else will run again.

// busyPoll is how often the BUSY line is sampled by WaitIdle.
const busyPoll = 5 * time.Millisecond

// delayMs is a plain sleep, kept as a named helper for readability of the
// reset timing.
func delayMs(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// WriteCommand sends opcodes with DC low.
func WriteCommand(d *hw.DisplayPort, cmds ...byte) {
	write(d, true, cmds)
}

// WriteData sends parameter bytes with DC high.
func WriteData(d *hw.DisplayPort, data ...byte) {
	write(d, false, data)
}

func write(d *hw.DisplayPort, command bool, b []byte) {
	d.CS.Deselect()
	d.CS.Select()
	if command {
		d.SelectCommand()
	} else {
		d.SelectData()
	}
	for _, x := range b {
		for !d.Serial.TxReady() {
		}
		d.Serial.Transmit(x)
		for !d.Serial.TxDone() {
		}
		d.Serial.Receive()
	}
	d.CS.Deselect()
}

// WaitIdle blocks until BUSY reads low or ctx is done.
func WaitIdle(ctx context.Context, d *hw.DisplayPort) error {
	if !d.IsBusy() {
		return nil
	}
	t := time.NewTicker(busyPoll)
	defer t.Stop()
	for d.IsBusy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// HardReset pulses the reset line with the controller's settle times.
func HardReset(d *hw.DisplayPort) {
	delayMs(1)
	d.ResetLow()
	delayMs(5)
	d.ResetHigh()
	delayMs(10)
	d.ResetLow()
	delayMs(5)
	d.CS.Deselect()
	delayMs(5)
}

// HardInit resets the controller and waits for it to come out of software
// reset.
func HardInit(ctx context.Context, d *hw.DisplayPort) error {
	HardReset(d)
	if err := WaitIdle(ctx, d); err != nil {
		return err
	}
	WriteCommand(d, OpSoftReset)
	delayMs(10)
	return WaitIdle(ctx, d)
}

// DeepSleep puts the controller into deep sleep mode 2; RAM is not kept.
func DeepSleep(d *hw.DisplayPort) {
	WriteCommand(d, OpDeepSleep)
	WriteData(d, deepSleepRetainNo)
	delayMs(1)
}

// DrawBlocking writes frame into both RAM planes and runs a full refresh.
func DrawBlocking(ctx context.Context, d *hw.DisplayPort, frame []byte) error {
	HardReset(d)
	WriteCommand(d, OpRAMXCursor)
	WriteData(d, 0x00)
	WriteCommand(d, OpRAMYCursor)
	WriteData(d, 0x07)
	WriteCommand(d, OpWriteRAMBW)
	WriteData(d, frame...)
	WriteCommand(d, OpWriteRAMRed)
	WriteData(d, frame...)

	WriteCommand(d, OpSoftReset)
	delayMs(10)
	if err := WaitIdle(ctx, d); err != nil {
		return err
	}
	WriteCommand(d, OpUpdateControl2)
	WriteData(d, 0xf7)
	WriteCommand(d, OpActivate)
	return WaitIdle(ctx, d)
}
