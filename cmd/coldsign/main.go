package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coldsign/internal/battery"
	"coldsign/internal/config"
	"coldsign/internal/display"
	"coldsign/internal/hw"
	appLog "coldsign/internal/log"
	"coldsign/internal/nfc"
	"coldsign/internal/nfc/fountain"
	"coldsign/internal/psram"
)

// flagConfig holds CLI flag values before the config file is read.
type flagConfig struct {
	configPath string
	capture    string
	logLevel   string

	// record writes a synthetic capture and exits.
	record     string
	recordKind string
	packets    int
}

func main() {
	flags := parseFlags()
	defer appLog.Flush()
	appLog.Info("coldsign starting", "version", "0.1.0")

	if flags.record != "" {
		if err := record(flags); err != nil {
			appLog.Error("failed to write capture", err, "path", flags.record)
			os.Exit(1)
		}
		return
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if flags.capture != "" {
		conf.NFC.Capture = flags.capture
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if lvl, err := appLog.ParseLevel(conf.LogLevel); err == nil {
		appLog.SetLevel(lvl)
	} else {
		appLog.Error("ignoring log level", err)
	}

	appLog.Info("effective config",
		"spi_port", conf.SPI.Port,
		"spi_mhz", conf.SPI.FreqMHz,
		"nfc_freq", conf.NFC.Freq,
		"region_len", conf.NFC.RegionLen,
		"capture", conf.NFC.Capture,
		"battery_mock", conf.Battery.Mock,
		"poll", conf.Poll,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("coldsign stopped", err)
		appLog.Flush()
		os.Exit(1)
	}
	appLog.Info("coldsign exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	key, err := conf.Key()
	if err != nil {
		return err
	}

	var stamps []uint16
	if conf.NFC.Capture != "" {
		f, err := os.Open(conf.NFC.Capture)
		if err != nil {
			return err
		}
		stamps, err = nfc.ReadStamps(f)
		f.Close()
		if err != nil {
			return err
		}
		appLog.Info("replaying capture", "path", conf.NFC.Capture, "stamps", len(stamps))
	}

	ring := nfc.NewRing(conf.NFC.RegionLen)
	replay := nfc.NewReplay(ring, stamps)

	bus, err := hw.Open(conf, replay)
	if err != nil {
		return err
	}
	defer bus.Close()
	handle := hw.NewHandle(bus.Peripherals)
	geom := psram.Geometry{PageSize: conf.Memory.PageSize, Capacity: conf.Memory.Capacity}

	var memErr error
	handle.InFree(func(p *hw.Peripherals) {
		dev := geom.On(p.Memory)
		if memErr = dev.Reset(); memErr != nil {
			return
		}
		id, err := dev.ReadID()
		if err != nil {
			memErr = err
			return
		}
		appLog.Debug("psram ready", "id", fmt.Sprintf("% x", id), "size", dev.Size())
	})

	mon, err := battery.NewMonitor(battery.DefaultReader(ctx, conf.Battery), conf.Battery.Sample)
	if err != nil {
		return fmt.Errorf("battery: sample schedule: %w", err)
	}
	mon.Start(ctx)

	a := &app{
		handle: handle,
		fb: display.New(handle, display.Thresholds{
			Full: conf.Power.FullRefreshMv,
			Fast: conf.Power.FastRefreshMv,
			Part: conf.Power.PartRefreshMv,
		}),
		rx: nfc.NewReceiver(handle, ring, key, nfc.Options{
			Freq:          conf.NFC.Freq,
			MinMillivolts: conf.Power.NFCMinMv,
			Memory:        geom,
		}),
		key:     key,
		volts:   mon.Millivolts,
		maxIdle: conf.NFC.MaxEmptyCycles,
	}
	if memErr != nil {
		return halt(ctx, a, fmt.Errorf("external memory: %w", memErr))
	}

	go func() {
		if err := replay.Run(ctx, handle); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("capture replay stopped", err)
		}
	}()

	t := time.NewTicker(conf.Poll)
	defer t.Stop()
	for {
		done, err := a.safeStep()
		if err != nil {
			return halt(ctx, a, err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// halt puts err on the panel and keeps it there until the process is
// signalled.
func halt(ctx context.Context, a *app, err error) error {
	a.fail(ctx, err)
	<-ctx.Done()
	return err
}

// record synthesises a capture of a stop or address request, for benches
// without a reader.
func record(flags flagConfig) error {
	var msg []byte
	switch flags.recordKind {
	case "address":
		msg = nfc.EncodeAddressRequest()
	case "stop":
		msg = nfc.EncodeStop()
	default:
		return fmt.Errorf("unknown request kind %q", flags.recordKind)
	}
	count := flags.packets
	if count <= 0 {
		enc, err := fountain.NewEncoder(msg)
		if err != nil {
			return err
		}
		count = 2*enc.Symbols() + 8
	}
	stamps, err := nfc.Synthesize(msg, 0, count, config.DefaultConfig().NFC.Freq)
	if err != nil {
		return err
	}

	f, err := os.Create(flags.record)
	if err != nil {
		return err
	}
	if err := nfc.WriteStamps(f, stamps); err != nil {
		f.Close()
		return err
	}
	appLog.Info("capture written", "path", flags.record, "kind", flags.recordKind, "packets", count)
	return f.Close()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/coldsign/config.yaml", "Path to config file")
	flag.StringVar(&cfg.capture, "capture", "", "Recorded capture to replay (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "DEBUG, INFO or ERROR (overrides config if set)")
	flag.StringVar(&cfg.record, "record", "", "Write a synthetic capture to this path and exit")
	flag.StringVar(&cfg.recordKind, "record-kind", "address", "Request in the synthetic capture: address or stop")
	flag.IntVar(&cfg.packets, "packets", 0, "Packets in the synthetic capture (0 picks enough for a lossless link)")

	// glog writes to files under /tmp unless told otherwise; a signer has no
	// use for those. -logtostderr=false restores them.
	_ = flag.Set("logtostderr", "true")

	flag.Parse()

	return cfg
}
