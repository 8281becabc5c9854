package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"periph.io/x/conn/v3/physic"

	"epdreader/internal/app"
	"epdreader/internal/battery"
	"epdreader/internal/capture"
	"epdreader/internal/config"
	"epdreader/internal/epd"
	appLog "epdreader/internal/log"
	"epdreader/internal/model"
	"epdreader/internal/refresh"
	"epdreader/internal/render"
	"epdreader/internal/rtc"
	"epdreader/internal/touch"
	"epdreader/internal/typeset"
	"epdreader/internal/worker"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	library    string
	book       string
	dump       string
	once       bool
	renderOnly bool
}

// statusFontSize is the status bar text size in points.
const statusFontSize = 20

// shutdownTimeout bounds how long queued panel operations may take on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	appLog.Info("epdreader starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if flags.library != "" {
		conf.Reader.LibraryDir = flags.library
	}
	if lvl, err := appLog.ParseLevel(conf.LogLevel); err != nil {
		appLog.Warn("invalid log level, keeping info", "log_level", conf.LogLevel)
	} else {
		appLog.SetLevel(lvl)
	}

	appLog.Info("effective config",
		"library", conf.Reader.LibraryDir,
		"rotation", conf.Panel.Rotation,
		"fast_per_deep", conf.Refresh.FastPerDeep,
		"sleep_after", conf.Power.SleepAfter,
		"status_cron", conf.Status.Cron,
		"book", flags.book,
		"once", flags.once,
		"render_only", flags.renderOnly,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	err = run(ctx, conf, flags)
	cancel()
	if err != nil {
		appLog.Error("epdreader failed", err)
		os.Exit(1)
	}
	appLog.Info("epdreader exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	faces, err := typeset.LoadFaces(conf.Reader.RegularFont, conf.Reader.BoldFont,
		conf.Reader.FontSize, conf.Reader.HeadingSize)
	if err != nil {
		return err
	}
	defer faces.Close()
	small, err := typeset.LoadFaces(conf.Reader.RegularFont, conf.Reader.BoldFont,
		statusFontSize, statusFontSize)
	if err != nil {
		return err
	}
	defer small.Close()

	var dumper *capture.Dumper
	if flags.dump != "" {
		if dumper, err = capture.New(capture.Options{Dir: flags.dump}); err != nil {
			return err
		}
	}

	panel, mem, closePanel, err := openPanel(conf, flags.renderOnly)
	if err != nil {
		return err
	}
	defer closePanel()

	w := worker.New(panel, worker.Options{
		Policy:  refresh.NewPolicy(conf.Refresh.FastPerDeep),
		Buckets: refresh.NewBuckets(conf.Refresh.DU4Levels),
	})
	wctx, stopWorker := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(wctx)
		close(done)
	}()
	defer func() {
		// Put the panel to sleep and let the queue drain before the
		// session is closed.
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := w.Sleep(sctx); err == nil {
			waitIdle(sctx, w)
		}
		stopWorker()
		<-done
	}()

	opts := app.Options{
		Library:        conf.Reader.LibraryDir,
		Faces:          faces,
		Small:          small.Face(model.Normal),
		LineSpacing:    conf.Reader.LineSpacing,
		SectionCache:   conf.Reader.SectionCache,
		PollInterval:   conf.Touch.PollInterval,
		SwipeThreshold: conf.Touch.SwipeThreshold,
		StatusSchedule: conf.Status.Cron,
		SleepAfter:     conf.Power.SleepAfter,
	}

	dumpBook := flags.renderOnly && flags.book != "" && dumper != nil
	if dumper != nil && !dumpBook {
		opts.Dump = dumper
	}

	if !flags.renderOnly {
		dev, closeTouch, err := openTouch(conf)
		if err != nil {
			appLog.Warn("touch unavailable, running without input", "error", err)
		} else {
			defer closeTouch()
			opts.Input = dev
		}
	}

	bat, closeBattery := battery.DefaultReader(conf.Status.BatteryBus, conf.Status.BatteryAddr,
		conf.Status.MockBattery || flags.renderOnly)
	defer closeBattery()
	opts.Battery = bat

	if conf.Status.UseRTC && !flags.renderOnly {
		clock, closeRTC, err := openRTC(conf)
		if err != nil {
			appLog.Warn("rtc unavailable, using system time", "error", err)
		} else {
			defer closeRTC()
			opts.Clock = clock
		}
	}

	a, err := app.New(w, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if flags.book != "" {
		if err := a.OpenBook(flags.book); err != nil {
			return err
		}
	}

	switch {
	case dumpBook:
		n, err := a.DumpBook(ctx, dumper)
		if err != nil {
			return err
		}
		appLog.Info("pages written", "count", n, "dir", flags.dump)
		return nil

	case flags.once:
		if err := a.Once(ctx); err != nil {
			return err
		}
		waitIdle(ctx, w)
		if mem != nil && dumper != nil {
			path, err := dumper.SaveAs("panel.png", mem.Screen())
			if err != nil {
				return err
			}
			appLog.Info("panel contents written", "path", path, "modes", mem.Modes())
		}
		return nil
	}

	return a.Run(ctx)
}

// openPanel returns the IT8951 session, or an in-memory panel when the
// hardware must not be touched.
func openPanel(conf *config.Config, renderOnly bool) (worker.Panel, *worker.MemoryPanel, func(), error) {
	if renderOnly {
		mem := worker.NewMemoryPanel(render.Width, render.Height)
		return mem, mem, func() {}, nil
	}
	p := conf.Panel
	s, err := epd.Open(epd.HostConfig{
		SPIPort:  p.SPIPort,
		CSPin:    p.CSPin,
		HRDYPin:  p.HRDYPin,
		PowerPin: p.PowerPin,
	}, &epd.Opts{
		Rotation:        epd.RotationFromDegrees(p.Rotation),
		Inverted:        p.Inverted,
		VCOM:            p.VCOMmV,
		HRDYTimeout:     p.HRDYTimeout,
		LUTPollInterval: p.LUTPollInterval,
		MaxTransfer:     p.MaxTransfer,
		Freq:            physic.Frequency(p.SPIHz) * physic.Hertz,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if info, err := s.DeviceInfo(); err == nil {
		appLog.Info("panel ready", "info", info)
	}
	closer := func() {
		if err := s.Deinit(); err != nil {
			appLog.Error("panel deinit failed", err)
		}
	}
	return s, nil, closer, nil
}

func openTouch(conf *config.Config) (*touch.Dev, func(), error) {
	rot, err := touch.RotationFromDegrees(conf.Touch.Rotation)
	if err != nil {
		return nil, nil, err
	}
	dev, closeBus, err := touch.Open(conf.Touch.I2CBus, &touch.Opts{Addr: conf.Touch.Addr, Rotation: rot})
	if err != nil {
		return nil, nil, err
	}
	id, err := dev.ProductID()
	if err != nil {
		closeBus()
		return nil, nil, err
	}
	appLog.Info("touch ready", "device", dev.String(), "product", id)
	return dev, func() { closeBus() }, nil
}

func openRTC(conf *config.Config) (func() (time.Time, error), func(), error) {
	dev, closeBus, err := rtc.Open(conf.Status.RTCBus, conf.Status.RTCAddr)
	if err != nil {
		return nil, nil, err
	}
	if err := dev.Init(); err != nil {
		closeBus()
		return nil, nil, err
	}
	appLog.Info("rtc ready", "device", dev.String())
	return dev.Now, func() { closeBus() }, nil
}

// waitIdle blocks until the worker has drained its queue or ctx is done.
func waitIdle(ctx context.Context, w *worker.Worker) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for !w.Idle() {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epdreader/config.yaml", "Path to config file")
	flag.StringVar(&cfg.library, "library", "", "Library directory (overrides config if set)")
	flag.StringVar(&cfg.book, "book", "", "Open this EPUB at startup")
	flag.StringVar(&cfg.dump, "dump", "", "Write PNG snapshots of frames (or every book page with -render-only -book) to this dir")
	flag.BoolVar(&cfg.once, "once", false, "Draw the first screen and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render only; do not touch display, touch or clock hardware")

	flag.Parse()

	return cfg
}
