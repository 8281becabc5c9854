// Package app is the render task: it owns the frame, turns touch input into
// screen changes and keeps the status bar current.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/image/font"

	"epdreader/internal/battery"
	"epdreader/internal/capture"
	"epdreader/internal/epub"
	"epdreader/internal/gesture"
	appLog "epdreader/internal/log"
	"epdreader/internal/paginate"
	"epdreader/internal/reader"
	"epdreader/internal/render"
	"epdreader/internal/touch"
	"epdreader/internal/typeset"
)

// Output is the display worker as seen by the render task.
// *worker.Worker implements it.
type Output interface {
	render.Sink
	Sleep(ctx context.Context) error
	Idle() bool
}

// Options configures an App. Faces and Library are required.
type Options struct {
	Library string
	Faces   *typeset.Faces
	// Small is the status bar face; nil uses the normal text face.
	Small font.Face

	LineSpacing  int
	BlockSpacing int
	SectionCache int

	// Input may be nil when no touch controller is present.
	Input          render.InputSource
	PollInterval   time.Duration
	SwipeThreshold int

	Battery battery.Reader
	// Clock supplies the status bar time. nil uses time.Now.
	Clock func() (time.Time, error)
	// StatusSchedule is a standard 5-field cron expression.
	StatusSchedule string

	// SleepAfter puts the panel to sleep after this much idle time.
	// Zero never sleeps.
	SleepAfter time.Duration

	// Dump, if set, receives a PNG of every frame sent to the panel.
	Dump *capture.Dumper
}

// App holds all screen state. Every method runs on the goroutine that
// called Run.
type App struct {
	opts     Options
	out      Output
	canvas   *render.Canvas
	display  *render.Display
	pager    *paginate.Paginator
	detector *gesture.Detector
	schedule cron.Schedule

	ticks    atomic.Uint64
	statusCh chan struct{}

	status    status
	screen    screen
	lib       library
	book      *epub.Book
	view      *reader.View
	toc       list
	popup     *popup
	lastInput time.Time
	asleep    bool
	inputErr  bool

	// now is the wall clock used for sleep gating.
	now func() time.Time
}

const (
	defaultPollInterval   = 20 * time.Millisecond
	defaultStatusSchedule = "* * * * *"
)

// New validates opts and prepares the first frame. Nothing is drawn until
// Run or Once.
func New(out Output, opts Options) (*App, error) {
	if opts.Faces == nil {
		return nil, errors.New("app: faces are required")
	}
	if opts.Library == "" {
		return nil, errors.New("app: library dir is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StatusSchedule == "" {
		opts.StatusSchedule = defaultStatusSchedule
	}
	if opts.SectionCache <= 0 {
		opts.SectionCache = epub.DefaultCacheSize
	}
	if opts.BlockSpacing <= 0 {
		opts.BlockSpacing = 2 * opts.LineSpacing
	}
	if opts.Battery == nil {
		opts.Battery = battery.NewMockReader()
	}
	if opts.Clock == nil {
		opts.Clock = func() (time.Time, error) { return time.Now(), nil }
	}
	sched, err := cron.ParseStandard(opts.StatusSchedule)
	if err != nil {
		return nil, fmt.Errorf("app: status schedule %q: %w", opts.StatusSchedule, err)
	}
	pager, err := paginate.New(opts.Faces, paginate.Viewport{
		Width:        render.ContentWidth,
		Height:       render.ContentHeight,
		BlockSpacing: opts.BlockSpacing,
		LineSpacing:  opts.LineSpacing,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{
		opts:     opts,
		out:      out,
		canvas:   render.NewCanvas(opts.Faces, opts.Small),
		display:  render.NewDisplay(out),
		pager:    pager,
		detector: gesture.NewDetector(opts.SwipeThreshold),
		schedule: sched,
		statusCh: make(chan struct{}, 1),
		screen:   screenLibrary,
		lib:      library{root: opts.Library},
		now:      time.Now,
	}
	return a, nil
}

// Close releases the open book, if any.
func (a *App) Close() {
	a.closeBook()
}

// Ticks returns the number of input polls so far.
func (a *App) Ticks() uint64 { return a.ticks.Load() }

// Once draws the current screen a single time.
func (a *App) Once(ctx context.Context) error {
	a.readStatus(ctx)
	return a.redraw(ctx)
}

// Run draws the current screen and then serves input and status updates
// until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Once(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("app: initial draw failed", err)
	}

	c := cron.New()
	c.Schedule(a.schedule, cron.FuncJob(a.requestStatus))
	c.Start()
	defer c.Stop()

	poll := time.NewTicker(a.opts.PollInterval)
	defer poll.Stop()

	a.lastInput = a.now()
	appLog.Info("app: running", "library", a.opts.Library, "status_schedule", a.opts.StatusSchedule)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.statusCh:
			a.updateStatus(ctx)
		case <-poll.C:
			a.tick(ctx)
		}
	}
}

// requestStatus runs on the cron goroutine.
func (a *App) requestStatus() {
	select {
	case a.statusCh <- struct{}{}:
	default:
	}
}

func (a *App) tick(ctx context.Context) {
	a.ticks.Add(1)
	if a.opts.Input != nil {
		a.poll(ctx)
	}
	a.gateSleep(ctx)
}

func (a *App) poll(ctx context.Context) {
	p, err := a.opts.Input.Read()
	if err != nil {
		// 한 번만 기록하고 복구되면 다시 알린다.
		if !a.inputErr {
			appLog.Warn("app: touch read failed", "error", err)
			a.inputErr = true
		}
		return
	}
	if a.inputErr {
		appLog.Info("app: touch read recovered")
		a.inputErr = false
	}
	if p.State == touch.Pressed {
		a.lastInput = a.now()
		a.asleep = false
	}
	if ev, ok := a.detector.Feed(p); ok {
		a.Handle(ctx, ev)
	}
}

// gateSleep puts the panel to sleep once nothing happened for SleepAfter
// and the worker has nothing left to do.
func (a *App) gateSleep(ctx context.Context) {
	if a.opts.SleepAfter <= 0 || a.asleep {
		return
	}
	if a.now().Sub(a.lastInput) < a.opts.SleepAfter || !a.out.Idle() {
		return
	}
	if err := a.out.Sleep(ctx); err != nil {
		return
	}
	a.asleep = true
	appLog.Debug("app: idle, panel sleep queued", "idle", a.now().Sub(a.lastInput))
}

// Handle applies one gesture to the current screen and redraws.
func (a *App) Handle(ctx context.Context, ev gesture.Event) {
	appLog.Debug("app: gesture", "kind", ev.Kind, "start", ev.Start, "end", ev.End, "screen", a.screen)
	a.lastInput = a.now()
	a.asleep = false
	if a.popup != nil {
		if ev.Kind == gesture.Tap {
			a.popup = nil
		} else {
			return
		}
	} else {
		switch a.screen {
		case screenLibrary:
			a.handleLibrary(ev)
		case screenToc:
			a.handleToc(ev)
		case screenPage:
			a.handlePage(ev)
		}
	}
	if err := a.redraw(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("app: redraw failed", err)
	}
}

func (a *App) redraw(ctx context.Context) error {
	a.canvas.StatusBar(a.status.clock, a.status.battery)
	switch a.screen {
	case screenLibrary:
		a.drawLibrary()
	case screenToc:
		a.drawToc()
	case screenPage:
		a.drawPage()
	}
	if a.popup != nil {
		a.canvas.Popup(a.popup.title, a.popup.message)
	}
	return a.presentErr(ctx)
}

func (a *App) present(ctx context.Context) {
	if err := a.presentErr(ctx); err != nil && ctx.Err() == nil {
		appLog.Error("app: present failed", err)
	}
}

func (a *App) presentErr(ctx context.Context) error {
	frame := a.canvas.Frame()
	sent, err := a.display.Present(ctx, frame)
	if err != nil {
		return err
	}
	if sent && a.opts.Dump != nil {
		if path, err := a.opts.Dump.Save(frame); err != nil {
			appLog.Warn("app: frame dump failed", "error", err)
		} else {
			appLog.Debug("app: frame dumped", "path", path)
		}
	}
	return nil
}
