// Package worker serializes panel writes and refreshes on a single goroutine
// so the render loop never touches the panel directly.
package worker

import (
	"context"
	"image"
	"sync/atomic"

	"epdreader/internal/convert"
	"epdreader/internal/epd"
	appLog "epdreader/internal/log"
	"epdreader/internal/refresh"
)

// Panel is the subset of *epd.Session used by the worker.
type Panel interface {
	Write(r epd.Rect, pixels []byte) error
	RefreshFull(mode epd.Mode) error
	Sleep() error
	Wakeup() error
}

type opKind int

const (
	opWrite opKind = iota
	opRefresh
	opSleep
)

func (k opKind) String() string {
	switch k {
	case opWrite:
		return "write"
	case opRefresh:
		return "refresh"
	case opSleep:
		return "sleep"
	}
	return "unknown"
}

type op struct {
	kind    opKind
	rect    image.Rectangle
	src     *image.Gray
	release func()
}

// QueueLen is the operation queue capacity: one write and one refresh.
const QueueLen = 2

// Options configures a Worker.
type Options struct {
	Policy  *refresh.Policy
	Buckets *refresh.Buckets
	// OnReady is called on the worker goroutine every time the queue drains.
	OnReady func()
}

// Worker owns the panel once Run is started.
type Worker struct {
	panel   Panel
	policy  *refresh.Policy
	buckets *refresh.Buckets
	onReady func()

	ops     chan op
	pending atomic.Int32

	// Worker goroutine only.
	frame  refresh.Frame
	packed []byte
	asleep bool
}

// New creates a worker. Run must be called for operations to make progress.
func New(panel Panel, opts Options) *Worker {
	w := &Worker{
		panel:   panel,
		policy:  opts.Policy,
		buckets: opts.Buckets,
		onReady: opts.OnReady,
		ops:     make(chan op, QueueLen),
	}
	if w.policy == nil {
		w.policy = refresh.NewPolicy(0)
	}
	if w.buckets == nil {
		w.buckets = refresh.DefaultBuckets()
	}
	return w
}

// Run consumes operations until ctx is done. Operations already dequeued
// always run to completion.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-w.ops:
			w.handle(o)
			if w.pending.Add(-1) == 0 && w.onReady != nil {
				w.onReady()
			}
		}
	}
}

// Idle reports whether no operation is queued or running.
func (w *Worker) Idle() bool {
	return w.pending.Load() == 0
}

func (w *Worker) enqueue(ctx context.Context, o op) error {
	w.pending.Add(1)
	select {
	case w.ops <- o:
		return nil
	case <-ctx.Done():
		w.pending.Add(-1)
		return ctx.Err()
	}
}

// Write queues the r region of src for transfer to the panel. src is only
// read; release, if not nil, is called once the worker no longer needs it.
// Write blocks while the queue is full.
func (w *Worker) Write(ctx context.Context, r image.Rectangle, src *image.Gray, release func()) error {
	return w.enqueue(ctx, op{kind: opWrite, rect: r, src: src, release: release})
}

// Refresh queues a full-panel refresh with a policy-selected mode.
func (w *Worker) Refresh(ctx context.Context) error {
	return w.enqueue(ctx, op{kind: opRefresh})
}

// Sleep queues a controller sleep. The next write or refresh wakes it.
func (w *Worker) Sleep(ctx context.Context) error {
	return w.enqueue(ctx, op{kind: opSleep})
}

func (w *Worker) handle(o op) {
	switch o.kind {
	case opWrite:
		w.write(o)
	case opRefresh:
		w.refresh()
	case opSleep:
		if w.asleep {
			return
		}
		if err := w.panel.Sleep(); err != nil {
			appLog.Error("display worker: sleep failed", err)
			return
		}
		w.asleep = true
		appLog.Debug("display worker: panel asleep")
	}
}

func (w *Worker) wake() bool {
	if !w.asleep {
		return true
	}
	if err := w.panel.Wakeup(); err != nil {
		appLog.Error("display worker: wakeup failed", err)
		return false
	}
	w.asleep = false
	return true
}

func (w *Worker) write(o op) {
	n := convert.PackedSize(o.rect)
	if cap(w.packed) < n {
		w.packed = make([]byte, n)
	}
	buf := w.packed[:n]
	_, err := convert.PackGray4(buf, o.src, o.rect, w.buckets, &w.frame)
	if o.release != nil {
		o.release()
	}
	if err != nil {
		appLog.Error("display worker: dropping write", err, "rect", o.rect)
		return
	}
	if !w.wake() {
		return
	}
	if err := w.panel.Write(epd.RectOf(o.rect), buf); err != nil {
		appLog.Error("display worker: write failed", err, "rect", o.rect)
	}
}

func (w *Worker) refresh() {
	if !w.wake() {
		return
	}
	content := w.frame.Mode()
	mode := w.policy.Next(content)
	if err := w.panel.RefreshFull(mode); err != nil {
		appLog.Error("display worker: refresh failed", err, "mode", mode)
		return
	}
	appLog.Debug("display worker: refreshed", "mode", mode, "content", content, "fast", w.policy.Count())
	w.frame.Reset()
}
