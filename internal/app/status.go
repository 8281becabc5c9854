package app

import (
	"context"
	"fmt"

	"epdreader/internal/battery"
	appLog "epdreader/internal/log"
)

type status struct {
	clock   string
	battery battery.Status
}

// readStatus samples the clock and the battery. A failed read keeps the
// previous value.
func (a *App) readStatus(ctx context.Context) {
	t, err := a.opts.Clock()
	if err != nil {
		appLog.Warn("app: clock read failed", "error", err)
		if t.IsZero() {
			t = a.now()
		}
	}
	a.status.clock = fmt.Sprintf("%d:%02d", t.Hour(), t.Minute())

	s, err := a.opts.Battery.Read(ctx)
	if err != nil {
		appLog.Warn("app: battery read failed", "error", err)
		return
	}
	a.status.battery = s
}

// updateStatus redraws only the status bar.
func (a *App) updateStatus(ctx context.Context) {
	a.readStatus(ctx)
	a.canvas.StatusBar(a.status.clock, a.status.battery)
	a.present(ctx)
	appLog.Debug("app: status updated", "clock", a.status.clock, "battery", a.status.battery)
}
