// SPDX-License-Identifier: MIT

// Package supervisor builds the daemon's supervision tree: one
// DeviceWorker per device running its Scene Manager + Render Scheduler
// pair, plus the Watchdog and bus/API servers as sibling services, all
// under one root suture.Supervisor so cmd/pidicond has a single shutdown
// path.
package supervisor

import (
	"context"
	"log/slog"

	"github.com/thejerf/suture/v4"

	"github.com/markus-barta/pidicon/internal/scene"
)

// New constructs the root supervisor. A service that panics or returns an
// error is restarted by suture, isolating one device's failure from the
// rest of the daemon — the supervisor only isolates crashes; the Scene
// Manager owns its own recovery semantics.
func New(logger *slog.Logger) *suture.Supervisor {
	return suture.New("pidicond", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Warn("supervisor event", "event", ev.String())
		},
	})
}

// DeviceWorker adapts a device's Scene Manager + Render Scheduler pair
// into a suture.Service. It does not itself drive the render loop — the
// Scheduler's own timers do that — it holds the pair alive under
// supervision and tears them down cleanly on context cancellation.
type DeviceWorker struct {
	DeviceID  string
	Manager   *scene.Manager
	Scheduler *scene.Scheduler
}

// Serve implements suture.Service. It blocks until ctx is canceled, then
// stops the device's scene and scheduler.
func (w *DeviceWorker) Serve(ctx context.Context) error {
	<-ctx.Done()

	_ = w.Manager.Stop(context.Background())
	w.Scheduler.Shutdown()

	return ctx.Err()
}

// String satisfies suture's optional naming interface for clearer log
// output.
func (w *DeviceWorker) String() string {
	return "device:" + w.DeviceID
}

// Func adapts a plain run function (the watchdog loop, the bus client, the
// API server's ListenAndServe) into a suture.Service without requiring a
// dedicated type for each.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

func (f Func) Serve(ctx context.Context) error { return f.Run(ctx) }
func (f Func) String() string                  { return f.Name }
