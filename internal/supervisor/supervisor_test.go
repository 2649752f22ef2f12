// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/markus-barta/pidicon/internal/registry"
	"github.com/markus-barta/pidicon/internal/scene"
)

func newTestWorker(t *testing.T, deviceID string) *DeviceWorker {
	t.Helper()

	scenes := registry.NewScene()
	mgr := scene.NewManager(deviceID,
		scenes,
		func(string) (scene.Transport, bool) { return nil, false },
		func(string) scene.Surface { return scene.NewFramebuffer(8, 8) },
		nil,
		nil,
		slog.Default(),
	)
	sched := scene.NewScheduler(deviceID, mgr, func(string) (scene.Transport, bool) { return nil, false }, slog.Default())
	mgr.SetArmer(sched.Arm)

	return &DeviceWorker{DeviceID: deviceID, Manager: mgr, Scheduler: sched}
}

func TestDeviceWorkerServeStopsOnCancel(t *testing.T) {
	w := newTestWorker(t, "dev-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestFuncServiceAdaptsPlainRunFunction(t *testing.T) {
	ran := make(chan struct{})
	f := Func{Name: "probe", Run: func(ctx context.Context) error {
		close(ran)
		<-ctx.Done()
		return ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Serve(ctx) }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Func.Serve never invoked Run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Func.Serve did not return after cancellation")
	}

	if f.String() != "probe" {
		t.Fatalf("got %q, want probe", f.String())
	}
}
