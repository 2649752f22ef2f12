// SPDX-License-Identifier: MIT

package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/markus-barta/pidicon/internal/registry"
)

type fakeProber struct {
	mu      sync.Mutex
	success bool
	latency int64
	err     error
}

func (p *fakeProber) HealthCheck() (bool, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.success, p.latency, p.err
}

func (p *fakeProber) set(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.success = success
}

func newTestWatchdog(prober Prober, mode registry.DriverMode) *Watchdog {
	lookup := func(deviceID string) (Prober, registry.DriverMode, bool) {
		return prober, mode, true
	}
	return New(lookup, nil)
}

// testRegister registers a deviceState directly (bypassing Watch's goroutine loop)
// so probe() can be driven synchronously and deterministically by the test.
func (w *Watchdog) testRegister(deviceID string) *deviceState {
	ds := &deviceState{schedule: NewSchedule(nil, DefaultCooldown)}
	w.mu.Lock()
	w.devices[deviceID] = ds
	w.mu.Unlock()
	return ds
}

func TestProbeMockAlwaysOnline(t *testing.T) {
	w := newTestWatchdog(&fakeProber{success: false}, registry.DriverMock)
	ds := w.testRegister("dev-1")

	w.probe("dev-1", ds)

	rec := w.GetDeviceHealth("dev-1")
	if rec.Status != StatusOnline {
		t.Errorf("expected mock device to report online, got %q", rec.Status)
	}
	if rec.LastSeenTs != nil {
		t.Errorf("expected mock device to have no lastSeenTs, got %v", *rec.LastSeenTs)
	}
}

func TestProbeSuccessSetsOnline(t *testing.T) {
	prober := &fakeProber{success: true, latency: 5}
	w := newTestWatchdog(prober, registry.DriverReal)
	ds := w.testRegister("dev-1")

	w.probe("dev-1", ds)

	rec := w.GetDeviceHealth("dev-1")
	if rec.Status != StatusOnline {
		t.Fatalf("expected online after success, got %q", rec.Status)
	}
	if rec.LastSeenTs == nil {
		t.Fatalf("expected lastSeenTs to be set")
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("expected ConsecutiveFailures to be reset, got %d", rec.ConsecutiveFailures)
	}
}

func TestProbeFailureThresholdsAdvanceStatus(t *testing.T) {
	prober := &fakeProber{success: false}
	w := newTestWatchdog(prober, registry.DriverReal)
	ds := w.testRegister("dev-1")

	// Failure 1: below degradedThreshold (2), stays online.
	w.probe("dev-1", ds)
	if rec := w.GetDeviceHealth("dev-1"); rec.Status != StatusOnline {
		t.Fatalf("expected status to remain online after 1 failure, got %q", rec.Status)
	}

	// Failure 2: reaches degradedThreshold.
	w.probe("dev-1", ds)
	if rec := w.GetDeviceHealth("dev-1"); rec.Status != StatusDegraded {
		t.Fatalf("expected degraded status after 2 failures, got %q", rec.Status)
	}

	// Failure 3: reaches offlineThreshold.
	w.probe("dev-1", ds)
	rec := w.GetDeviceHealth("dev-1")
	if rec.Status != StatusOffline {
		t.Fatalf("expected offline status after 3 failures, got %q", rec.Status)
	}
	if rec.OfflineSince == nil {
		t.Errorf("expected OfflineSince to be set once offline")
	}
}

func TestProbeRecoveryRecordsRecoveredAt(t *testing.T) {
	prober := &fakeProber{success: false}
	w := newTestWatchdog(prober, registry.DriverReal)
	ds := w.testRegister("dev-1")

	w.probe("dev-1", ds)
	w.probe("dev-1", ds)
	w.probe("dev-1", ds)
	if rec := w.GetDeviceHealth("dev-1"); rec.Status != StatusOffline {
		t.Fatalf("expected offline before recovery, got %q", rec.Status)
	}

	prober.set(true)
	w.probe("dev-1", ds)

	rec := w.GetDeviceHealth("dev-1")
	if rec.Status != StatusOnline {
		t.Fatalf("expected online after recovery, got %q", rec.Status)
	}
	if rec.RecoveredAt == nil {
		t.Errorf("expected RecoveredAt to be set on recovery from offline")
	}
}

func TestGetDeviceHealthUnknownDevice(t *testing.T) {
	w := newTestWatchdog(&fakeProber{}, registry.DriverReal)
	if rec := w.GetDeviceHealth("missing"); rec != nil {
		t.Errorf("expected nil record for unwatched device, got %+v", rec)
	}
}

func TestWatchAndUnwatch(t *testing.T) {
	w := newTestWatchdog(&fakeProber{success: true}, registry.DriverMock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Watch(ctx, "dev-1")

	// Give the background loop a moment to run its immediate probe.
	time.Sleep(20 * time.Millisecond)

	if rec := w.GetDeviceHealth("dev-1"); rec == nil {
		t.Fatalf("expected device to be watched")
	}

	w.Unwatch("dev-1")
	if rec := w.GetDeviceHealth("dev-1"); rec != nil {
		t.Errorf("expected device to be unwatched, got %+v", rec)
	}
}

func TestRemediationScheduleSuppressesProbes(t *testing.T) {
	prober := &fakeProber{success: false}
	w := newTestWatchdog(prober, registry.DriverReal)
	ds := w.testRegister("dev-1")

	w.RecordRemediation("dev-1")
	w.probe("dev-1", ds)

	// During cooldown, ShouldProbe is false so probe() returns early:
	// ConsecutiveFailures must stay at zero.
	rec := w.GetDeviceHealth("dev-1")
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("expected probe to be suppressed during remediation cooldown, got %d failures", rec.ConsecutiveFailures)
	}

	w.ResetCounters("dev-1")
	w.probe("dev-1", ds)
	rec = w.GetDeviceHealth("dev-1")
	if rec.ConsecutiveFailures != 1 {
		t.Errorf("expected probe to run after ResetCounters, got %d failures", rec.ConsecutiveFailures)
	}
}
