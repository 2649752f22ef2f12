// SPDX-License-Identifier: MIT

package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/markus-barta/pidicon/internal/registry"
)

// ProbeInterval is the default per-device liveness check cadence. The
// watchdog never reads scheduler metrics to decide this; it runs on its
// own timer regardless of render activity.
const ProbeInterval = 10 * time.Second

// ProbeTimeout bounds a single health-check call.
const ProbeTimeout = 3 * time.Second

// Status classifies a device's liveness.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// degradedThreshold and offlineThreshold are consecutive-failure counts
// that advance status.
const (
	degradedThreshold = 2
	offlineThreshold  = 3
)

// LastCheck is the result of the most recent probe.
type LastCheck struct {
	Ts        int64
	Success   bool
	LatencyMs int64
	Error     string
}

// LivenessRecord is the Watchdog's owned per-device record — the single
// source of truth for "last seen".
type LivenessRecord struct {
	LastSeenTs           *int64
	Status               Status
	LastCheck            LastCheck
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	OfflineSince         *int64
	RecoveredAt          *int64
}

// Prober is the lightweight transport-specific liveness RPC: a status
// command for the HTTP panel, a stats fetch/subscription for the MQTT
// matrix. It mirrors transport.Driver.HealthCheck exactly so any
// registered driver already satisfies it.
type Prober interface {
	HealthCheck() (success bool, latencyMs int64, err error)
}

// DeviceLookup resolves a device's current prober and whether it runs in
// mock mode (mock devices are always reported online with no lastSeenTs).
type DeviceLookup func(deviceID string) (prober Prober, mode registry.DriverMode, ok bool)

type deviceState struct {
	mu       sync.Mutex
	record   LivenessRecord
	schedule *Schedule
	cancel   context.CancelFunc
}

// Watchdog runs one independent liveness timer per device.
type Watchdog struct {
	lookup DeviceLookup
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*deviceState
}

// New constructs a Watchdog. lookup is consulted on every probe so a
// driver hot-swap takes effect without restarting the watchdog.
func New(lookup DeviceLookup, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{lookup: lookup, logger: logger, devices: make(map[string]*deviceState)}
}

// Watch starts the liveness timer for a device. Safe to call once per
// device at startup.
func (w *Watchdog) Watch(ctx context.Context, deviceID string) {
	dctx, cancel := context.WithCancel(ctx)

	ds := &deviceState{
		schedule: NewSchedule(nil, DefaultCooldown),
		cancel:   cancel,
	}

	w.mu.Lock()
	w.devices[deviceID] = ds
	w.mu.Unlock()

	go w.loop(dctx, deviceID, ds)
}

// Unwatch stops a device's liveness timer, e.g. on deregistration.
func (w *Watchdog) Unwatch(deviceID string) {
	w.mu.Lock()
	ds, ok := w.devices[deviceID]
	delete(w.devices, deviceID)
	w.mu.Unlock()
	if ok {
		ds.cancel()
	}
}

func (w *Watchdog) loop(ctx context.Context, deviceID string, ds *deviceState) {
	ticker := time.NewTicker(ProbeInterval)
	defer ticker.Stop()

	w.probe(deviceID, ds)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(deviceID, ds)
		}
	}
}

func (w *Watchdog) probe(deviceID string, ds *deviceState) {
	prober, mode, ok := w.lookup(deviceID)
	if !ok {
		return
	}

	now := time.Now()

	if mode == registry.DriverMock {
		ds.mu.Lock()
		ds.record.Status = StatusOnline
		ds.record.LastSeenTs = nil
		ds.record.LastCheck = LastCheck{Ts: now.UnixMilli(), Success: true}
		ds.mu.Unlock()
		return
	}

	if !ds.schedule.ShouldProbe(now) {
		return
	}

	resultCh := make(chan struct {
		success bool
		latency int64
		err     error
	}, 1)

	go func() {
		success, latency, err := prober.HealthCheck()
		resultCh <- struct {
			success bool
			latency int64
			err     error
		}{success, latency, err}
	}()

	var success bool
	var latency int64
	var probeErr error

	select {
	case res := <-resultCh:
		success, latency, probeErr = res.success, res.latency, res.err
	case <-time.After(ProbeTimeout):
		success = false
		probeErr = context.DeadlineExceeded
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.record.Status == "" {
		ds.record.Status = StatusOnline
	}

	errMsg := ""
	if probeErr != nil {
		errMsg = probeErr.Error()
	}
	ds.record.LastCheck = LastCheck{Ts: now.UnixMilli(), Success: success, LatencyMs: latency, Error: errMsg}

	if success {
		ds.schedule.RecordSuccess()
		ds.record.ConsecutiveSuccesses++
		ds.record.ConsecutiveFailures = 0
		ts := now.UnixMilli()
		ds.record.LastSeenTs = &ts
		wasOffline := ds.record.Status != StatusOnline
		ds.record.Status = StatusOnline
		ds.record.OfflineSince = nil
		if wasOffline {
			recovered := now.UnixMilli()
			ds.record.RecoveredAt = &recovered
		}
		return
	}

	ds.schedule.RecordFailure(now)
	ds.record.ConsecutiveFailures++
	ds.record.ConsecutiveSuccesses = 0

	prevStatus := ds.record.Status
	switch {
	case ds.record.ConsecutiveFailures >= offlineThreshold:
		ds.record.Status = StatusOffline
	case ds.record.ConsecutiveFailures >= degradedThreshold:
		ds.record.Status = StatusDegraded
	}
	if prevStatus == StatusOnline && ds.record.Status != StatusOnline {
		ts := now.UnixMilli()
		ds.record.OfflineSince = &ts
	}

	if probeErr != nil {
		w.logger.Debug("watchdog: probe failed", "device", deviceID, "error", probeErr)
	}
}

// GetDeviceHealth returns a copy of a device's liveness record, or nil if
// the device is not watched.
func (w *Watchdog) GetDeviceHealth(deviceID string) *LivenessRecord {
	w.mu.Lock()
	ds, ok := w.devices[deviceID]
	w.mu.Unlock()
	if !ok {
		return nil
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	rec := ds.record
	return &rec
}

// RecordRemediation notifies a device's schedule that a remediation
// command was just issued, starting the cooldown/backoff window.
func (w *Watchdog) RecordRemediation(deviceID string) {
	w.mu.Lock()
	ds, ok := w.devices[deviceID]
	w.mu.Unlock()
	if !ok {
		return
	}
	ds.schedule.RecordRemediation(time.Now())
}

// ResetCounters clears a device's remediation backoff immediately.
func (w *Watchdog) ResetCounters(deviceID string) {
	w.mu.Lock()
	ds, ok := w.devices[deviceID]
	w.mu.Unlock()
	if !ok {
		return
	}
	ds.schedule.ResetCounters()
}
