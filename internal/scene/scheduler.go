// SPDX-License-Identifier: MIT

package scene

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Metrics is the Render Scheduler's in-memory-only render metrics record.
// It deliberately carries no liveness/"last seen" field — that belongs
// exclusively to the Watchdog.
type Metrics struct {
	FrameCount      uint64
	LastFrametimeMs int64
	FPS             float64 // exponential moving average
	Pushes          uint64
	Skipped         uint64
	Errors          uint64
}

const fpsEMAAlpha = 0.2

// Scheduler is the per-device Render Scheduler: one logical render loop
// that invokes the active scene's Render hook at its requested cadence,
// with skew compensation so long frames never accumulate drift.
type Scheduler struct {
	deviceID  string
	manager   *Manager
	transport TransportLookup
	logger    *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	inFrame bool
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler constructs a Render Scheduler bound to one device's Scene
// Manager. Call SetArmer on the manager with Arm as the callback to wire
// them together.
func NewScheduler(deviceID string, manager *Manager, transport TransportLookup, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		deviceID:  deviceID,
		manager:   manager,
		transport: transport,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Metrics returns a snapshot of the current render metrics.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Arm schedules the first render for a newly RUNNING or resumed instance.
// Registered with the Manager via SetArmer.
func (s *Scheduler) Arm(inst *Instance) {
	s.scheduleImmediate(inst)
}

// Cancel stops any pending timer. Used when the manager transitions to
// PAUSED or STOPPED; a frame already in flight completes and its output
// is discarded if the generation no longer matches.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Shutdown cancels the scheduler's context, unblocking any in-flight
// render's context.Context consumers, and stops the pending timer.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.Cancel()
}

func (s *Scheduler) scheduleImmediate(inst *Instance) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(0, func() { s.tick(inst) })
	s.mu.Unlock()
}

func (s *Scheduler) scheduleAt(inst *Instance, delay time.Duration) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() { s.tick(inst) })
	s.mu.Unlock()
}

// tick runs exactly one render for inst, if it is still the live
// generation and still RUNNING, then re-arms according to the skew
// compensation rule: next fire time is tStart + max(nextDelayMs, 0), not
// tEnd + nextDelayMs, so a slow frame never accumulates drift beyond one
// interval.
func (s *Scheduler) tick(inst *Instance) {
	if !s.manager.IsCurrentGeneration(inst.GenerationID) {
		s.logger.Debug("scheduler: dropping stale tick", "device", s.deviceID, "generation", inst.GenerationID)
		return
	}

	s.mu.Lock()
	if s.inFrame {
		s.mu.Unlock()
		return
	}
	s.inFrame = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFrame = false
		s.mu.Unlock()
	}()

	current := s.manager.Current()
	if current.GenerationID != inst.GenerationID || current.Status != StatusRunning {
		return
	}

	tStart := time.Now()

	sctx := s.manager.newCtx(s.ctx, inst)
	nextDelayMs, err := inst.impl.Render(sctx)

	// A frame already in flight when the instance is superseded, paused, or
	// stopped still runs to completion, but its output must never reach the
	// transport once that's happened — otherwise a late push can re-draw a
	// screen a Stop() just cleared. Re-check both generation and status,
	// mirroring the pre-render guard above.
	after := s.manager.Current()
	if after.GenerationID != inst.GenerationID || after.Status != StatusRunning {
		s.logger.Debug("scheduler: frame completed after preemption, dropping", "device", s.deviceID, "generation", inst.GenerationID)
		return
	}

	s.mu.Lock()
	s.metrics.FrameCount++
	s.metrics.LastFrametimeMs = time.Since(tStart).Milliseconds()
	frameSeconds := time.Since(tStart).Seconds()
	if frameSeconds > 0 {
		instFPS := 1 / frameSeconds
		if s.metrics.FPS == 0 {
			s.metrics.FPS = instFPS
		} else {
			s.metrics.FPS = fpsEMAAlpha*instFPS + (1-fpsEMAAlpha)*s.metrics.FPS
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.mu.Lock()
		s.metrics.Errors++
		s.mu.Unlock()
		s.manager.ReportRenderError(inst.GenerationID, err)
	} else if transport, ok := s.transport(s.deviceID); ok {
		if fb, ok := sctx.Surface.(*Framebuffer); ok {
			if pushErr := transport.Push(fb.Frame()); pushErr != nil {
				s.mu.Lock()
				s.metrics.Errors++
				s.mu.Unlock()
				s.logger.Warn("scheduler: push failed", "device", s.deviceID, "error", pushErr)
			} else {
				s.mu.Lock()
				s.metrics.Pushes++
				s.mu.Unlock()
			}
		}
	}

	if nextDelayMs <= 0 {
		// wantsLoop=false: one-shot render, no re-arm.
		desc, ok := s.manager.scenes.Lookup(inst.SceneName)
		if ok && !desc.WantsLoop {
			return
		}
	}

	elapsed := time.Since(tStart)
	target := tStart.Add(time.Duration(max(nextDelayMs, 0)) * time.Millisecond)
	delay := time.Until(target)
	if delay < 0 {
		s.mu.Lock()
		s.metrics.Skipped++
		s.mu.Unlock()
		delay = 0
	}
	_ = elapsed

	s.scheduleAt(inst, delay)
}
