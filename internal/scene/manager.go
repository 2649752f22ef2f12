// SPDX-License-Identifier: MIT

package scene

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markus-barta/pidicon/internal/apperr"
)

// Status is the Scene Instance State's lifecycle position.
type Status int

const (
	StatusIdle Status = iota
	StatusSwitching
	StatusRunning
	StatusPaused
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSwitching:
		return "switching"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Instance is the live Scene Instance State for a device's current
// generation. At most one Instance per device may be in
// {switching, running, paused} at a time.
type Instance struct {
	SceneName    string
	GenerationID uint64
	Status       Status
	Payload      Payload
	StartedAt    time.Time

	impl     Scene
	stateBag map[string]any
}

// Transport is the contract the Scene Manager and Render Scheduler need
// from a device's transport adapter. The manager only ever calls Clear
// (on switch/stop); the scheduler owns the Push path. A single lookup
// function serves both so a driver hot-swap is visible to whichever
// component reads it next.
type Transport interface {
	Push(frame []byte) error
	Clear() error
}

// Notifier broadcasts a scene/state transition to the bus and API layers.
// ts is milliseconds since epoch.
type Notifier func(deviceID string, status Status, sceneName string, generationID uint64, ts int64)

// Persister is the subset of the State Store the manager needs for
// critical-write persistence of the active scene.
type Persister interface {
	SetActiveScene(deviceID, sceneName string, payload map[string]any) error
	SetPlayState(deviceID, state string) error
}

// SceneLookup resolves a scene name to its descriptor.
type SceneLookup interface {
	Lookup(name string) (Descriptor, bool)
}

// TransportLookup resolves a device's current transport, re-fetched on
// every use so a driver hot-swap takes effect without disturbing manager
// state.
type TransportLookup func(deviceID string) (Transport, bool)

// SurfaceFactory builds a fresh drawing surface for a device, sized to its
// capabilities.
type SurfaceFactory func(deviceID string) Surface

// Manager is the per-device Scene Manager: a lifecycle state machine with
// one instance per device. Its methods are safe for concurrent use, but
// the Command Router is expected to serialize calls per device so
// "arrival order" is meaningful.
type Manager struct {
	deviceID string
	logger   *slog.Logger

	scenes    SceneLookup
	transport TransportLookup
	surface   SurfaceFactory
	persist   Persister
	notify    Notifier

	mu         sync.Mutex
	generation uint64
	current    *Instance

	// armNext is set by the manager and consumed by the Render Scheduler:
	// it arms the next frame for the instance that just became RUNNING or
	// RESUMED.
	armNext func(inst *Instance)

	// cancelPending stops the scheduler's pending timer. Wired to the
	// Render Scheduler's Cancel so a transition to PAUSED or STOPPED always
	// cancels the next scheduled tick instead of leaving it to fire and
	// get dropped on its own preemption check.
	cancelPending func()
}

// NewManager constructs a Scene Manager for one device.
func NewManager(deviceID string, scenes SceneLookup, transport TransportLookup, surface SurfaceFactory, persist Persister, notify Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deviceID:  deviceID,
		logger:    logger,
		scenes:    scenes,
		transport: transport,
		surface:   surface,
		persist:   persist,
		notify:    notify,
		current:   &Instance{Status: StatusIdle},
	}
}

// SetArmer wires the Render Scheduler's callback for arming the first frame
// of a newly RUNNING instance. Called once during wiring, before any
// commands are dispatched.
func (m *Manager) SetArmer(fn func(inst *Instance)) {
	m.mu.Lock()
	m.armNext = fn
	m.mu.Unlock()
}

// SetCanceler wires the Render Scheduler's timer-cancellation callback,
// invoked by Pause and Stop so a pending tick never fires after the
// instance has left RUNNING.
func (m *Manager) SetCanceler(fn func()) {
	m.mu.Lock()
	m.cancelPending = fn
	m.mu.Unlock()
}

// Current returns a snapshot of the current instance and its generation.
func (m *Manager) Current() Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.current
}

// Generation returns the device's current generation id.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// IsCurrentGeneration reports whether gen is still the device's live
// generation — the preemption check every async completion must perform
// before touching the transport or manager state.
func (m *Manager) IsCurrentGeneration(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// Switch starts a new scene instance, allocating a new generation.
// Parameter changes are always authoritative: switching to the same
// scene name with a new payload still produces a new generation.
func (m *Manager) Switch(ctx context.Context, sceneName string, payload Payload, clear bool) error {
	desc, ok := m.scenes.Lookup(sceneName)
	if !ok {
		return apperr.NotFoundf("scene manager: unknown scene %q", sceneName)
	}

	m.mu.Lock()
	prev := m.current
	m.generation++
	gen := m.generation

	sameSceneName := prev != nil && prev.SceneName == sceneName
	shouldClear := clear || !sameSceneName

	next := &Instance{
		SceneName:    sceneName,
		GenerationID: gen,
		Status:       StatusSwitching,
		Payload:      payload.Clone(),
		StartedAt:    time.Now(),
		impl:         desc.New(),
		stateBag:     make(map[string]any),
	}
	m.current = next
	m.mu.Unlock()

	// Best-effort cleanup of the previous instance. Never blocks the new
	// switch on its outcome; errors are logged only.
	if prev != nil && prev.impl != nil && prev.Status != StatusStopped {
		m.runCleanup(ctx, prev)
	}

	if transport, ok := m.transport(m.deviceID); ok && shouldClear {
		if err := transport.Clear(); err != nil {
			m.logger.Warn("scene manager: clear screen failed", "device", m.deviceID, "error", err)
		}
	}

	if m.persist != nil {
		if err := m.persist.SetActiveScene(m.deviceID, sceneName, payload); err != nil {
			m.logger.Warn("scene manager: persist active scene failed", "device", m.deviceID, "error", err)
		}
	}

	m.notifyState(next)

	sctx := m.newCtx(ctx, next)
	if err := next.impl.Init(sctx); err != nil {
		m.mu.Lock()
		if m.current == next {
			next.Status = StatusStopped
		}
		m.mu.Unlock()
		m.notifyState(next)
		return apperr.Wrap(apperr.KindScene, fmt.Sprintf("scene %q init failed", sceneName), err)
	}

	m.mu.Lock()
	promoted := m.current == next
	if promoted {
		next.Status = StatusRunning
	}
	armer := m.armNext
	m.mu.Unlock()

	if !promoted {
		// Superseded while init() was running; the new generation already
		// owns the device, this one is dead on arrival.
		return nil
	}

	if m.persist != nil {
		if err := m.persist.SetPlayState(m.deviceID, "running"); err != nil {
			m.logger.Warn("scene manager: persist play state failed", "device", m.deviceID, "error", err)
		}
	}
	m.notifyState(next)

	if armer != nil {
		armer(next)
	}
	return nil
}

// Pause suspends the render loop after the current frame completes.
// Cleanup is not called: a paused scene may be resumed.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status != StatusRunning {
		return apperr.Validationf("scene manager: cannot pause from status %s", m.current.Status)
	}
	m.current.Status = StatusPaused
	cancel := m.cancelPending
	m.notifyStateLocked()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Resume re-enqueues the next frame at the previously requested cadence.
func (m *Manager) Resume() error {
	m.mu.Lock()
	if m.current.Status != StatusPaused {
		m.mu.Unlock()
		return apperr.Validationf("scene manager: cannot resume from status %s", m.current.Status)
	}
	m.current.Status = StatusRunning
	inst := m.current
	armer := m.armNext
	m.mu.Unlock()

	m.notifyState(inst)
	if armer != nil {
		armer(inst)
	}
	return nil
}

// Stop cancels any pending frame, runs cleanup, clears the screen, and
// publishes the stopped state. STOPPED is terminal for this generation.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	inst := m.current
	if inst.Status == StatusStopped {
		m.mu.Unlock()
		return nil
	}
	inst.Status = StatusStopped
	cancel := m.cancelPending
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.runCleanup(ctx, inst)

	if transport, ok := m.transport(m.deviceID); ok {
		if err := transport.Clear(); err != nil {
			m.logger.Warn("scene manager: clear on stop failed", "device", m.deviceID, "error", err)
		}
	}
	if m.persist != nil {
		if err := m.persist.SetPlayState(m.deviceID, "stopped"); err != nil {
			m.logger.Warn("scene manager: persist play state failed", "device", m.deviceID, "error", err)
		}
	}
	m.notifyState(inst)
	return nil
}

// ReportRenderError records that a render call returned an error. The
// loop continues — a bad frame is dropped, not fatal.
func (m *Manager) ReportRenderError(gen uint64, err error) {
	if !m.IsCurrentGeneration(gen) {
		m.logger.Debug("scene manager: dropping stale render error", "device", m.deviceID, "generation", gen)
		return
	}
	m.logger.Warn("scene manager: render error", "device", m.deviceID, "error", err)
}

func (m *Manager) runCleanup(ctx context.Context, inst *Instance) {
	if inst == nil || inst.impl == nil {
		return
	}
	sctx := m.newCtx(ctx, inst)
	if err := inst.impl.Cleanup(sctx); err != nil {
		m.logger.Warn("scene manager: cleanup error (non-fatal)", "device", m.deviceID, "scene", inst.SceneName, "error", err)
	}
}

func (m *Manager) newCtx(ctx context.Context, inst *Instance) *Ctx {
	var surface Surface
	if m.surface != nil {
		surface = m.surface(m.deviceID)
	}
	return &Ctx{
		Context:      ctx,
		DeviceID:     m.deviceID,
		SceneName:    inst.SceneName,
		GenerationID: inst.GenerationID,
		Payload:      inst.Payload,
		Surface:      surface,
		State:        &instanceState{inst: inst},
		Logger:       m.logger.With("device", m.deviceID, "scene", inst.SceneName),
		PublishOk:    func(message string) { m.logger.Info("scene event", "device", m.deviceID, "scene", inst.SceneName, "message", message) },
	}
}

func (m *Manager) notifyState(inst *Instance) {
	if m.notify == nil {
		return
	}
	m.notify(m.deviceID, inst.Status, inst.SceneName, inst.GenerationID, time.Now().UnixMilli())
}

// notifyStateLocked is used where the caller already holds m.mu.
func (m *Manager) notifyStateLocked() {
	if m.notify == nil {
		return
	}
	inst := m.current
	go m.notify(m.deviceID, inst.Status, inst.SceneName, inst.GenerationID, time.Now().UnixMilli())
}

// instanceState implements StateHandle over a scene's private bag, scoped
// to one instance and therefore one generation — it is never shared across
// a switch.
type instanceState struct {
	mu   sync.Mutex
	inst *Instance
}

func (s *instanceState) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.inst.stateBag[key]
	return v, ok
}

func (s *instanceState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inst.stateBag[key] = value
}
