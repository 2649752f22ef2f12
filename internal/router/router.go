// SPDX-License-Identifier: MIT

package router

import (
	"context"
	"log/slog"

	"github.com/markus-barta/pidicon/internal/apperr"
	"github.com/markus-barta/pidicon/internal/registry"
	"github.com/markus-barta/pidicon/internal/scene"
	"github.com/markus-barta/pidicon/internal/store"
)

// Section is the ingress command category. Topic/URL shape is
// <prefix>/<deviceId>/<section>/<action> on the bus, or the REST analogue.
type Section string

const (
	SectionScene      Section = "scene"
	SectionDriver     Section = "driver"
	SectionReset      Section = "reset"
	SectionState      Section = "state"
	SectionDisplay    Section = "display"
	SectionBrightness Section = "brightness"
)

// Command is one parsed, not-yet-validated ingress message.
type Command struct {
	DeviceID       string
	Section        Section
	Action         string
	Payload        map[string]any
	IsContinuation bool // legacy animation-frame continuation marker
}

// Publisher is where the router sends dispatch results. Bus and API
// adapters each implement this to fan a response out over MQTT and/or
// WebSocket.
type Publisher interface {
	PublishOk(deviceID string, result map[string]any)
	PublishError(deviceID, message string, context map[string]any)
}

// ManagerLookup resolves a device's Scene Manager.
type ManagerLookup func(deviceID string) (*scene.Manager, bool)

// DriverFactory builds a fresh transport.Driver for a hot driver swap,
// using the device's configured connection info (base URL / topic) for
// the requested mode.
type DriverFactory func(deviceID string, mode registry.DriverMode) (registry.Driver, error)

// Router is the Command Router.
type Router struct {
	managers ManagerLookup
	devices  *registry.Device
	st       *store.Store
	drivers  DriverFactory
	pub      Publisher
	logger   *slog.Logger
}

// New constructs a Command Router. pub may be nil at construction time and
// wired in later via SetPublisher, the same deferred-wiring pattern
// bus.Client.SetRouter uses, since the API server that usually serves as
// publisher itself depends on the router.
func New(managers ManagerLookup, devices *registry.Device, st *store.Store, drivers DriverFactory, pub Publisher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{managers: managers, devices: devices, st: st, drivers: drivers, pub: pub, logger: logger}
}

// SetPublisher wires the Publisher after construction.
func (r *Router) SetPublisher(pub Publisher) {
	r.pub = pub
}

// Dispatch validates and applies one command. The router is synchronous
// per device (callers must serialize per-device if calling concurrently
// from multiple ingress sources) but independent across devices.
func (r *Router) Dispatch(ctx context.Context, cmd Command) error {
	// Animation-frame gate: continuation frames from legacy ingress are
	// always dropped. The render loop is the only legitimate frame
	// producer.
	if cmd.IsContinuation {
		r.logger.Debug("router: dropping animation continuation frame", "device", cmd.DeviceID)
		return nil
	}

	deviceID, err := SanitizeID(cmd.DeviceID)
	if err != nil {
		r.publishError(cmd.DeviceID, err)
		return err
	}
	cmd.DeviceID = deviceID

	mgr, ok := r.managers(deviceID)
	if !ok {
		err := apperr.NotFoundf("router: unknown device %q", deviceID)
		r.publishError(deviceID, err)
		return err
	}

	var dispatchErr error
	switch cmd.Section {
	case SectionScene:
		dispatchErr = r.dispatchScene(ctx, mgr, cmd)
	case SectionDriver:
		dispatchErr = r.dispatchDriver(cmd)
	case SectionReset:
		dispatchErr = r.dispatchReset(mgr)
	case SectionState:
		dispatchErr = r.dispatchStateUpdate(ctx, mgr, cmd)
	case SectionDisplay:
		dispatchErr = r.dispatchDisplay(cmd)
	case SectionBrightness:
		dispatchErr = r.dispatchBrightness(cmd)
	default:
		dispatchErr = apperr.Validationf("router: unknown section %q", cmd.Section)
	}

	if dispatchErr != nil {
		r.publishError(deviceID, dispatchErr)
		return dispatchErr
	}

	r.publishOk(deviceID)
	return nil
}

func (r *Router) dispatchScene(ctx context.Context, mgr *scene.Manager, cmd Command) error {
	name, ok := cmd.Payload["name"].(string)
	if !ok || name == "" {
		return apperr.Validationf("router: scene command requires a non-empty %q field", "name")
	}
	name, err := SanitizeID(name)
	if err != nil {
		return err
	}
	clear, _ := cmd.Payload["clear"].(bool)
	return mgr.Switch(ctx, name, scene.Payload(cmd.Payload), clear)
}

func (r *Router) dispatchDriver(cmd Command) error {
	driverStr, ok := cmd.Payload["driver"].(string)
	if !ok || (driverStr != string(registry.DriverReal) && driverStr != string(registry.DriverMock)) {
		return apperr.Validationf("router: driver command requires %q to be \"real\" or \"mock\"", "driver")
	}
	mode := registry.DriverMode(driverStr)

	if r.drivers == nil {
		return apperr.Validationf("router: no driver factory configured")
	}
	drv, err := r.drivers(cmd.DeviceID, mode)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "router: building driver", err)
	}
	return r.devices.SwitchDriver(cmd.DeviceID, mode, drv)
}

func (r *Router) dispatchReset(mgr *scene.Manager) error {
	return mgr.Stop(context.Background())
}

func (r *Router) dispatchStateUpdate(ctx context.Context, mgr *scene.Manager, cmd Command) error {
	// A state/upd command re-switches the current scene with a new
	// payload: parameter changes are always authoritative, every command
	// produces a new generation.
	current := mgr.Current()
	if current.SceneName == "" {
		return apperr.Validationf("router: no active scene to update")
	}
	clear, _ := cmd.Payload["clear"].(bool)
	return mgr.Switch(ctx, current.SceneName, scene.Payload(cmd.Payload), clear)
}

func (r *Router) dispatchDisplay(cmd Command) error {
	on, ok := cmd.Payload["on"].(bool)
	if !ok {
		return apperr.Validationf("router: display command requires a boolean %q field", "on")
	}
	if drv, _, _, ok := r.devices.Get(cmd.DeviceID); ok {
		if err := drv.SetPower(on); err != nil {
			return apperr.Wrap(apperr.KindTransport, "router: set power", err)
		}
	}
	if r.st == nil {
		return nil
	}
	return r.st.SetDisplayOn(cmd.DeviceID, on)
}

func (r *Router) dispatchBrightness(cmd Command) error {
	value, ok := numericField(cmd.Payload["value"])
	if !ok || value < 0 || value > 100 {
		return apperr.Validationf("router: brightness command requires a %q field in 0..100", "value")
	}
	if drv, _, _, ok := r.devices.Get(cmd.DeviceID); ok {
		if err := drv.SetBrightness(value); err != nil {
			return apperr.Wrap(apperr.KindTransport, "router: set brightness", err)
		}
	}
	if r.st == nil {
		return nil
	}
	return r.st.SetBrightness(cmd.DeviceID, value)
}

func numericField(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (r *Router) publishOk(deviceID string) {
	if r.pub == nil {
		return
	}
	result := map[string]any{}
	if r.st != nil {
		result["state"] = r.st.GetDeviceState(deviceID)
	}
	r.pub.PublishOk(deviceID, result)
}

func (r *Router) publishError(deviceID string, err error) {
	if r.pub == nil {
		return
	}
	ctxMap := map[string]any{"kind": apperr.KindOf(err).String()}
	if r.st != nil && deviceID != "" {
		ctxMap["state"] = r.st.GetDeviceState(deviceID)
	}
	r.pub.PublishError(deviceID, err.Error(), ctxMap)
}
