// SPDX-License-Identifier: MIT

package router

import (
	"context"
	"testing"

	"github.com/markus-barta/pidicon/internal/registry"
	"github.com/markus-barta/pidicon/internal/scene"
	"github.com/markus-barta/pidicon/internal/store"
)

type fakeScene struct {
	initErr error
}

func (f *fakeScene) Init(ctx *scene.Ctx) error         { return f.initErr }
func (f *fakeScene) Render(ctx *scene.Ctx) (int, error) { return 1000, nil }
func (f *fakeScene) Cleanup(ctx *scene.Ctx) error       { return nil }

type fakeSceneLookup struct{ names map[string]bool }

func (l *fakeSceneLookup) Lookup(name string) (scene.Descriptor, bool) {
	if !l.names[name] {
		return scene.Descriptor{}, false
	}
	return scene.Descriptor{Name: name, WantsLoop: true, New: func() scene.Scene { return &fakeScene{} }}, true
}

type fakeDriver struct {
	brightness int
	power      *bool
}

func (d *fakeDriver) Push([]byte) error { return nil }
func (d *fakeDriver) Clear() error      { return nil }
func (d *fakeDriver) SetBrightness(pct int) error {
	d.brightness = pct
	return nil
}
func (d *fakeDriver) SetPower(on bool) error {
	d.power = &on
	return nil
}
func (d *fakeDriver) HealthCheck() (bool, int64, error) { return true, 1, nil }

type fakePublisher struct {
	oks    []string
	errs   []string
	errMsg string
}

func (p *fakePublisher) PublishOk(deviceID string, result map[string]any) { p.oks = append(p.oks, deviceID) }
func (p *fakePublisher) PublishError(deviceID, message string, context map[string]any) {
	p.errs = append(p.errs, deviceID)
	p.errMsg = message
}

func testRouter(t *testing.T) (*Router, *scene.Manager, *registry.Device, *fakePublisher, *store.Store) {
	t.Helper()
	st := store.New("", nil)
	devices := registry.NewDevice(st)
	drv := &fakeDriver{}
	devices.Register("dev-1", registry.Capabilities{Width: 8, Height: 8}, drv, registry.DriverMock)

	lookup := &fakeSceneLookup{names: map[string]bool{"clock": true}}
	transportLookup := func(string) (scene.Transport, bool) { return drv, true }
	surfaceFactory := func(string) scene.Surface { return scene.NewFramebuffer(8, 8) }

	mgr := scene.NewManager("dev-1", lookup, transportLookup, surfaceFactory, st, nil, nil)

	managers := func(id string) (*scene.Manager, bool) {
		if id == "dev-1" {
			return mgr, true
		}
		return nil, false
	}
	drivers := func(deviceID string, mode registry.DriverMode) (registry.Driver, error) { return &fakeDriver{}, nil }
	pub := &fakePublisher{}

	r := New(managers, devices, st, drivers, pub, nil)
	return r, mgr, devices, pub, st
}

func TestDispatchSceneSwitchesAndPublishesOk(t *testing.T) {
	r, mgr, _, pub, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionScene,
		Payload:  map[string]any{"name": "clock"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if mgr.Current().SceneName != "clock" {
		t.Fatalf("expected scene manager to switch to clock")
	}
	if len(pub.oks) != 1 {
		t.Fatalf("expected one /ok publish, got %d", len(pub.oks))
	}
}

func TestDispatchSceneMissingNameIsValidationError(t *testing.T) {
	r, _, _, pub, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionScene,
		Payload:  map[string]any{},
	})
	if err == nil {
		t.Fatalf("expected validation error for missing scene name")
	}
	if len(pub.errs) != 1 {
		t.Fatalf("expected one /error publish, got %d", len(pub.errs))
	}
}

func TestDispatchSceneUnknownSceneErrors(t *testing.T) {
	r, _, _, _, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionScene,
		Payload:  map[string]any{"name": "nonexistent"},
	})
	if err == nil {
		t.Fatalf("expected error switching to an unregistered scene")
	}
}

func TestDispatchUnknownDeviceErrors(t *testing.T) {
	r, _, _, pub, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "no-such-device",
		Section:  SectionScene,
		Payload:  map[string]any{"name": "clock"},
	})
	if err == nil {
		t.Fatalf("expected error dispatching to an unregistered device")
	}
	if len(pub.errs) != 1 {
		t.Fatalf("expected one /error publish, got %d", len(pub.errs))
	}
}

func TestDispatchAnimationContinuationIsDropped(t *testing.T) {
	r, mgr, _, pub, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID:       "dev-1",
		Section:        SectionScene,
		Payload:        map[string]any{"name": "clock"},
		IsContinuation: true,
	})
	if err != nil {
		t.Fatalf("dropped continuation frame should not error: %v", err)
	}
	if mgr.Current().Status != scene.StatusIdle {
		t.Fatalf("expected continuation frame to be dropped without any state change")
	}
	if len(pub.oks) != 0 || len(pub.errs) != 0 {
		t.Fatalf("expected no publish for a dropped continuation frame")
	}
}

func TestDispatchDisplayPersistsAndCallsDriver(t *testing.T) {
	r, _, devices, _, st := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionDisplay,
		Payload:  map[string]any{"on": false},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	drv, _, _, _ := devices.Get("dev-1")
	fd := drv.(*fakeDriver)
	if fd.power == nil || *fd.power != false {
		t.Errorf("expected driver SetPower(false) to have been called")
	}
	if st.GetDeviceState("dev-1").DisplayOn != false {
		t.Errorf("expected displayOn to be persisted as false")
	}
}

func TestDispatchDisplayMissingFieldIsValidationError(t *testing.T) {
	r, _, _, _, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionDisplay,
		Payload:  map[string]any{},
	})
	if err == nil {
		t.Fatalf("expected validation error for missing \"on\" field")
	}
}

func TestDispatchBrightnessValidatesRange(t *testing.T) {
	r, _, _, _, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionBrightness,
		Payload:  map[string]any{"value": 150},
	})
	if err == nil {
		t.Fatalf("expected validation error for out-of-range brightness")
	}
}

func TestDispatchBrightnessPersists(t *testing.T) {
	r, _, _, _, st := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionBrightness,
		Payload:  map[string]any{"value": 55},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if st.GetDeviceState("dev-1").Brightness != 55 {
		t.Fatalf("expected brightness 55 to be persisted")
	}
}

func TestDispatchResetStopsScene(t *testing.T) {
	r, mgr, _, _, _ := testRouter(t)

	if err := mgr.Switch(context.Background(), "clock", nil, false); err != nil {
		t.Fatalf("seed switch: %v", err)
	}

	if err := r.Dispatch(context.Background(), Command{DeviceID: "dev-1", Section: SectionReset}); err != nil {
		t.Fatalf("dispatch reset: %v", err)
	}
	if mgr.Current().Status != scene.StatusStopped {
		t.Fatalf("expected reset to stop the active scene")
	}
}

func TestDispatchStateUpdateRequiresActiveScene(t *testing.T) {
	r, _, _, _, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionState,
		Payload:  map[string]any{"v": 2},
	})
	if err == nil {
		t.Fatalf("expected error updating state with no active scene")
	}
}

func TestDispatchStateUpdateReswitchesSameScene(t *testing.T) {
	r, mgr, _, _, st := testRouter(t)

	if err := mgr.Switch(context.Background(), "clock", map[string]any{"v": 1}, false); err != nil {
		t.Fatalf("seed switch: %v", err)
	}
	firstGen := mgr.Current().GenerationID

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionState,
		Payload:  map[string]any{"v": 2},
	})
	if err != nil {
		t.Fatalf("dispatch state update: %v", err)
	}
	if mgr.Current().GenerationID <= firstGen {
		t.Fatalf("expected state update to allocate a new generation")
	}
	if got := st.GetDeviceState("dev-1").ActiveScenePayload["v"]; got != 2 {
		t.Fatalf("expected persisted payload to reflect the update, got %v", got)
	}
}

func TestDispatchDriverSwitchesTransport(t *testing.T) {
	r, _, devices, _, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionDriver,
		Payload:  map[string]any{"driver": "real"},
	})
	if err != nil {
		t.Fatalf("dispatch driver switch: %v", err)
	}
	_, _, mode, _ := devices.Get("dev-1")
	if mode != registry.DriverReal {
		t.Fatalf("got mode %q, want real", mode)
	}
}

func TestDispatchDriverInvalidModeErrors(t *testing.T) {
	r, _, _, _, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{
		DeviceID: "dev-1",
		Section:  SectionDriver,
		Payload:  map[string]any{"driver": "bogus"},
	})
	if err == nil {
		t.Fatalf("expected validation error for invalid driver mode")
	}
}

func TestDispatchUnknownSectionErrors(t *testing.T) {
	r, _, _, _, _ := testRouter(t)

	err := r.Dispatch(context.Background(), Command{DeviceID: "dev-1", Section: Section("bogus")})
	if err == nil {
		t.Fatalf("expected error for unknown section")
	}
}

func TestSanitizeIDRejectsHazards(t *testing.T) {
	cases := []string{"", "../etc/passwd", "a/b", "a\\b", "a\x00b", " leading", "trailing "}
	for _, c := range cases {
		if _, err := SanitizeID(c); err == nil {
			t.Errorf("expected SanitizeID(%q) to fail", c)
		}
	}
}

func TestSanitizeIDAcceptsNormalIDs(t *testing.T) {
	cases := []string{"192.168.1.100", "panel_1", "matrix-a"}
	for _, c := range cases {
		if got, err := SanitizeID(c); err != nil || got != c {
			t.Errorf("SanitizeID(%q) = %q, %v; want %q, nil", c, got, err, c)
		}
	}
}
