// SPDX-License-Identifier: MIT

package registry

import (
	"path/filepath"
	"testing"

	"github.com/markus-barta/pidicon/internal/store"
)

type fakeDriver struct {
	pushed       [][]byte
	brightnessPc int
	power        bool
}

func (f *fakeDriver) Push(frame []byte) error {
	f.pushed = append(f.pushed, frame)
	return nil
}
func (f *fakeDriver) Clear() error                  { return nil }
func (f *fakeDriver) SetBrightness(pct int) error    { f.brightnessPc = pct; return nil }
func (f *fakeDriver) SetPower(on bool) error         { f.power = on; return nil }
func (f *fakeDriver) HealthCheck() (bool, int64, error) { return true, 1, nil }

func TestDeviceRegisterAndGet(t *testing.T) {
	d := NewDevice(store.New("", nil))
	caps := Capabilities{Width: 64, Height: 64, ColorDepth: 8}
	drv := &fakeDriver{}

	d.Register("panel_1", caps, drv, DriverReal)

	gotDrv, gotCaps, mode, ok := d.Get("panel_1")
	if !ok {
		t.Fatalf("expected device to be registered")
	}
	if gotDrv != drv {
		t.Errorf("expected driver to match registered instance")
	}
	if gotCaps != caps {
		t.Errorf("got caps %+v, want %+v", gotCaps, caps)
	}
	if mode != DriverReal {
		t.Errorf("got mode %q, want %q", mode, DriverReal)
	}
}

func TestDeviceGetUnknown(t *testing.T) {
	d := NewDevice(store.New("", nil))
	if _, _, _, ok := d.Get("nope"); ok {
		t.Fatalf("expected unknown device to be absent")
	}
}

func TestDeviceIDs(t *testing.T) {
	d := NewDevice(store.New("", nil))
	d.Register("a", Capabilities{}, &fakeDriver{}, DriverMock)
	d.Register("b", Capabilities{}, &fakeDriver{}, DriverMock)

	ids := d.IDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
}

func TestDeviceRegisterHonorsPersistedDriverMode(t *testing.T) {
	st := store.New("", nil)
	st.Set("registry", "panel_1", "driverMode", string(DriverMock))

	d := NewDevice(st)
	d.Register("panel_1", Capabilities{}, &fakeDriver{}, DriverReal)

	_, _, mode, ok := d.Get("panel_1")
	if !ok {
		t.Fatalf("expected device to be registered")
	}
	if mode != DriverMock {
		t.Errorf("expected persisted driverMode to override initial mode, got %q", mode)
	}
}

func TestDeviceSwitchDriverPersistsAndRerenders(t *testing.T) {
	st := store.New("", nil)
	d := NewDevice(st)
	d.Register("panel_1", Capabilities{}, &fakeDriver{}, DriverReal)

	var rerenderedID string
	d.SetRerenderFunc(func(id string) { rerenderedID = id })

	newDrv := &fakeDriver{}
	if err := d.SwitchDriver("panel_1", DriverMock, newDrv); err != nil {
		t.Fatalf("switch driver: %v", err)
	}

	gotDrv, _, mode, ok := d.Get("panel_1")
	if !ok || gotDrv != newDrv {
		t.Fatalf("expected new driver to be installed")
	}
	if mode != DriverMock {
		t.Errorf("got mode %q, want %q", mode, DriverMock)
	}
	if rerenderedID != "panel_1" {
		t.Errorf("expected rerender callback to fire for panel_1, got %q", rerenderedID)
	}

	v, ok := st.Get("registry", "panel_1", "driverMode")
	if !ok || v != string(DriverMock) {
		t.Errorf("expected persisted driverMode to be %q, got %v", DriverMock, v)
	}
}

func TestDeviceRegisterHonorsPersistedDriverModeAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime-state.json")

	st1 := store.New(path, nil)
	if err := st1.SetCritical("registry", "panel_1", "driverMode", string(DriverMock)); err != nil {
		t.Fatalf("set critical: %v", err)
	}

	st2 := store.New(path, nil)
	st2.Restore()

	d := NewDevice(st2)
	d.Register("panel_1", Capabilities{}, &fakeDriver{}, DriverReal)

	_, _, mode, ok := d.Get("panel_1")
	if !ok {
		t.Fatalf("expected device to be registered")
	}
	if mode != DriverMock {
		t.Errorf("expected driverMode persisted before a restart to survive journal restore, got %q", mode)
	}
}

func TestDeviceSwitchDriverUnknownDevice(t *testing.T) {
	d := NewDevice(store.New("", nil))
	if err := d.SwitchDriver("missing", DriverMock, &fakeDriver{}); err == nil {
		t.Fatalf("expected error switching driver for unknown device")
	}
}

func TestDeviceCapabilities(t *testing.T) {
	d := NewDevice(store.New("", nil))
	caps := Capabilities{Width: 32, Height: 8}
	d.Register("matrix_1", caps, &fakeDriver{}, DriverReal)

	got, ok := d.Capabilities("matrix_1")
	if !ok || got != caps {
		t.Fatalf("got %+v, ok=%v, want %+v", got, ok, caps)
	}

	if _, ok := d.Capabilities("missing"); ok {
		t.Errorf("expected missing device capabilities lookup to fail")
	}
}
