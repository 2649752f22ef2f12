// SPDX-License-Identifier: MIT

// Package registry implements the Device Registry and Scene Registry: the
// leaf lookups that map a device identity to its transport adapter and a
// scene name to its module.
package registry

import (
	"fmt"
	"sync"

	"github.com/markus-barta/pidicon/internal/store"
)

// Capabilities describes a device's display surface.
type Capabilities struct {
	Width         int
	Height        int
	ColorDepth    int
	SupportsText  bool
	SupportsAudio bool
}

// DriverMode selects which transport implementation serves a device.
type DriverMode string

const (
	DriverReal DriverMode = "real"
	DriverMock DriverMode = "mock"
)

// Driver is the minimal transport contract the registry hot-swaps. It
// mirrors transport.Driver; defined again here to keep this package free of
// an import-cycle-prone dependency on internal/transport's construction
// helpers.
type Driver interface {
	Push(frame []byte) error
	Clear() error
	SetBrightness(pct int) error
	SetPower(on bool) error
	HealthCheck() (success bool, latencyMs int64, err error)
}

// RerenderFunc asks the Scene Manager to re-push the current frame at the
// device's current generation, used after a driver hot-swap so the new
// transport receives the live frame instead of staying dark until the next
// scheduled render.
type RerenderFunc func(deviceID string)

// deviceEntry is the registry's internal record for one device.
type deviceEntry struct {
	mu           sync.RWMutex
	id           string
	capabilities Capabilities
	driver       Driver
	driverMode   DriverMode
}

// Device is the Device Registry: maps device ID to {transport, capabilities,
// driverMode}. It does not own state; it consults the State Store for the
// persisted driver choice on boot.
type Device struct {
	mu       sync.RWMutex
	devices  map[string]*deviceEntry
	store    *store.Store
	rerender RerenderFunc
}

// NewDevice constructs an empty Device Registry. rerender may be nil during
// construction and wired in later via SetRerenderFunc once the Scene
// Manager exists (the two have a natural circular dependency).
func NewDevice(st *store.Store) *Device {
	return &Device{
		devices: make(map[string]*deviceEntry),
		store:   st,
	}
}

// SetRerenderFunc wires the callback used after a driver hot-swap.
func (d *Device) SetRerenderFunc(fn RerenderFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rerender = fn
}

// Register adds a device with its capabilities and initial driver. If the
// State Store has a persisted driver mode for this ID it overrides
// initialMode; initialDriver is stored as given.
func (d *Device) Register(id string, caps Capabilities, initialDriver Driver, initialMode DriverMode) {
	mode := initialMode
	if d.store != nil {
		if v, ok := d.store.Get("registry", id, "driverMode"); ok {
			if s, ok := v.(string); ok && (s == string(DriverReal) || s == string(DriverMock)) {
				mode = DriverMode(s)
			}
		}
	}

	entry := &deviceEntry{
		id:           id,
		capabilities: caps,
		driver:       initialDriver,
		driverMode:   mode,
	}

	d.mu.Lock()
	d.devices[id] = entry
	d.mu.Unlock()
}

// Get returns the driver and capabilities for a device.
func (d *Device) Get(id string) (driver Driver, caps Capabilities, mode DriverMode, ok bool) {
	d.mu.RLock()
	entry, present := d.devices[id]
	d.mu.RUnlock()
	if !present {
		return nil, Capabilities{}, "", false
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.driver, entry.capabilities, entry.driverMode, true
}

// IDs returns all registered device IDs.
func (d *Device) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.devices))
	for id := range d.devices {
		ids = append(ids, id)
	}
	return ids
}

// SwitchDriver atomically hot-swaps the transport for a device without
// disturbing Scene Manager state, then triggers a re-render of the current
// scene at the same generation so the new transport receives the current
// frame.
func (d *Device) SwitchDriver(id string, mode DriverMode, driver Driver) error {
	d.mu.RLock()
	entry, present := d.devices[id]
	d.mu.RUnlock()
	if !present {
		return fmt.Errorf("registry: unknown device %q", id)
	}

	entry.mu.Lock()
	entry.driver = driver
	entry.driverMode = mode
	entry.mu.Unlock()

	if d.store != nil {
		d.store.Set("registry", id, "driverMode", string(mode))
	}

	d.mu.RLock()
	rerender := d.rerender
	d.mu.RUnlock()
	if rerender != nil {
		rerender(id)
	}
	return nil
}

// Capabilities returns a device's declared capabilities.
func (d *Device) Capabilities(id string) (Capabilities, bool) {
	_, caps, _, ok := d.Get(id)
	return caps, ok
}
