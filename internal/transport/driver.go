// SPDX-License-Identifier: MIT

// Package transport implements the hardware-facing adapters: the HTTP
// panel driver, the MQTT/HTTP matrix driver, and an in-memory mock driver.
// All three implement the single Driver interface the core depends on.
package transport

import "time"

// PushTimeout is the default timeout for a transport push.
const PushTimeout = 5 * time.Second

// Driver is the transport contract the Scene Manager, Render Scheduler,
// and Watchdog depend on. Frame format is opaque to the core; each driver
// interprets the raw RGB bytes for its own wire format.
type Driver interface {
	Push(frame []byte) error
	Clear() error
	SetBrightness(pct int) error
	SetPower(on bool) error
	HealthCheck() (success bool, latencyMs int64, err error)
}
