// SPDX-License-Identifier: MIT

package store

// Namespace and key names for Persisted Device State. These are the
// fields whose loss across a restart would leave a device in a
// user-visibly wrong state.
const (
	NamespaceDevice = "devices"

	KeyDisplayOn           = "displayOn"
	KeyBrightness          = "brightness"
	KeyActiveScene         = "activeScene"
	KeyActiveScenePayload  = "activeScenePayload"
	KeyPlayState           = "playState"
	KeyLoggingLevel        = "loggingLevel"
)

// DeviceState is a typed read of the persisted fields for one device,
// merged with defaults for anything never written.
type DeviceState struct {
	DisplayOn          bool
	Brightness         int
	ActiveScene        string
	ActiveScenePayload map[string]any
	PlayState          string
	LoggingLevel       string
}

// DefaultDeviceState is returned for a device with no persisted record yet.
func DefaultDeviceState() DeviceState {
	return DeviceState{
		DisplayOn:    true,
		Brightness:   100,
		PlayState:    "stopped",
		LoggingLevel: "info",
	}
}

// GetDeviceState reads the full persisted record for a device, falling back
// to defaults for any field never set.
func (s *Store) GetDeviceState(deviceID string) DeviceState {
	d := DefaultDeviceState()

	if v, ok := s.Get(NamespaceDevice, deviceID, KeyDisplayOn); ok {
		if b, ok := v.(bool); ok {
			d.DisplayOn = b
		}
	}
	if v, ok := s.Get(NamespaceDevice, deviceID, KeyBrightness); ok {
		d.Brightness = toInt(v, d.Brightness)
	}
	if v, ok := s.Get(NamespaceDevice, deviceID, KeyActiveScene); ok {
		if sv, ok := v.(string); ok {
			d.ActiveScene = sv
		}
	}
	if v, ok := s.Get(NamespaceDevice, deviceID, KeyActiveScenePayload); ok {
		if m, ok := v.(map[string]any); ok {
			d.ActiveScenePayload = m
		}
	}
	if v, ok := s.Get(NamespaceDevice, deviceID, KeyPlayState); ok {
		if sv, ok := v.(string); ok {
			d.PlayState = sv
		}
	}
	if v, ok := s.Get(NamespaceDevice, deviceID, KeyLoggingLevel); ok {
		if sv, ok := v.(string); ok {
			d.LoggingLevel = sv
		}
	}
	return d
}

// toInt is forgiving about JSON round-tripped numbers, which decode as
// float64 after Restore() but may arrive as int from in-process callers.
func toInt(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return fallback
	}
}

// SetDisplayOn persists display power. Critical write: flushed immediately.
func (s *Store) SetDisplayOn(deviceID string, on bool) error {
	return s.SetCritical(NamespaceDevice, deviceID, KeyDisplayOn, on)
}

// SetBrightness persists brightness (0-100). Critical write.
func (s *Store) SetBrightness(deviceID string, value int) error {
	return s.SetCritical(NamespaceDevice, deviceID, KeyBrightness, value)
}

// SetActiveScene persists the active scene name and its payload together,
// as a single critical write, so a restart never observes one without the
// other.
func (s *Store) SetActiveScene(deviceID, sceneName string, payload map[string]any) error {
	s.Set(NamespaceDevice, deviceID, KeyActiveScene, sceneName)
	s.Set(NamespaceDevice, deviceID, KeyActiveScenePayload, payload)
	return s.Flush()
}

// SetPlayState persists the scene's play state (running/paused/stopped).
// Critical write.
func (s *Store) SetPlayState(deviceID, state string) error {
	return s.SetCritical(NamespaceDevice, deviceID, KeyPlayState, state)
}

// SetLoggingLevel persists the device's logging level. Not critical: a
// debounced write is acceptable, it is operator/debug convenience only.
func (s *Store) SetLoggingLevel(deviceID, level string) {
	s.Set(NamespaceDevice, deviceID, KeyLoggingLevel, level)
}
