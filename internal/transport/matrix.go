// SPDX-License-Identifier: MIT

package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Publisher is the minimal bus-publish contract Matrix needs; satisfied by
// *bus.Client without transport importing the bus package, avoiding an
// import cycle (bus depends on the router, which depends on transport's
// Driver interface).
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Matrix is the 32x8 MQTT/HTTP matrix driver. Frames publish over MQTT
// when a Publisher is configured; health/stats fall back to an HTTP GET
// against the device's stats endpoint either way.
type Matrix struct {
	deviceID  string
	topicBase string
	pub       Publisher
	statsURL  string
	client    *http.Client
}

// NewMatrix constructs a Matrix driver. statsURL is used only for
// HealthCheck; frame pushes and commands go only through pub, and fail
// when pub is nil (there is no HTTP frame path).
func NewMatrix(deviceID, topicBase string, pub Publisher, statsURL string) *Matrix {
	return &Matrix{
		deviceID:  deviceID,
		topicBase: topicBase,
		pub:       pub,
		statsURL:  statsURL,
		client:    &http.Client{Timeout: PushTimeout},
	}
}

func (m *Matrix) Push(frame []byte) error {
	payload, err := json.Marshal(map[string]any{
		"pixels": base64.StdEncoding.EncodeToString(frame),
	})
	if err != nil {
		return fmt.Errorf("matrix: marshal frame: %w", err)
	}
	if m.pub == nil {
		return fmt.Errorf("matrix: no publisher configured for device %s", m.deviceID)
	}
	return m.pub.Publish(m.topicBase+"/frame", payload)
}

func (m *Matrix) Clear() error {
	return m.publishAction("clear", nil)
}

func (m *Matrix) SetBrightness(pct int) error {
	return m.publishAction("brightness", map[string]any{"value": pct})
}

func (m *Matrix) SetPower(on bool) error {
	return m.publishAction("power", map[string]any{"on": on})
}

func (m *Matrix) publishAction(action string, payload map[string]any) error {
	if m.pub == nil {
		return fmt.Errorf("matrix: no publisher configured for device %s", m.deviceID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("matrix: marshal %s payload: %w", action, err)
	}
	return m.pub.Publish(m.topicBase+"/"+action, data)
}

// HealthCheck fetches device stats over HTTP even when frames travel over
// MQTT — a dead HTTP stack usually means a dead MQTT client too, but the
// watchdog needs a probe that doesn't depend on broker connectivity.
func (m *Matrix) HealthCheck() (bool, int64, error) {
	if m.statsURL == "" {
		return false, 0, fmt.Errorf("matrix: no stats URL configured for device %s", m.deviceID)
	}

	start := time.Now()
	resp, err := m.client.Get(m.statsURL)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return false, latency, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return false, latency, fmt.Errorf("matrix: stats endpoint returned status %d", resp.StatusCode)
	}
	return true, latency, nil
}
