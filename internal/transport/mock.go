// SPDX-License-Identifier: MIT

package transport

import (
	"sync"
)

// Mock is an in-memory Driver used when a device's driver mode is "mock".
// It always succeeds, making it useful for development and for scenes
// running against devices that are not physically present.
type Mock struct {
	mu         sync.Mutex
	lastFrame  []byte
	brightness int
	powerOn    bool
	pushCount  int
}

// NewMock constructs a mock driver with the screen initially on at full
// brightness.
func NewMock() *Mock {
	return &Mock{brightness: 100, powerOn: true}
}

func (m *Mock) Push(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFrame = append(m.lastFrame[:0], frame...)
	m.pushCount++
	return nil
}

func (m *Mock) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lastFrame {
		m.lastFrame[i] = 0
	}
	return nil
}

func (m *Mock) SetBrightness(pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brightness = pct
	return nil
}

func (m *Mock) SetPower(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerOn = on
	return nil
}

// HealthCheck always reports success with negligible latency; the
// Watchdog special-cases mock mode anyway (status=online, lastSeenTs=nil)
// but this keeps Mock a fully honest Driver on its own.
func (m *Mock) HealthCheck() (bool, int64, error) {
	return true, 0, nil
}

// PushCount reports how many frames have been pushed, for tests.
func (m *Mock) PushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushCount
}

// LastFrame returns a copy of the most recently pushed frame.
func (m *Mock) LastFrame() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.lastFrame))
	copy(out, m.lastFrame)
	return out
}
