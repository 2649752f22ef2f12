// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockProvider implements StatusProvider for testing.
type mockProvider struct {
	devices []DeviceInfo
}

func (m *mockProvider) Devices() []DeviceInfo {
	return m.devices
}

type mockSystemProvider struct {
	info SystemInfo
}

func (m *mockSystemProvider) SystemInfo() SystemInfo {
	return m.info
}

func TestNewHandler(t *testing.T) {
	h := NewHandler(nil)
	if h == nil {
		t.Fatal("NewHandler returned nil")
	}
}

func TestHealthy(t *testing.T) {
	provider := &mockProvider{
		devices: []DeviceInfo{
			{
				ID:      "panel-1",
				Status:  "online",
				Healthy: true,
			},
		},
	}

	h := NewHandler(provider)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("status = %q, want %q", resp.Status, "healthy")
	}
	if len(resp.Devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(resp.Devices))
	}
	if resp.Devices[0].ID != "panel-1" {
		t.Errorf("device id = %q, want %q", resp.Devices[0].ID, "panel-1")
	}
}

func TestUnhealthy(t *testing.T) {
	provider := &mockProvider{
		devices: []DeviceInfo{
			{ID: "panel-1", Status: "offline", Healthy: false},
		},
	}

	h := NewHandler(provider)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want %q", resp.Status, "unhealthy")
	}
}

func TestNoDevicesIsHealthy(t *testing.T) {
	// An empty fleet (daemon just started, no devices configured yet) is
	// not itself a failure condition, unlike an audio daemon with zero
	// active streams.
	provider := &mockProvider{devices: nil}

	h := NewHandler(provider)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNilProvider(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMixedDevices(t *testing.T) {
	provider := &mockProvider{
		devices: []DeviceInfo{
			{ID: "panel-1", Status: "online", Healthy: true},
			{ID: "panel-2", Status: "offline", Healthy: false},
		},
	}

	h := NewHandler(provider)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(resp.Devices) != 2 {
		t.Errorf("devices = %d, want 2", len(resp.Devices))
	}
}

func TestSystemInfoDegradesHealthyToDegraded(t *testing.T) {
	provider := &mockProvider{
		devices: []DeviceInfo{{ID: "panel-1", Status: "online", Healthy: true}},
	}
	sysProvider := &mockSystemProvider{info: SystemInfo{DiskLowWarning: true}}

	h := NewHandler(provider).WithSystemInfo(sysProvider)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "degraded" {
		t.Errorf("status = %q, want %q", resp.Status, "degraded")
	}
	if resp.System == nil || !resp.System.DiskLowWarning {
		t.Fatal("expected system info with DiskLowWarning set")
	}
}

func TestResponseContentType(t *testing.T) {
	h := NewHandler(&mockProvider{
		devices: []DeviceInfo{{ID: "x", Status: "online", Healthy: true}},
	})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(&mockProvider{})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/healthz", nil)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s: status = %d, want %d", method, rec.Code, http.StatusMethodNotAllowed)
			}
		})
	}
}

func TestMetricsEndpointContainsDeviceGauges(t *testing.T) {
	h := NewHandler(&mockProvider{
		devices: []DeviceInfo{
			{
				ID:      "panel-1",
				Healthy: true,
				Performance: &Performance{
					FrameCount: 42,
					FPS:        9.5,
					Pushes:     40,
					Errors:     2,
				},
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"pidicon_device_healthy{device=\"panel-1\"} 1",
		"pidicon_device_fps{device=\"panel-1\"} 9.500",
		"pidicon_device_pushes_total{device=\"panel-1\"} 40",
		"pidicon_device_errors_total{device=\"panel-1\"} 2",
	} {
		if !containsLine(body, want) {
			t.Errorf("metrics output missing %q\nfull output:\n%s", want, body)
		}
	}
}

func containsLine(body, substr string) bool {
	for i := 0; i+len(substr) <= len(body); i++ {
		if body[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestListenAndServe(t *testing.T) {
	h := NewHandler(&mockProvider{
		devices: []DeviceInfo{{ID: "x", Status: "online", Healthy: true}},
	})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- ListenAndServe(ctx, "127.0.0.1:0", h)
	}()

	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ListenAndServe returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after context cancellation")
	}
}

func TestListenAndServeReadySignalsReady(t *testing.T) {
	h := NewHandler(&mockProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- ListenAndServeReady(ctx, "127.0.0.1:0", h, ready)
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready channel was never closed")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ListenAndServeReady returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServeReady did not return after context cancellation")
	}
}

func TestResponseTimestamp(t *testing.T) {
	h := NewHandler(&mockProvider{
		devices: []DeviceInfo{{ID: "x", Status: "online", Healthy: true}},
	})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	before := time.Now()
	h.ServeHTTP(rec, req)
	after := time.Now()

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Timestamp.Before(before) || resp.Timestamp.After(after) {
		t.Errorf("timestamp %v not between %v and %v", resp.Timestamp, before, after)
	}
}

func TestHeadRequest(t *testing.T) {
	h := NewHandler(&mockProvider{
		devices: []DeviceInfo{{ID: "x", Status: "online", Healthy: true}},
	})
	req := httptest.NewRequest(http.MethodHead, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("HEAD status = %d, want %d", rec.Code, http.StatusOK)
	}
}
