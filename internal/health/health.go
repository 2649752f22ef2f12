// SPDX-License-Identifier: MIT

// Package health provides an HTTP health check endpoint for the pidicond
// daemon.
//
// The health check exposes device liveness at /healthz as JSON, suitable
// for container orchestrator probes or monitoring systems. A
// Prometheus-compatible /metrics endpoint is also served, providing
// per-device render performance and liveness gauges for fleet monitoring.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// DeviceInfo describes one device's combined health/performance view. It
// deliberately keeps liveness (owned by the Watchdog) and performance
// (owned by the Render Scheduler) as separate sub-fields rather than
// merging them, so the API layer surfaces health separately from
// performance metrics.
type DeviceInfo struct {
	ID          string       `json:"id"`
	Healthy     bool         `json:"healthy"`
	Status      string       `json:"status"`
	LastSeenTs  *int64       `json:"lastSeenTs,omitempty"`
	Performance *Performance `json:"performance,omitempty"`
}

// Performance mirrors scene.Metrics without importing the scene package,
// keeping health a leaf dependency.
type Performance struct {
	FrameCount uint64  `json:"frameCount"`
	FPS        float64 `json:"fps"`
	Pushes     uint64  `json:"pushes"`
	Skipped    uint64  `json:"skipped"`
	Errors     uint64  `json:"errors"`
}

// SystemInfo contains system-level health data included in the health
// response: disk space for the state-file volume and daemon heartbeat
// staleness.
type SystemInfo struct {
	DiskFreeBytes   uint64 `json:"disk_free_bytes"`
	DiskTotalBytes  uint64 `json:"disk_total_bytes"`
	DiskLowWarning  bool   `json:"disk_low_warning,omitempty"`
	StaleHeartbeat  bool   `json:"stale_heartbeat,omitempty"`
	LastHeartbeatTs int64  `json:"last_heartbeat_ts,omitempty"`
}

// StatusProvider returns the current health status of all devices. The
// daemon implements this interface to supply live data.
type StatusProvider interface {
	Devices() []DeviceInfo
}

// SystemInfoProvider returns system-level health data.
type SystemInfoProvider interface {
	SystemInfo() SystemInfo
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Devices   []DeviceInfo `json:"devices"`
	System    *SystemInfo  `json:"system,omitempty"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider    StatusProvider
	sysProvider SystemInfoProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// WithSystemInfo attaches an optional system info provider to the handler.
func (h *Handler) WithSystemInfo(p SystemInfoProvider) *Handler {
	h.sysProvider = p
	return h
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{Timestamp: time.Now()}

	var devices []DeviceInfo
	if h.provider != nil {
		devices = h.provider.Devices()
	}
	resp.Devices = devices

	healthy := true
	for _, d := range devices {
		if !d.Healthy {
			healthy = false
			break
		}
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()
		resp.System = &si
		if si.DiskLowWarning || si.StaleHeartbeat {
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy && resp.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format metrics response. This
// implements a minimal subset of the exposition format without any
// external dependency — no prometheus/client_golang import required.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	var devices []DeviceInfo
	if h.provider != nil {
		devices = h.provider.Devices()
	}

	if len(devices) > 0 {
		fmt.Fprintln(&sb, "# HELP pidicon_device_healthy Is the device currently healthy (1=healthy, 0=not).")
		fmt.Fprintln(&sb, "# TYPE pidicon_device_healthy gauge")
		for _, d := range devices {
			v := 0
			if d.Healthy {
				v = 1
			}
			fmt.Fprintf(&sb, "pidicon_device_healthy{device=%q} %d\n", d.ID, v)
		}

		fmt.Fprintln(&sb, "# HELP pidicon_device_fps Exponential moving average of frames per second.")
		fmt.Fprintln(&sb, "# TYPE pidicon_device_fps gauge")
		for _, d := range devices {
			if d.Performance == nil {
				continue
			}
			fmt.Fprintf(&sb, "pidicon_device_fps{device=%q} %.3f\n", d.ID, d.Performance.FPS)
		}

		fmt.Fprintln(&sb, "# HELP pidicon_device_pushes_total Total frames successfully pushed to the device.")
		fmt.Fprintln(&sb, "# TYPE pidicon_device_pushes_total counter")
		for _, d := range devices {
			if d.Performance == nil {
				continue
			}
			fmt.Fprintf(&sb, "pidicon_device_pushes_total{device=%q} %d\n", d.ID, d.Performance.Pushes)
		}

		fmt.Fprintln(&sb, "# HELP pidicon_device_errors_total Total render/push errors for the device.")
		fmt.Fprintln(&sb, "# TYPE pidicon_device_errors_total counter")
		for _, d := range devices {
			if d.Performance == nil {
				continue
			}
			fmt.Fprintf(&sb, "pidicon_device_errors_total{device=%q} %d\n", d.ID, d.Performance.Errors)
		}
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()

		fmt.Fprintln(&sb, "# HELP pidicon_disk_free_bytes Free bytes on the state-file volume.")
		fmt.Fprintln(&sb, "# TYPE pidicon_disk_free_bytes gauge")
		fmt.Fprintf(&sb, "pidicon_disk_free_bytes %d\n", si.DiskFreeBytes)

		staleVal := 0
		if si.StaleHeartbeat {
			staleVal = 1
		}
		fmt.Fprintln(&sb, "# HELP pidicon_stale_heartbeat 1 when the restored heartbeat is older than expected.")
		fmt.Fprintln(&sb, "# TYPE pidicon_stale_heartbeat gauge")
		fmt.Fprintf(&sb, "pidicon_stale_heartbeat %d\n", staleVal)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health check HTTP server on the given address.
// It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness. The listener is bound synchronously so a port-in-use error is
// returned immediately rather than surfacing only after ctx.Done().
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
