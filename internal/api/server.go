// SPDX-License-Identifier: MIT

// Package api implements the REST + WebSocket ingress/egress layer: REST
// endpoints mirroring the bus sections, and a /ws stream of init,
// device_update, scene_switch, and metrics_update messages.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/markus-barta/pidicon/internal/registry"
	"github.com/markus-barta/pidicon/internal/router"
	"github.com/markus-barta/pidicon/internal/scene"
	"github.com/markus-barta/pidicon/internal/store"
	"github.com/markus-barta/pidicon/internal/watchdog"
)

// ManagerLookup resolves a device's Scene Manager, shared with the router.
type ManagerLookup func(deviceID string) (*scene.Manager, bool)

// SchedulerLookup resolves a device's Render Scheduler for metrics.
type SchedulerLookup func(deviceID string) (*scene.Scheduler, bool)

// BuildInfo carries version/commit metadata surfaced by GET /api/status.
type BuildInfo struct {
	Version string
	Commit  string
}

// Server wires the chi router, the WebSocket hub, and the Command Router
// together into one http.Handler for cmd/pidicond.
type Server struct {
	mux        *chi.Mux
	hub        *Hub
	router     *router.Router
	devices    *registry.Device
	scenes     SceneLister
	managers   ManagerLookup
	schedulers SchedulerLookup
	watchdog   *watchdog.Watchdog
	store      *store.Store
	build      BuildInfo
	startedAt  time.Time
	logger     *slog.Logger
}

// SceneLister exposes the Scene Registry's List for GET /api/scenes.
type SceneLister interface {
	List() []scene.Descriptor
}

// Deps bundles Server's collaborators so the constructor signature stays
// manageable as the wiring grows.
type Deps struct {
	Router     *router.Router
	Devices    *registry.Device
	Scenes     SceneLister
	Managers   ManagerLookup
	Schedulers SchedulerLookup
	Watchdog   *watchdog.Watchdog
	Store      *store.Store
	Build      BuildInfo
	Logger     *slog.Logger
}

// NewServer builds the REST + WebSocket handler.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		hub:        newHub(logger),
		router:     d.Router,
		devices:    d.Devices,
		scenes:     d.Scenes,
		managers:   d.Managers,
		schedulers: d.Schedulers,
		watchdog:   d.Watchdog,
		store:      d.Store,
		build:      d.Build,
		startedAt:  time.Now(),
		logger:     logger,
	}

	s.mux = chi.NewRouter()
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(middleware.Timeout(10 * time.Second))

	s.mux.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Post("/devices/{id}/scene", s.handleScene)
		r.Post("/devices/{id}/display", s.handleDisplay)
		r.Post("/devices/{id}/brightness", s.handleBrightness)
		r.Post("/devices/{id}/driver", s.handleDriver)
		r.Post("/devices/{id}/reset", s.handleReset)
		r.Get("/scenes", s.handleListScenes)
	})
	s.mux.Get("/ws", s.handleWS)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Broadcast fans a message out to every connected WebSocket client.
func (s *Server) Broadcast(msgType string, payload map[string]any) {
	s.hub.broadcast(msgType, payload)
}

// PublishOk implements router.Publisher alongside the bus client: a
// command issued over REST also gets its result echoed to WebSocket
// clients as a device_update.
func (s *Server) PublishOk(deviceID string, result map[string]any) {
	s.Broadcast("device_update", map[string]any{"deviceId": deviceID, "result": result})
}

// PublishError implements router.Publisher.
func (s *Server) PublishError(deviceID, message string, ctx map[string]any) {
	body := map[string]any{"deviceId": deviceID, "message": message}
	for k, v := range ctx {
		body[k] = v
	}
	s.Broadcast("error", body)
}

// NotifySceneState implements scene.Notifier for the WebSocket broadcast
// side; the bus client implements the MQTT side separately.
func (s *Server) NotifySceneState(deviceID string, status scene.Status, sceneName string, generationID uint64, ts int64) {
	s.Broadcast("scene_switch", map[string]any{
		"deviceId":     deviceID,
		"status":       status.String(),
		"sceneName":    sceneName,
		"generationId": generationID,
		"ts":           ts,
	})
}

// metricsBroadcastInterval is how often RunMetricsBroadcaster pushes a
// metrics_update message.
const metricsBroadcastInterval = 2 * time.Second

// RunMetricsBroadcaster periodically broadcasts every device's Render
// Scheduler metrics to connected WebSocket clients, until ctx is canceled.
// Registered as its own supervised service so a running daemon's FPS/push/
// error counters are visible to the WebSocket stream without the render
// loop itself having to know about WebSocket clients.
func (s *Server) RunMetricsBroadcaster(ctx context.Context) error {
	if s.schedulers == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(metricsBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.broadcastMetrics()
		}
	}
}

func (s *Server) broadcastMetrics() {
	ids := s.devices.IDs()
	perDevice := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		sched, ok := s.schedulers(id)
		if !ok {
			continue
		}
		m := sched.Metrics()
		perDevice = append(perDevice, map[string]any{
			"deviceId":        id,
			"frameCount":      m.FrameCount,
			"lastFrametimeMs": m.LastFrametimeMs,
			"fps":             m.FPS,
			"pushes":          m.Pushes,
			"skipped":         m.Skipped,
			"errors":          m.Errors,
		})
	}
	s.Broadcast("metrics_update", map[string]any{"devices": perDevice})
}

// Shutdown closes all WebSocket connections.
func (s *Server) Shutdown(_ context.Context) {
	s.hub.closeAll()
}
