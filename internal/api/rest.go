// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markus-barta/pidicon/internal/apperr"
	"github.com/markus-barta/pidicon/internal/router"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindTransport:
		status = http.StatusBadGateway
	case apperr.KindScene:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	startTs, lastHeartbeatTs := int64(0), int64(0)
	if s.store != nil {
		startTs, lastHeartbeatTs = s.store.DaemonMeta()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds":   int(time.Since(s.startedAt).Seconds()),
		"version":         s.build.Version,
		"commit":          s.build.Commit,
		"startTs":         startTs,
		"lastHeartbeatTs": lastHeartbeatTs,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ids := s.devices.IDs()
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.deviceView(id))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, _, _, ok := s.devices.Get(id); !ok {
		writeError(w, apperr.NotFoundf("unknown device %q", id))
		return
	}
	writeJSON(w, http.StatusOK, s.deviceView(id))
}

func (s *Server) deviceView(id string) map[string]any {
	_, caps, mode, _ := s.devices.Get(id)

	view := map[string]any{
		"id":           id,
		"capabilities": caps,
		"driverMode":   mode,
	}
	if s.store != nil {
		view["state"] = s.store.GetDeviceState(id)
	}
	if mgr, ok := s.managers(id); ok {
		inst := mgr.Current()
		view["scene"] = map[string]any{
			"name":         inst.SceneName,
			"status":       inst.Status.String(),
			"generationId": inst.GenerationID,
		}
	}
	if sch, ok := s.schedulers(id); ok {
		view["performance"] = sch.Metrics()
	}
	if s.watchdog != nil {
		if health := s.watchdog.GetDeviceHealth(id); health != nil {
			view["health"] = health
		}
	}
	return view
}

func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scenes.List())
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	s.dispatchJSON(w, r, router.SectionScene, "switch")
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	s.dispatchJSON(w, r, router.SectionDisplay, "set")
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	s.dispatchJSON(w, r, router.SectionBrightness, "set")
}

func (s *Server) handleDriver(w http.ResponseWriter, r *http.Request) {
	s.dispatchJSON(w, r, router.SectionDriver, "switch")
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.dispatchJSON(w, r, router.SectionReset, "reset")
}

func (s *Server) dispatchJSON(w http.ResponseWriter, r *http.Request, section router.Section, action string) {
	id := chi.URLParam(r, "id")

	var payload map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, apperr.Validationf("invalid JSON body: %v", err))
			return
		}
	}

	cmd := router.Command{DeviceID: id, Section: section, Action: action, Payload: payload}
	if err := s.router.Dispatch(r.Context(), cmd); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.deviceView(id))
}
