// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/markus-barta/pidicon/internal/bus"
	"github.com/markus-barta/pidicon/internal/config"
	"github.com/markus-barta/pidicon/internal/health"
	"github.com/markus-barta/pidicon/internal/registry"
	"github.com/markus-barta/pidicon/internal/scene"
	"github.com/markus-barta/pidicon/internal/transport"
	"github.com/markus-barta/pidicon/internal/watchdog"
)

// driverFactory builds a transport.Driver for a device from its configured
// connection info, or an in-memory mock when the requested mode is mock —
// used both for the
// initial per-device transport and for a later hot driver-swap. A matrix
// driver needs the bus client as its frame/command
// publisher; a panel driver only needs its base URL.
type driverFactory struct {
	cfg *config.Config
	bus *bus.Client
}

// Build constructs a transport.Driver for deviceID in the requested mode.
// Used both for a device's initial driver at startup and as
// router.DriverFactory for a later hot driver-swap.
func (f *driverFactory) Build(deviceID string, mode registry.DriverMode) (registry.Driver, error) {
	if mode == registry.DriverMock {
		return transport.NewMock(), nil
	}

	devCfg := f.cfg.GetDeviceConfig(deviceID)
	switch devCfg.Driver {
	case "panel":
		if devCfg.BaseURL == "" {
			return nil, fmt.Errorf("device %q: panel driver requires base_url", deviceID)
		}
		return transport.NewPanel(devCfg.BaseURL), nil
	case "matrix":
		if devCfg.TopicBase == "" {
			return nil, fmt.Errorf("device %q: matrix driver requires topic_base", deviceID)
		}
		return transport.NewMatrix(deviceID, devCfg.TopicBase, f.bus, devCfg.StatsURL), nil
	default:
		return transport.NewMock(), nil
	}
}

// deviceCapabilities converts a device's config into registry.Capabilities.
func deviceCapabilities(devCfg config.DeviceConfig) registry.Capabilities {
	return registry.Capabilities{
		Width:      devCfg.Width,
		Height:     devCfg.Height,
		ColorDepth: devCfg.ColorDepth,
	}
}

// healthProvider implements health.StatusProvider and health.SystemInfoProvider
// over the running daemon's registries, schedulers, and watchdog.
type healthProvider struct {
	devices    *registry.Device
	schedulers map[string]*scene.Scheduler
	wd         *watchdog.Watchdog
	statePath  string
	heartbeat  func() int64 // last heartbeat timestamp this process wrote, ms since epoch
	logger     *slog.Logger
}

func (h *healthProvider) Devices() []health.DeviceInfo {
	ids := h.devices.IDs()
	out := make([]health.DeviceInfo, 0, len(ids))
	for _, id := range ids {
		info := health.DeviceInfo{ID: id, Healthy: true, Status: "unknown"}

		if rec := h.wd.GetDeviceHealth(id); rec != nil {
			info.Status = string(rec.Status)
			info.LastSeenTs = rec.LastSeenTs
			info.Healthy = rec.Status != watchdog.StatusOffline
		}
		if sch, ok := h.schedulers[id]; ok {
			m := sch.Metrics()
			info.Performance = &health.Performance{
				FrameCount: m.FrameCount,
				FPS:        m.FPS,
				Pushes:     m.Pushes,
				Skipped:    m.Skipped,
				Errors:     m.Errors,
			}
		}
		out = append(out, info)
	}
	return out
}

func (h *healthProvider) SystemInfo() health.SystemInfo {
	si := health.SystemInfo{}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(h.statePath, &stat); err == nil {
		// #nosec G115 -- Bsize is always positive on Linux filesystems
		si.DiskFreeBytes = stat.Bavail * uint64(stat.Bsize)
		// #nosec G115 -- Bsize is always positive on Linux filesystems
		si.DiskTotalBytes = stat.Blocks * uint64(stat.Bsize)
		if si.DiskTotalBytes > 0 {
			usedPct := 100.0 - (float64(si.DiskFreeBytes)/float64(si.DiskTotalBytes))*100.0
			si.DiskLowWarning = usedPct > 90.0
		}
	} else {
		h.logger.Debug("health: disk stat failed", "path", h.statePath, "error", err)
	}

	if h.heartbeat != nil {
		lastHeartbeatTs := h.heartbeat()
		si.LastHeartbeatTs = lastHeartbeatTs
		if lastHeartbeatTs > 0 {
			age := time.Since(time.UnixMilli(lastHeartbeatTs))
			si.StaleHeartbeat = age > 2*heartbeatInterval
		}
	}
	return si
}
