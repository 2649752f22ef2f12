// SPDX-License-Identifier: MIT

// Command pidicond is the PIDICON controller daemon. It loads
// configuration, starts the State Store, Device Registry, Scene Registry,
// per-device Scene Managers and Render Schedulers under a supervision
// tree, the Watchdog, the bus client, and the REST/WebSocket API server.
//
// Usage:
//
//	pidicond [options]
//
// Options:
//
//	--config=PATH      Path to config file (default: /etc/pidicon/config.yaml)
//	--lock-dir=PATH    Directory for the single-instance lock file (default: /var/run/pidicon)
//	--log-level=LEVEL  Log level: debug, info, warn, error (default: info)
//	--log-format=FMT   Log output format: json, text (default: json)
//	--help             Show this help message
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/markus-barta/pidicon/internal/api"
	"github.com/markus-barta/pidicon/internal/bus"
	"github.com/markus-barta/pidicon/internal/config"
	"github.com/markus-barta/pidicon/internal/health"
	"github.com/markus-barta/pidicon/internal/lock"
	"github.com/markus-barta/pidicon/internal/registry"
	"github.com/markus-barta/pidicon/internal/router"
	"github.com/markus-barta/pidicon/internal/scene"
	_ "github.com/markus-barta/pidicon/internal/scenes"
	"github.com/markus-barta/pidicon/internal/store"
	"github.com/markus-barta/pidicon/internal/supervisor"
	"github.com/markus-barta/pidicon/internal/util"
	"github.com/markus-barta/pidicon/internal/watchdog"
)

// Build information, set by ldflags at release build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// heartbeatInterval is how often the daemon writes a liveness timestamp to
// the State Store, consulted by the health endpoint's stale-heartbeat
// check.
const heartbeatInterval = 30 * time.Second

var (
	configPath = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	lockDir    = flag.String("lock-dir", "/var/run/pidicon", "Directory for the single-instance lock file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log-format", "json", "Log output format: json, text")
	showHelp   = flag.Bool("help", false, "Show help message")
)

// errFlushFailed marks a shutdown where the final state flush failed,
// which maps to exit code 1 even though the signal itself would otherwise
// produce 130/143.
var errFlushFailed = errors.New("state store flush failed")

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := newLogger(*logLevel, *logFormat)
	logger.Info("pidicond starting", "version", Version, "commit", Commit)

	code, err := run(logger)
	if err != nil {
		if errors.Is(err, errFlushFailed) {
			logger.Error("shutdown flush failed", "error", err)
		} else {
			logger.Error("fatal startup error", "error", err)
		}
	}
	os.Exit(code)
}

// run wires the daemon together and blocks until a shutdown signal is
// handled, returning the process exit code (0 normal, 1 unrecoverable
// startup/flush error, 130 SIGINT, 143 SIGTERM).
func run(logger *slog.Logger) (int, error) {
	cfg, err := loadConfiguration(*configPath, logger)
	if err != nil {
		return 1, fmt.Errorf("load configuration: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := os.MkdirAll(*lockDir, 0o750); err != nil { //nolint:gosec // lock dir needs group read for service monitoring
		return 1, fmt.Errorf("create lock directory: %w", err)
	}
	fl, err := lock.NewFileLock(filepath.Join(*lockDir, "pidicond.lock"))
	if err != nil {
		return 1, fmt.Errorf("create file lock: %w", err)
	}
	if err := fl.Acquire(10 * time.Second); err != nil {
		return 1, fmt.Errorf("acquire single-instance lock: %w", err)
	}
	defer func() { _ = fl.Release() }()

	st := store.New(cfg.Store.Path, logger)
	st.Restore()
	st.MarkStarted()

	busClient := bus.New(bus.Config{
		BrokerURL: cfg.Bus.BrokerURL,
		ClientID:  cfg.Bus.ClientID,
		Username:  cfg.Bus.Username,
		Password:  cfg.Bus.Password,
		Prefix:    cfg.Bus.Prefix,
		QoS:       cfg.Bus.QoS,
	}, logger)

	devices := registry.NewDevice(st)
	scenes := registry.NewScene()
	drivers := &driverFactory{cfg: cfg, bus: busClient}

	managers := make(map[string]*scene.Manager)
	schedulers := make(map[string]*scene.Scheduler)
	managerLookup := func(id string) (*scene.Manager, bool) { m, ok := managers[id]; return m, ok }
	schedulerLookup := func(id string) (*scene.Scheduler, bool) { s, ok := schedulers[id]; return s, ok }

	wd := watchdog.New(func(id string) (watchdog.Prober, registry.DriverMode, bool) {
		drv, _, mode, ok := devices.Get(id)
		return drv, mode, ok
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(logger)

	cmdRouter := router.New(managerLookup, devices, st, drivers.Build, nil, logger)
	busClient.SetRouter(cmdRouter)

	server := api.NewServer(api.Deps{
		Router:     cmdRouter,
		Devices:    devices,
		Scenes:     scenes,
		Managers:   managerLookup,
		Schedulers: schedulerLookup,
		Watchdog:   wd,
		Store:      st,
		Build:      api.BuildInfo{Version: Version, Commit: Commit},
		Logger:     logger,
	})
	cmdRouter.SetPublisher(&fanoutPublisher{bus: busClient, api: server})

	buildInfo := fmt.Sprintf("%s (%s)", Version, Commit)
	transportLookup := func(id string) (scene.Transport, bool) {
		drv, _, _, ok := devices.Get(id)
		return drv, ok
	}
	surfaceFactory := func(id string) scene.Surface {
		caps, _ := devices.Capabilities(id)
		return scene.NewFramebuffer(caps.Width, caps.Height)
	}

	deviceIDs := make([]string, 0, len(cfg.Devices))
	for id := range cfg.Devices {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Strings(deviceIDs)

	for _, id := range deviceIDs {
		devCfg := cfg.GetDeviceConfig(id)

		mode := registry.DriverReal
		if devCfg.Driver == "mock" || devCfg.Driver == "" {
			mode = registry.DriverMock
		}
		if v, ok := st.Get("registry", id, "driverMode"); ok {
			if s, ok := v.(string); ok && (s == string(registry.DriverReal) || s == string(registry.DriverMock)) {
				mode = registry.DriverMode(s)
			}
		}
		drv, err := drivers.Build(id, mode)
		if err != nil {
			logger.Warn("skipping device: failed to build driver", "device", id, "error", err)
			continue
		}
		devices.Register(id, deviceCapabilities(devCfg), drv, mode)

		notify := func(deviceID string, status scene.Status, sceneName string, generationID uint64, ts int64) {
			busClient.PublishSceneState(deviceID, status.String(), sceneName, generationID, buildInfo, ts)
			server.NotifySceneState(deviceID, status, sceneName, generationID, ts)
		}

		mgr := scene.NewManager(id, scenes, transportLookup, surfaceFactory, st, notify, logger)
		sched := scene.NewScheduler(id, mgr, transportLookup, logger)
		mgr.SetArmer(sched.Arm)
		mgr.SetCanceler(sched.Cancel)

		managers[id] = mgr
		schedulers[id] = sched

		sup.Add(&supervisor.DeviceWorker{DeviceID: id, Manager: mgr, Scheduler: sched})

		wd.Watch(ctx, id)

		logger.Info("registered device", "device", id, "driver", devCfg.Driver, "mode", mode)
	}

	if len(managers) == 0 {
		logger.Warn("no devices configured; running with bus and API only")
	}

	devices.SetRerenderFunc(func(deviceID string) {
		sched, ok := schedulers[deviceID]
		if !ok {
			return
		}
		mgr, ok := managers[deviceID]
		if !ok {
			return
		}
		inst := mgr.Current()
		sched.Arm(&inst)
	})

	hp := &healthProvider{devices: devices, schedulers: schedulers, wd: wd, statePath: filepath.Dir(cfg.Store.Path), logger: logger}
	hp.heartbeat = func() int64 {
		_, last := st.DaemonMeta()
		return last
	}
	healthHandler := health.NewHandler(hp).WithSystemInfo(hp)

	sup.Add(supervisor.Func{Name: "bus-client", Run: func(ctx context.Context) error {
		if err := busClient.Connect(ctx); err != nil {
			return fmt.Errorf("bus connect: %w", err)
		}
		if err := busClient.Subscribe(); err != nil {
			return fmt.Errorf("bus subscribe: %w", err)
		}
		<-ctx.Done()
		busClient.Disconnect(250)
		return ctx.Err()
	}})

	sup.Add(supervisor.Func{Name: "api-server", Run: func(ctx context.Context) error {
		return serveHTTP(ctx, cfg.API.ListenAddr, server)
	}})

	sup.Add(supervisor.Func{Name: "metrics-broadcaster", Run: server.RunMetricsBroadcaster})

	sup.Add(supervisor.Func{Name: "health-server", Run: func(ctx context.Context) error {
		ready := make(chan struct{}, 1)
		return health.ListenAndServeReady(ctx, cfg.Monitor.HealthAddr, healthHandler, ready)
	}})

	util.SafeGo("heartbeat", os.Stderr, func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.Heartbeat()
			}
		}
	}, func(r interface{}, stack []byte) {
		logger.Error("heartbeat goroutine panicked", "recover", r, "stack", string(stack))
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	supErrCh := make(chan error, 1)
	go func() { supErrCh <- sup.Serve(ctx) }()

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		<-supErrCh
		if sig == syscall.SIGINT {
			exitCode = 130
		} else {
			exitCode = 143
		}
	case err := <-supErrCh:
		// The supervisor only returns on its own (without us having
		// canceled ctx via a signal) if every service it holds has
		// stopped, which in this daemon only happens on a startup
		// failure inside one of the Func services.
		if err != nil {
			logger.Error("supervisor exited with error", "error", err)
			exitCode = 1
		}
	}

	if err := flushWithTimeout(st, store.FlushTimeout); err != nil {
		return 1, fmt.Errorf("%w: %v", errFlushFailed, err)
	}

	if exitCode == 0 {
		logger.Info("pidicond shutdown complete")
	}
	return exitCode, nil
}

// flushWithTimeout runs a final synchronous Flush but never blocks shutdown
// past timeout: Flush itself has no cancellation point (it's one marshal +
// one atomic rename), so a hang can only come from a wedged filesystem, and
// in that case shutdown should proceed rather than wait forever.
func flushWithTimeout(st *store.Store, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- st.Flush() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("state store flush did not complete within %s", timeout)
	}
}

// fanoutPublisher sends every router.Publisher call to both the bus and
// the API server, so an MQTT-originated command is acked on MQTT and
// broadcast over WebSocket, and vice versa.
type fanoutPublisher struct {
	bus *bus.Client
	api *api.Server
}

func (p *fanoutPublisher) PublishOk(deviceID string, result map[string]any) {
	p.bus.PublishOk(deviceID, result)
	p.api.PublishOk(deviceID, result)
}

func (p *fanoutPublisher) PublishError(deviceID, message string, context map[string]any) {
	p.bus.PublishError(deviceID, message, context)
	p.api.PublishError(deviceID, message, context)
}

// serveHTTP runs handler on addr until ctx is canceled, then shuts down
// gracefully, mirroring the bind-then-serve-then-drain shape
// internal/health.ListenAndServeReady uses for the health endpoint.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		return ctx.Err()
	}
}

// loadConfiguration loads the config file, falling back to built-in
// defaults if it doesn't exist yet (first boot on a fresh container).
func loadConfiguration(path string, logger *slog.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("config file not found, using defaults", "path", path)
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// applyEnvOverrides applies a small set of legacy environment-variable
// overrides, on top of whatever config.LoadConfig
// parsed. Broader env-based layering lives in config.KoanfConfig for
// deployments that want it; this keeps the default binary's contract
// simple and predictable.
func applyEnvOverrides(cfg *config.Config) {
	if port := os.Getenv("PIXOO_WEB_PORT"); port != "" {
		cfg.API.ListenAddr = ":" + port
	}
	if url := os.Getenv("PIDICON_BUS_URL"); url != "" {
		cfg.Bus.BrokerURL = url
	}
	if path := os.Getenv("PIDICON_STATE_PATH"); path != "" {
		cfg.Store.Path = path
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func printUsage() {
	fmt.Println("pidicond - PIDICON controller daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: pidicond [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("pidicond drives one or more networked pixel displays: it loads scenes,")
	fmt.Println("renders them on a schedule, and exposes bus and REST/WebSocket control.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT   Graceful shutdown, exit code 130")
	fmt.Println("  SIGTERM  Graceful shutdown after flush, exit code 143")
}
