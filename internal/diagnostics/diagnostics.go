// Package diagnostics provides system and fleet health checks for
// pidicond, surfaced through pidicon-ctl diag.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/markus-barta/pidicon/internal/config"
)

// CheckResult is the result of a single diagnostic check.
type CheckResult struct {
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Status      CheckStatus   `json:"status"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Duration    time.Duration `json:"duration"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// CheckStatus indicates the result of a check.
type CheckStatus string

const (
	StatusOK       CheckStatus = "OK"
	StatusWarning  CheckStatus = "WARNING"
	StatusCritical CheckStatus = "CRITICAL"
	StatusSkipped  CheckStatus = "SKIPPED"
	StatusError    CheckStatus = "ERROR"
)

// DiagnosticReport contains results from all diagnostic checks.
type DiagnosticReport struct {
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
	SystemInfo *SystemInfo   `json:"system_info"`
	Checks     []CheckResult `json:"checks"`
	Summary    *Summary      `json:"summary"`
	Healthy    bool          `json:"healthy"`
}

// SystemInfo contains basic system information.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Kernel       string `json:"kernel"`
	Architecture string `json:"architecture"`
	CPUs         int    `json:"cpus"`
	Memory       int64  `json:"memory_bytes"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
}

// Summary contains a summary of check results.
type Summary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Skipped  int `json:"skipped"`
	Error    int `json:"error"`
}

// CheckMode determines which checks to run.
type CheckMode string

const (
	ModeQuick CheckMode = "quick" // Essential checks only
	ModeFull  CheckMode = "full"  // All checks (default)
	ModeDebug CheckMode = "debug" // All checks; same checks and output as full
)

// Diagnostic thresholds, configurable for different deployment scenarios.
const (
	DiskUsageCriticalPercent = 95
	DiskUsageWarningPercent  = 85

	FDUsageCriticalPercent = 80
	FDUsageWarningPercent  = 50

	MemoryUsageCriticalPercent = 90
	MemoryUsageWarningPercent  = 75

	MinInotifyWatches = 256

	TimeWaitWarningThreshold = 1000

	MinEntropyBytes = 256

	// probeTimeout bounds every network reachability probe this package runs.
	probeTimeout = 2 * time.Second
)

// Options configures the diagnostic run.
type Options struct {
	Mode       CheckMode
	ConfigPath string
	StatePath  string
	LockDir    string
	Config     *config.Config // optional; loaded lazily from ConfigPath if nil
	Output     io.Writer
	Verbose    bool
}

// DefaultOptions returns default diagnostic options.
func DefaultOptions() Options {
	return Options{
		Mode:       ModeFull,
		ConfigPath: config.ConfigFilePath,
		StatePath:  "/data/runtime-state.json",
		LockDir:    "/var/run/pidicon",
		Output:     os.Stdout,
		Verbose:    false,
	}
}

// Runner executes diagnostic checks.
type Runner struct {
	opts Options
}

// NewRunner creates a new diagnostic runner.
func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Run executes all diagnostic checks and returns a report.
func (r *Runner) Run(ctx context.Context) (*DiagnosticReport, error) {
	start := time.Now()

	report := &DiagnosticReport{
		Timestamp:  start,
		SystemInfo: r.collectSystemInfo(),
		Summary:    &Summary{},
	}

	for _, check := range r.getChecks() {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
			result := check(ctx)
			report.Checks = append(report.Checks, result)

			report.Summary.Total++
			switch result.Status {
			case StatusOK:
				report.Summary.OK++
			case StatusWarning:
				report.Summary.Warning++
			case StatusCritical:
				report.Summary.Critical++
			case StatusSkipped:
				report.Summary.Skipped++
			case StatusError:
				report.Summary.Error++
			}
		}
	}

	report.Duration = time.Since(start)
	report.Healthy = report.Summary.Critical == 0 && report.Summary.Error == 0

	return report, nil
}

// getChecks returns the checks to run based on mode.
func (r *Runner) getChecks() []func(context.Context) CheckResult {
	quickChecks := []func(context.Context) CheckResult{
		r.checkConfig,
		r.checkLockDir,
		r.checkStateFile,
		r.checkDiskSpace,
	}

	if r.opts.Mode == ModeQuick {
		return quickChecks
	}

	return []func(context.Context) CheckResult{
		r.checkConfig,
		r.checkLockDir,
		r.checkStateFile,
		r.checkBusConnectivity,
		r.checkDeviceReachability,
		r.checkAPIPort,
		r.checkDiskSpace,
		r.checkFileDescriptors,
		r.checkMemory,
		r.checkTimeSynchronization,
		r.checkDaemonProcess,
		r.checkInotifyLimits,
		r.checkTCPResources,
		r.checkEntropy,
	}
}

// collectSystemInfo gathers basic system information.
func (r *Runner) collectSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}

	if data, err := os.ReadFile("/proc/version"); err == nil {
		parts := strings.Fields(string(data))
		if len(parts) >= 3 {
			info.Kernel = parts[2]
		}
	}

	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "MemTotal:") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
						info.Memory = kb * 1024
					}
				}
				break
			}
		}
	}

	if data, err := os.ReadFile("/proc/uptime"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 1 {
			if secs, err := strconv.ParseFloat(fields[0], 64); err == nil {
				info.Uptime = formatDuration(time.Duration(secs) * time.Second)
			}
		}
	}

	return info
}

// loadConfig returns the configured Config, loading it from ConfigPath if
// it was not preloaded onto Options.
func (r *Runner) loadConfig() (*config.Config, error) {
	if r.opts.Config != nil {
		return r.opts.Config, nil
	}
	return config.LoadConfig(r.opts.ConfigPath)
}

// Individual check implementations

func (r *Runner) checkConfig(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Configuration", Category: "Config"}

	if _, err := os.Stat(r.opts.ConfigPath); os.IsNotExist(err) {
		result.Status = StatusCritical
		result.Message = "Configuration file not found"
		result.Details = r.opts.ConfigPath
		result.Suggestions = append(result.Suggestions, "Create a config file at "+r.opts.ConfigPath)
		result.Duration = time.Since(start)
		return result
	}

	cfg, err := r.loadConfig()
	if err != nil {
		result.Status = StatusCritical
		result.Message = "Configuration file invalid"
		result.Details = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("Configuration valid (%d device(s))", len(cfg.Devices))
	result.Details = r.opts.ConfigPath
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkLockDir(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Lock Directory", Category: "System"}

	info, err := os.Stat(r.opts.LockDir)
	switch {
	case os.IsNotExist(err):
		result.Status = StatusOK
		result.Message = "Lock directory will be created on first run"
	case err != nil:
		result.Status = StatusError
		result.Message = "Failed to stat lock directory"
		result.Details = err.Error()
	case !info.IsDir():
		result.Status = StatusCritical
		result.Message = "Lock path exists but is not a directory"
	default:
		result.Status = StatusOK
		result.Message = "Lock directory exists"
		entries, _ := os.ReadDir(r.opts.LockDir)
		locks := 0
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".lock") {
				locks++
			}
		}
		if locks > 0 {
			result.Details = fmt.Sprintf("%d active lock(s)", locks)
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkStateFile(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "State File", Category: "Storage"}

	dir := filepath.Dir(r.opts.StatePath)
	probe := filepath.Join(dir, ".diag-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil { // #nosec G306 -- probe file, non-sensitive
		result.Status = StatusCritical
		result.Message = "State directory is not writable"
		result.Details = err.Error()
		result.Suggestions = append(result.Suggestions, "Check permissions on "+dir)
		result.Duration = time.Since(start)
		return result
	}
	_ = os.Remove(probe)

	if info, err := os.Stat(r.opts.StatePath); err == nil {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("State file present (%s)", formatBytes(info.Size()))
	} else {
		result.Status = StatusOK
		result.Message = "State file will be created on first flush"
	}
	result.Details = r.opts.StatePath
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkBusConnectivity(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Message Bus", Category: "Network"}

	cfg, err := r.loadConfig()
	if err != nil || cfg.Bus.BrokerURL == "" {
		result.Status = StatusSkipped
		result.Message = "No broker configured"
		result.Duration = time.Since(start)
		return result
	}

	addr := brokerHostPort(cfg.Bus.BrokerURL)
	if addr == "" {
		result.Status = StatusWarning
		result.Message = "Could not parse broker URL"
		result.Details = cfg.Bus.BrokerURL
		result.Duration = time.Since(start)
		return result
	}

	if isPortOpen(addr) {
		result.Status = StatusOK
		result.Message = "Broker reachable"
		result.Details = addr
	} else {
		result.Status = StatusCritical
		result.Message = "Broker not reachable"
		result.Details = addr
		result.Suggestions = append(result.Suggestions, "Check the broker is running and reachable from this host")
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDeviceReachability(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Device Reachability", Category: "Devices"}

	cfg, err := r.loadConfig()
	if err != nil || len(cfg.Devices) == 0 {
		result.Status = StatusSkipped
		result.Message = "No devices configured"
		result.Duration = time.Since(start)
		return result
	}

	var unreachable []string
	for id, dev := range cfg.Devices {
		if dev.BaseURL == "" {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, dev.BaseURL, nil)
		if err == nil {
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				unreachable = append(unreachable, id)
			} else {
				_ = resp.Body.Close()
			}
		}
		cancel()
	}

	if len(unreachable) == 0 {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("%d device(s) configured, all HTTP devices reachable", len(cfg.Devices))
	} else {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%d device(s) unreachable", len(unreachable))
		result.Details = strings.Join(unreachable, ", ")
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkAPIPort(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "API Port", Category: "Network"}

	cfg, err := r.loadConfig()
	if err != nil || cfg.API.ListenAddr == "" {
		result.Status = StatusSkipped
		result.Message = "No API listen address configured"
		result.Duration = time.Since(start)
		return result
	}

	addr := cfg.API.ListenAddr
	if strings.HasPrefix(addr, "0.0.0.0") || strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr[strings.LastIndex(addr, ":"):]
	}

	if isPortOpen(addr) {
		result.Status = StatusOK
		result.Message = "API port accepting connections"
	} else {
		result.Status = StatusWarning
		result.Message = "API port not accepting connections (daemon may be stopped)"
	}
	result.Details = addr
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDiskSpace(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Disk Space", Category: "Resources"}

	path := filepath.Dir(r.opts.StatePath)
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusError
		result.Message = "Failed to check disk space"
		result.Details = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	// #nosec G115 -- Bsize is always positive on Linux filesystems
	available := stat.Bavail * uint64(stat.Bsize)
	// #nosec G115 -- Bsize is always positive on Linux filesystems
	total := stat.Blocks * uint64(stat.Bsize)
	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	switch {
	case usedPercent > DiskUsageCriticalPercent:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Disk usage critical: %.1f%%", usedPercent)
		result.Suggestions = append(result.Suggestions, "Free up disk space on "+path)
	case usedPercent > DiskUsageWarningPercent:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Disk usage high: %.1f%%", usedPercent)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Disk usage: %.1f%% (%.1f GB available)", usedPercent, float64(available)/(1024*1024*1024))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkFileDescriptors(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "File Descriptors", Category: "Resources"}

	data, err := os.ReadFile("/proc/sys/fs/file-nr")
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "File descriptor check skipped"
		result.Duration = time.Since(start)
		return result
	}

	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		result.Status = StatusError
		result.Message = "Invalid file-nr format"
		result.Duration = time.Since(start)
		return result
	}

	used, _ := strconv.ParseInt(fields[0], 10, 64)
	max, _ := strconv.ParseInt(fields[2], 10, 64)
	usedPercent := float64(used) / float64(max) * 100

	switch {
	case usedPercent > FDUsageCriticalPercent:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("FD usage critical: %.1f%% (%d/%d)", usedPercent, used, max)
	case usedPercent > FDUsageWarningPercent:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("FD usage elevated: %.1f%% (%d/%d)", usedPercent, used, max)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("FD usage normal: %.1f%% (%d/%d)", usedPercent, used, max)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkMemory(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Memory", Category: "Resources"}

	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "Memory check skipped"
		result.Duration = time.Since(start)
		return result
	}

	var total, available int64
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				total, _ = strconv.ParseInt(fields[1], 10, 64)
				total *= 1024
			}
		case strings.HasPrefix(line, "MemAvailable:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				available, _ = strconv.ParseInt(fields[1], 10, 64)
				available *= 1024
			}
		}
	}

	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	switch {
	case usedPercent > MemoryUsageCriticalPercent:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Memory usage critical: %.1f%%", usedPercent)
	case usedPercent > MemoryUsageWarningPercent:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Memory usage elevated: %.1f%%", usedPercent)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Memory usage: %.1f%% (%s available)", usedPercent, formatBytes(available))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkTimeSynchronization(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Time Sync", Category: "System"}

	out, err := exec.CommandContext(ctx, "timedatectl", "status").Output()
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "Time sync check skipped (timedatectl not available)"
		result.Duration = time.Since(start)
		return result
	}

	if strings.Contains(string(out), "synchronized: yes") {
		result.Status = StatusOK
		result.Message = "System time synchronized"
	} else {
		result.Status = StatusWarning
		result.Message = "System time may not be synchronized"
		result.Suggestions = append(result.Suggestions, "Clock drift skews scheduler timing; check chrony/ntpd")
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDaemonProcess(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Daemon Process", Category: "Services"}

	out, err := exec.CommandContext(ctx, "systemctl", "is-active", "pidicond").Output()
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "systemd not available or pidicond has no unit"
		result.Duration = time.Since(start)
		return result
	}

	status := strings.TrimSpace(string(out))
	if status == "active" {
		result.Status = StatusOK
		result.Message = "pidicond service active"
	} else {
		result.Status = StatusWarning
		result.Message = "pidicond service state: " + status
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkInotifyLimits(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "inotify Limits", Category: "Resources"}

	data, err := os.ReadFile("/proc/sys/fs/inotify/max_user_watches")
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "inotify check skipped"
		result.Duration = time.Since(start)
		return result
	}

	maxWatches, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)

	if maxWatches < MinInotifyWatches {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("inotify max_user_watches low: %d", maxWatches)
		result.Suggestions = append(result.Suggestions, "Config hot-reload watches the config file; increase with sysctl fs.inotify.max_user_watches")
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("inotify max_user_watches: %d", maxWatches)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkTCPResources(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "TCP Resources", Category: "Network"}

	out, err := exec.CommandContext(ctx, "ss", "-tan", "state", "time-wait").Output()
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "TCP check skipped"
		result.Duration = time.Since(start)
		return result
	}

	timeWaitCount := strings.Count(string(out), "\n") - 1
	if timeWaitCount < 0 {
		timeWaitCount = 0
	}

	if timeWaitCount > TimeWaitWarningThreshold {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("High TIME_WAIT connections: %d", timeWaitCount)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("TIME_WAIT connections: %d", timeWaitCount)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkEntropy(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Entropy", Category: "System"}

	data, err := os.ReadFile("/proc/sys/kernel/random/entropy_avail")
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "Entropy check skipped"
		result.Duration = time.Since(start)
		return result
	}

	entropy, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)

	if entropy < MinEntropyBytes {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Entropy pool low: %d", entropy)
		result.Suggestions = append(result.Suggestions, "Install haveged or rng-tools")
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Entropy pool: %d", entropy)
	}

	result.Duration = time.Since(start)
	return result
}

// Helper functions

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func isPortOpen(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// brokerHostPort extracts the host:port dial target from an MQTT broker
// URL such as "tcp://localhost:1883" or "ssl://broker.example:8883".
func brokerHostPort(brokerURL string) string {
	if i := strings.Index(brokerURL, "://"); i >= 0 {
		brokerURL = brokerURL[i+3:]
	}
	return brokerURL
}

// PrintReport prints a formatted diagnostic report.
func PrintReport(w io.Writer, report *DiagnosticReport) {
	_, _ = fmt.Fprintf(w, "PIDICON Diagnostics Report\n")
	_, _ = fmt.Fprintf(w, "===========================\n\n")

	_, _ = fmt.Fprintf(w, "System: %s (%s/%s)\n", report.SystemInfo.Hostname, report.SystemInfo.OS, report.SystemInfo.Architecture)
	_, _ = fmt.Fprintf(w, "Kernel: %s\n", report.SystemInfo.Kernel)
	_, _ = fmt.Fprintf(w, "Uptime: %s\n", report.SystemInfo.Uptime)
	_, _ = fmt.Fprintf(w, "Time: %s\n\n", report.Timestamp.Format(time.RFC3339))

	categories := make(map[string][]CheckResult)
	var order []string
	for _, check := range report.Checks {
		if _, seen := categories[check.Category]; !seen {
			order = append(order, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, category := range order {
		_, _ = fmt.Fprintf(w, "\n%s\n%s\n", category, strings.Repeat("-", len(category)))
		for _, check := range categories[category] {
			status := "✓"
			switch check.Status {
			case StatusWarning:
				status = "⚠"
			case StatusCritical:
				status = "✗"
			case StatusError:
				status = "!"
			case StatusSkipped:
				status = "○"
			}
			_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", status, check.Name, check.Message)
			if check.Details != "" {
				_, _ = fmt.Fprintf(w, "    %s\n", check.Details)
			}
			for _, suggestion := range check.Suggestions {
				_, _ = fmt.Fprintf(w, "    -> %s\n", suggestion)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\n\nSummary\n-------\n")
	_, _ = fmt.Fprintf(w, "Total: %d | OK: %d | Warning: %d | Critical: %d | Error: %d | Skipped: %d\n",
		report.Summary.Total, report.Summary.OK, report.Summary.Warning,
		report.Summary.Critical, report.Summary.Error, report.Summary.Skipped)
	_, _ = fmt.Fprintf(w, "Duration: %v\n", report.Duration)

	if report.Healthy {
		_, _ = fmt.Fprintf(w, "\nSystem Status: HEALTHY\n")
	} else {
		_, _ = fmt.Fprintf(w, "\nSystem Status: ISSUES DETECTED\n")
	}
}

// ToJSON converts the report to JSON format.
func (r *DiagnosticReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
