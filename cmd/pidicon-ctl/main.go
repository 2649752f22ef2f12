// SPDX-License-Identifier: MIT

// Command pidicon-ctl is an interactive terminal client for pidicond's
// REST API: list devices and scenes, switch scenes, set brightness and
// display power, hot-swap a device's driver, and view daemon/device
// health. Run with no arguments for the interactive menu, or with a
// subcommand for one-shot scripted use.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/markus-barta/pidicon/internal/apiclient"
	"github.com/markus-barta/pidicon/internal/diagnostics"
	"github.com/markus-barta/pidicon/internal/menu"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "none"
)

const (
	exitSuccess = 0
	exitError   = 1

	defaultBaseURL = "http://localhost:8080"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// run is the entry point, extracted for testability.
func run(args []string) error {
	baseURL := envOr("PIDICON_CTL_URL", defaultBaseURL)
	args = stripGlobalFlags(&baseURL, args)

	if len(args) == 0 {
		return runMenu(baseURL)
	}

	command := args[0]
	rest := args[1:]
	client := apiclient.New(baseURL)
	ctx := context.Background()

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "menu":
		return runMenu(baseURL)
	case "status":
		return runStatus(ctx, client)
	case "devices":
		return runListDevices(ctx, client)
	case "scenes":
		return runListScenes(ctx, client)
	case "scene":
		return runSwitchScene(ctx, client, rest)
	case "brightness":
		return runSetBrightness(ctx, client, rest)
	case "display":
		return runSetDisplay(ctx, client, rest)
	case "driver":
		return runSetDriver(ctx, client, rest)
	case "reset":
		return runReset(ctx, client, rest)
	case "diag":
		return runDiag(ctx, rest)
	default:
		return fmt.Errorf("unknown command: %s (run 'pidicon-ctl help' for usage)", command)
	}
}

// stripGlobalFlags extracts a "--url=..." flag from any position, if
// present, and returns the remaining arguments.
func stripGlobalFlags(baseURL *string, args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if len(a) > len("--url=") && a[:len("--url=")] == "--url=" {
			*baseURL = a[len("--url="):]
			continue
		}
		out = append(out, a)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runHelp() error {
	fmt.Printf(`pidicon-ctl %s

USAGE:
    pidicon-ctl [--url=http://host:port] [COMMAND] [ARGS]

COMMANDS:
    menu                          Interactive menu (default with no command)
    status                        Show daemon status
    devices                       List devices and their state
    scenes                        List registered scenes
    scene <device> <name>         Switch a device's scene
    brightness <device> <0-100>   Set a device's brightness
    display <device> <on|off>     Set a device's display power
    driver <device> <real|mock>   Hot-swap a device's driver
    reset <device>                Stop a device's active scene
    diag [--quick] [--json]       Run local host/fleet diagnostics
    version                       Show version information
    help                          Show this help message

ENVIRONMENT:
    PIDICON_CTL_URL   Daemon base URL (default %s)
`, Version, defaultBaseURL)
	return nil
}

func runVersion() error {
	fmt.Printf("pidicon-ctl\n  Version: %s\n  Commit:  %s\n", Version, Commit)
	return nil
}

func runStatus(ctx context.Context, c *apiclient.Client) error {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Version:   %s (%s)\n", st.Version, st.Commit)
	fmt.Printf("Uptime:    %ds\n", st.UptimeSeconds)
	if st.LastHeartbeatTs > 0 {
		fmt.Printf("Heartbeat: %s\n", time.UnixMilli(st.LastHeartbeatTs).Format(time.RFC3339))
	}
	return nil
}

func runListDevices(ctx context.Context, c *apiclient.Client) error {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices configured")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%s\n  driver: %s\n", d.ID, d.DriverMode)
		if name, ok := d.Scene["name"].(string); ok && name != "" {
			fmt.Printf("  scene:  %s (%v)\n", name, d.Scene["status"])
		}
	}
	return nil
}

func runListScenes(ctx context.Context, c *apiclient.Client) error {
	scenes, err := c.ListScenes(ctx)
	if err != nil {
		return err
	}
	for _, s := range scenes {
		fmt.Printf("%-20s loop=%v\n", s.Name, s.WantsLoop)
	}
	return nil
}

func runSwitchScene(ctx context.Context, c *apiclient.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pidicon-ctl scene <device> <name>")
	}
	return c.SwitchScene(ctx, args[0], args[1], nil)
}

func runSetBrightness(ctx context.Context, c *apiclient.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pidicon-ctl brightness <device> <0-100>")
	}
	value, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid brightness %q: %w", args[1], err)
	}
	return c.SetBrightness(ctx, args[0], value)
}

func runSetDisplay(ctx context.Context, c *apiclient.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pidicon-ctl display <device> <on|off>")
	}
	on := args[1] == "on" || args[1] == "true"
	return c.SetDisplay(ctx, args[0], on)
}

func runSetDriver(ctx context.Context, c *apiclient.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pidicon-ctl driver <device> <real|mock>")
	}
	return c.SetDriver(ctx, args[0], args[1])
}

// runDiag runs local host and fleet diagnostics: disk, memory, bus and
// device reachability, lock/state-file health. It inspects the same
// config file pidicond reads, not the running daemon's REST API.
func runDiag(ctx context.Context, args []string) error {
	opts := diagnostics.DefaultOptions()
	for _, a := range args {
		switch a {
		case "--quick":
			opts.Mode = diagnostics.ModeQuick
		case "--json":
			opts.Verbose = true
		case "--config":
			// handled below via --config=
		default:
			if len(a) > len("--config=") && a[:len("--config=")] == "--config=" {
				opts.ConfigPath = a[len("--config="):]
			}
		}
	}

	runner := diagnostics.NewRunner(opts)
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if opts.Verbose {
		data, err := report.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	diagnostics.PrintReport(os.Stdout, report)
	if !report.Healthy {
		return fmt.Errorf("diagnostics found issues")
	}
	return nil
}

func runReset(ctx context.Context, c *apiclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pidicon-ctl reset <device>")
	}
	return c.Reset(ctx, args[0])
}

// runMenu launches the interactive huh-based control menu.
func runMenu(baseURL string) error {
	client := apiclient.New(baseURL)
	m := createMainMenu(client)
	return m.Display()
}

func createMainMenu(c *apiclient.Client) *menu.Menu {
	m := menu.New(fmt.Sprintf("pidicon-ctl (%s)", c.BaseURL()))

	m.AddItem(menu.MenuItem{Key: "1", Label: "Status", Action: func() error {
		return runStatus(context.Background(), c)
	}})
	m.AddItem(menu.MenuItem{Key: "2", Label: "Devices", SubMenu: createDevicesMenu(c)})
	m.AddItem(menu.MenuItem{Key: "3", Label: "Scenes", Action: func() error {
		return runListScenes(context.Background(), c)
	}})
	m.AddItem(menu.MenuItem{Key: "4", Label: "Diagnostics", Action: func() error {
		return runDiag(context.Background(), nil)
	}})
	m.AddItem(menu.MenuItem{Key: "0", Label: "Quit"})
	return m
}

func createDevicesMenu(c *apiclient.Client) *menu.Menu {
	m := menu.New("Devices")
	m.AddItem(menu.MenuItem{Key: "1", Label: "List devices", Action: func() error {
		return runListDevices(context.Background(), c)
	}})
	m.AddItem(menu.MenuItem{Key: "2", Label: "Switch scene", Action: func() error {
		return interactiveSwitchScene(c)
	}})
	m.AddItem(menu.MenuItem{Key: "3", Label: "Set brightness", Action: func() error {
		return interactiveSetBrightness(c)
	}})
	m.AddItem(menu.MenuItem{Key: "4", Label: "Toggle display", Action: func() error {
		return interactiveSetDisplay(c)
	}})
	m.AddItem(menu.MenuItem{Key: "5", Label: "Hot-swap driver", Action: func() error {
		return interactiveSetDriver(c)
	}})
	m.AddItem(menu.MenuItem{Key: "6", Label: "Reset device", Action: func() error {
		return interactiveReset(c)
	}})
	m.AddItem(menu.MenuItem{Key: "0", Label: "Back"})
	return m
}

func promptDeviceID(c *apiclient.Client) (string, error) {
	devices, err := c.ListDevices(context.Background())
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no devices configured")
	}
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.ID
	}
	idx := menu.Select(os.Stdin, os.Stdout, "Device", names)
	if idx < 0 {
		return "", fmt.Errorf("cancelled")
	}
	return devices[idx].ID, nil
}

func interactiveSwitchScene(c *apiclient.Client) error {
	ctx := context.Background()
	deviceID, err := promptDeviceID(c)
	if err != nil {
		return err
	}
	scenes, err := c.ListScenes(ctx)
	if err != nil {
		return err
	}
	names := make([]string, len(scenes))
	for i, s := range scenes {
		names[i] = s.Name
	}
	idx := menu.Select(os.Stdin, os.Stdout, "Scene", names)
	if idx < 0 {
		return fmt.Errorf("cancelled")
	}
	return c.SwitchScene(ctx, deviceID, names[idx], nil)
}

func interactiveSetBrightness(c *apiclient.Client) error {
	deviceID, err := promptDeviceID(c)
	if err != nil {
		return err
	}
	raw := menu.Input(os.Stdin, os.Stdout, "Brightness (0-100)")
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid brightness %q: %w", raw, err)
	}
	return c.SetBrightness(context.Background(), deviceID, value)
}

func interactiveSetDisplay(c *apiclient.Client) error {
	deviceID, err := promptDeviceID(c)
	if err != nil {
		return err
	}
	on := menu.Confirm(os.Stdin, os.Stdout, "Turn display on?")
	return c.SetDisplay(context.Background(), deviceID, on)
}

func interactiveSetDriver(c *apiclient.Client) error {
	deviceID, err := promptDeviceID(c)
	if err != nil {
		return err
	}
	idx := menu.Select(os.Stdin, os.Stdout, "Driver mode", []string{"real", "mock"})
	if idx < 0 {
		return fmt.Errorf("cancelled")
	}
	mode := []string{"real", "mock"}[idx]
	return c.SetDriver(context.Background(), deviceID, mode)
}

func interactiveReset(c *apiclient.Client) error {
	deviceID, err := promptDeviceID(c)
	if err != nil {
		return err
	}
	if !menu.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("Reset %s?", deviceID)) {
		return nil
	}
	return c.Reset(context.Background(), deviceID)
}
