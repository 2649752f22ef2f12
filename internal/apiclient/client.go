// SPDX-License-Identifier: MIT

// Package apiclient is a thin REST client for pidicond's control API,
// used by cmd/pidicon-ctl. It follows the same base-URL + *http.Client +
// JSON request/response shape as internal/transport's Panel driver.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to one pidicond instance's REST API.
type Client struct {
	baseURL string
	client  *http.Client
}

// New constructs a Client against a daemon's base URL (e.g.
// "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// BaseURL returns the daemon base URL this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("apiclient: %s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("apiclient: %s %s returned status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status mirrors GET /api/status.
type Status struct {
	UptimeSeconds   int    `json:"uptimeSeconds"`
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	StartTs         int64  `json:"startTs"`
	LastHeartbeatTs int64  `json:"lastHeartbeatTs"`
}

// Device mirrors one entry of GET /api/devices.
type Device struct {
	ID           string         `json:"id"`
	Capabilities map[string]any `json:"capabilities"`
	DriverMode   string         `json:"driverMode"`
	State        map[string]any `json:"state"`
	Scene        map[string]any `json:"scene"`
	Performance  map[string]any `json:"performance"`
	Health       map[string]any `json:"health"`
}

// SceneDescriptor mirrors one entry of GET /api/scenes. scene.Descriptor
// tags only its New field (json:"-"), so the wire format uses its other Go
// field names verbatim.
type SceneDescriptor struct {
	Name        string   `json:"Name"`
	WantsLoop   bool     `json:"WantsLoop"`
	DeviceTypes []string `json:"DeviceTypes"`
	Tags        []string `json:"Tags"`
	SortOrder   int      `json:"SortOrder"`
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &s)
	return s, err
}

// ListDevices fetches the device inventory.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := c.do(ctx, http.MethodGet, "/api/devices", nil, &devices)
	return devices, err
}

// ListScenes fetches the registered scene catalog.
func (c *Client) ListScenes(ctx context.Context) ([]SceneDescriptor, error) {
	var scenes []SceneDescriptor
	err := c.do(ctx, http.MethodGet, "/api/scenes", nil, &scenes)
	return scenes, err
}

// SwitchScene issues a scene switch to deviceID.
func (c *Client) SwitchScene(ctx context.Context, deviceID, sceneName string, payload map[string]any) error {
	body := map[string]any{"name": sceneName}
	for k, v := range payload {
		body[k] = v
	}
	return c.do(ctx, http.MethodPost, "/api/devices/"+deviceID+"/scene", body, nil)
}

// SetDisplay toggles a device's power state.
func (c *Client) SetDisplay(ctx context.Context, deviceID string, on bool) error {
	return c.do(ctx, http.MethodPost, "/api/devices/"+deviceID+"/display", map[string]any{"on": on}, nil)
}

// SetBrightness sets a device's brightness, 0..100.
func (c *Client) SetBrightness(ctx context.Context, deviceID string, value int) error {
	return c.do(ctx, http.MethodPost, "/api/devices/"+deviceID+"/brightness", map[string]any{"value": value}, nil)
}

// SetDriver hot-swaps a device's driver mode ("real" or "mock").
func (c *Client) SetDriver(ctx context.Context, deviceID, mode string) error {
	return c.do(ctx, http.MethodPost, "/api/devices/"+deviceID+"/driver", map[string]any{"driver": mode}, nil)
}

// Reset stops a device's current scene.
func (c *Client) Reset(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/api/devices/"+deviceID+"/reset", nil, nil)
}
