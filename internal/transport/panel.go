// SPDX-License-Identifier: MIT

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Panel is the HTTP-driven 64x64 pixel panel driver. It speaks a small
// JSON/REST protocol to the device: POST /frame, POST /clear,
// POST /brightness, POST /power, GET /status.
type Panel struct {
	baseURL string
	client  *http.Client
}

// NewPanel constructs a Panel driver against a device's base URL (e.g.
// "http://192.168.1.100").
func NewPanel(baseURL string) *Panel {
	return &Panel{
		baseURL: baseURL,
		client:  &http.Client{Timeout: PushTimeout},
	}
}

func (p *Panel) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("panel: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("panel: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("panel: request %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("panel: %s %s returned status %d", method, path, resp.StatusCode)
	}
	return resp, nil
}

func (p *Panel) Push(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), PushTimeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodPost, "/frame", map[string]any{"pixels": frame})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (p *Panel) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), PushTimeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodPost, "/clear", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (p *Panel) SetBrightness(pct int) error {
	ctx, cancel := context.WithTimeout(context.Background(), PushTimeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodPost, "/brightness", map[string]any{"value": pct})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (p *Panel) SetPower(on bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), PushTimeout)
	defer cancel()

	resp, err := p.do(ctx, http.MethodPost, "/power", map[string]any{"on": on})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (p *Panel) HealthCheck() (bool, int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := p.do(ctx, http.MethodGet, "/status", nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return false, latency, err
	}
	_ = resp.Body.Close()
	return true, latency, nil
}
