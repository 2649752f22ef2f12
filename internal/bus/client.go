// SPDX-License-Identifier: MIT

// Package bus implements the message-bus ingress/egress adapter: MQTT
// topics of shape <prefix>/<deviceId>/<section>/<action>, demultiplexed
// into Command Router calls, with /ok, /error, and scene/state publishes.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-barta/pidicon/internal/router"
)

// Config holds the MQTT connection parameters.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Prefix    string // topic prefix, e.g. "pidicon"
	QoS       byte
}

// Client is the bus ingress/egress adapter. It implements router.Publisher
// so the Command Router can publish /ok and /error directly back onto the
// bus.
type Client struct {
	cfg    Config
	client mqtt.Client
	router *router.Router
	logger *slog.Logger
}

// New constructs a bus Client. Connect must be called before Subscribe.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	c := &Client{cfg: cfg, logger: logger}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("bus: connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// SetRouter wires the Command Router that received messages dispatch into.
// Called once during startup wiring, after both the bus Client and the
// Router exist (they have a natural circular dependency: the router needs
// a Publisher, the bus needs a router to dispatch into).
func (c *Client) SetRouter(r *router.Router) {
	c.router = r
}

// Connect opens the MQTT connection and blocks until it succeeds or ctx is
// done.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("bus: connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the MQTT connection, waiting up to waitMs for
// in-flight work to drain.
func (c *Client) Disconnect(waitMs uint) {
	c.client.Disconnect(waitMs)
}

// Subscribe starts listening on <prefix>/+/+/+ and demultiplexing messages
// into Command Router calls.
func (c *Client) Subscribe() error {
	topic := c.cfg.Prefix + "/+/+/+"
	token := c.client.Subscribe(topic, c.cfg.QoS, c.handleMessage)
	token.Wait()
	return token.Error()
}

func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceID, section, action, ok := parseTopic(msg.Topic(), c.cfg.Prefix)
	if !ok {
		c.logger.Warn("bus: dropping message on unrecognized topic", "topic", msg.Topic())
		return
	}

	var payload map[string]any
	if len(msg.Payload()) > 0 {
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			c.logger.Warn("bus: dropping message with invalid JSON payload", "topic", msg.Topic(), "error", err)
			return
		}
	}

	isContinuation := false
	if v, ok := payload["isContinuation"].(bool); ok {
		isContinuation = v
	}

	cmd := router.Command{
		DeviceID:       deviceID,
		Section:        router.Section(section),
		Action:         action,
		Payload:        payload,
		IsContinuation: isContinuation,
	}

	if c.router == nil {
		c.logger.Warn("bus: received message before router was wired", "topic", msg.Topic())
		return
	}

	if err := c.router.Dispatch(context.Background(), cmd); err != nil {
		c.logger.Debug("bus: dispatch returned an error (already published to /error)", "topic", msg.Topic(), "error", err)
	}
}

// parseTopic splits <prefix>/<deviceId>/<section>/<action> into its parts.
func parseTopic(topic, prefix string) (deviceID, section, action string, ok bool) {
	trimmed := strings.TrimPrefix(topic, prefix+"/")
	if trimmed == topic {
		return "", "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Publish sends a raw payload to an arbitrary topic. Implements
// transport.Publisher so the Matrix driver can push frames over this same
// client.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	token.Wait()
	return token.Error()
}

// PublishOk implements router.Publisher.
func (c *Client) PublishOk(deviceID string, result map[string]any) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("bus: marshal ok payload", "device", deviceID, "error", err)
		return
	}
	if err := c.Publish(c.cfg.Prefix+"/"+deviceID+"/ok", data); err != nil {
		c.logger.Warn("bus: publish ok failed", "device", deviceID, "error", err)
	}
}

// PublishError implements router.Publisher.
func (c *Client) PublishError(deviceID, message string, ctx map[string]any) {
	body := map[string]any{"message": message}
	for k, v := range ctx {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		c.logger.Warn("bus: marshal error payload", "device", deviceID, "error", err)
		return
	}
	if err := c.Publish(c.cfg.Prefix+"/"+deviceID+"/error", data); err != nil {
		c.logger.Warn("bus: publish error failed", "device", deviceID, "error", err)
	}
}

// PublishSceneState publishes the scene/state broadcast required on every
// state transition.
func (c *Client) PublishSceneState(deviceID string, status, sceneName string, generationID uint64, buildInfo string, ts int64) {
	body := map[string]any{
		"currentScene": sceneName,
		"generationId": generationID,
		"status":       status,
		"buildInfo":    buildInfo,
		"ts":           ts,
	}
	data, err := json.Marshal(body)
	if err != nil {
		c.logger.Warn("bus: marshal scene/state payload", "device", deviceID, "error", err)
		return
	}
	if err := c.Publish(c.cfg.Prefix+"/"+deviceID+"/scene/state", data); err != nil {
		c.logger.Warn("bus: publish scene/state failed", "device", deviceID, "error", err)
	}
}
