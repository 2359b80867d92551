// Package mqtt publishes telemetry snapshots, link events and route
// decisions to the ground control broker. Publishing is best effort: the
// broker being unreachable never blocks the engine.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
	"github.com/skyhaul/linkmgr/pkg/telem"
)

// Config holds broker connection settings.
type Config struct {
	Enabled     bool
	Broker      string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
	Retain      bool
}

// Client wraps the paho client with the daemon's topic layout:
// <prefix>/telemetry, <prefix>/events, <prefix>/decisions.
type Client struct {
	client MQTT.Client
	cfg    Config
	logger *logx.Logger
}

func NewClient(cfg Config, logger *logx.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// Connect establishes the broker session. Disabled clients are a no-op.
func (c *Client) Connect() error {
	if !c.cfg.Enabled {
		c.logger.Debug("mqtt client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.Broker, c.cfg.Port))
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		c.logger.Info("mqtt connected", "broker", c.cfg.Broker, "port", c.cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err.Error())
	})

	c.client = MQTT.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	return nil
}

// Disconnect closes the broker session.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("mqtt disconnected")
	}
}

// PublishSnapshot publishes one telemetry snapshot.
func (c *Client) PublishSnapshot(snap telem.Snapshot) error {
	return c.publishJSON(c.topic("telemetry"), snap)
}

// PublishEvent publishes one link event.
func (c *Client) PublishEvent(ev pkg.Event) error {
	return c.publishJSON(c.topic("events"), ev)
}

// PublishDecision publishes one route decision.
func (c *Client) PublishDecision(d pkg.RouteDecision) error {
	return c.publishJSON(c.topic("decisions"), d)
}

func (c *Client) topic(suffix string) string {
	return fmt.Sprintf("%s/%s", c.cfg.TopicPrefix, suffix)
}

func (c *Client) publishJSON(topic string, payload interface{}) error {
	if !c.cfg.Enabled || c.client == nil || !c.client.IsConnected() {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	token := c.client.Publish(topic, byte(c.cfg.QoS), c.cfg.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	c.logger.Trace("mqtt published", "topic", topic, "size", len(data))
	return nil
}
