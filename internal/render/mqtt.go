package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrMQTTNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// MQTTSink publishes each envelope to <prefix>/<event type>. Phase and status
// events are retained so late subscribers see the current signal state.
type MQTTSink struct {
	cfg       MQTTConfig
	client    mqtt.Client
	connected atomic.Bool
	logger    *slog.Logger
}

func NewMQTTSink(cfg MQTTConfig, logger *slog.Logger) *MQTTSink {
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	return &MQTTSink{cfg: cfg, logger: logger.With("component", "render_mqtt")}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Connect dials the broker. The client keeps reconnecting on its own after
// the first successful connection.
func (s *MQTTSink) Connect(ctx context.Context) error {
	broker := s.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		s.connected.Store(true)
		s.logger.Info("mqtt connection established", "broker", broker, "client_id", s.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		s.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()

	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	s.connected.Store(true)
	return nil
}

// Topic returns the topic an event type is published on.
func (s *MQTTSink) Topic(t EventType) string {
	return s.cfg.TopicPrefix + "/" + string(t)
}

func retained(t EventType) bool {
	return t == EventPhase || t == EventStatus
}

func (s *MQTTSink) Write(_ context.Context, env Envelope) error {
	if s.client == nil || !s.connected.Load() {
		return ErrMQTTNotConnected
	}
	payload, err := env.MarshalData()
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.Type, err)
	}
	token := s.client.Publish(s.Topic(env.Type), s.cfg.QoS, retained(env.Type), payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func (s *MQTTSink) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		s.logger.Info("mqtt disconnected")
	}
	s.connected.Store(false)
}
