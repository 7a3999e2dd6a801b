// Package telemetry publishes session, death and valuable loot events to an
// MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/config"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicSession = "session"
	TopicDeath   = "death"
	TopicLoot    = "loot"
	TopicReplay  = "replay"
	TopicStatus  = "status"
)

// MQTTHandler forwards bus events to MQTT topics.
type MQTTHandler struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	client mqtt.Client
	logger zerolog.Logger

	metadata map[string]interface{}
	// send delivers one encoded message; tests replace it.
	send func(topic string, data []byte)
}

// NewMQTTHandler builds a client for cfg. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig, bus *events.Bus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "raidscope"
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:    cfg,
		bus:    bus,
		logger: log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID("raidscope-" + sysInfo.Hostname)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := loadTLS(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.send = h.publishQoS1
	return h, nil
}

// BrokerURL renders the broker address with the scheme UseTLS selects.
func BrokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

func loadTLS(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects, forwards events until ctx is done and then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().Str("broker", BrokerURL(h.cfg)).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe()
	<-ctx.Done()
	h.Unsubscribe()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

// Subscribe registers the forwarding handlers on the bus.
func (h *MQTTHandler) Subscribe() {
	h.bus.Subscribe(events.EventSessionStarted, "mqtt.session", h.forward(TopicSession))
	h.bus.Subscribe(events.EventPlayerDied, "mqtt.death", h.forward(TopicDeath))
	h.bus.Subscribe(events.EventValuableLoot, "mqtt.loot", h.forward(TopicLoot))
	h.bus.Subscribe(events.EventReplayFinished, "mqtt.replay", h.forward(TopicReplay))
	h.bus.Subscribe(events.EventHealth, "mqtt.health", h.forward(TopicStatus))
}

func (h *MQTTHandler) Unsubscribe() {
	h.bus.Unsubscribe(events.EventSessionStarted, "mqtt.session")
	h.bus.Unsubscribe(events.EventPlayerDied, "mqtt.death")
	h.bus.Unsubscribe(events.EventValuableLoot, "mqtt.loot")
	h.bus.Unsubscribe(events.EventReplayFinished, "mqtt.replay")
	h.bus.Unsubscribe(events.EventHealth, "mqtt.health")
}

func (h *MQTTHandler) forward(suffix string) events.HandlerFunc {
	return func(_ context.Context, event events.Event) error {
		return h.publish(suffix, string(event.Type), event.Payload)
	}
}

// Topic returns the full topic for suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.cfg.TopicPrefix + "/" + suffix
}

func (h *MQTTHandler) publish(suffix, kind string, payload interface{}) error {
	data, err := json.Marshal(h.buildMessage(kind, payload))
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", kind, err)
	}
	h.send(h.Topic(suffix), data)
	return nil
}

func (h *MQTTHandler) publishQoS1(topic string, data []byte) {
	if !h.client.IsConnected() {
		return
	}
	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(kind string, payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = kind
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces that this capture host is going away.
func (h *MQTTHandler) PublishShutdown() {
	if err := h.publish(TopicStatus, string(events.EventShutdown), nil); err != nil {
		h.logger.Warn().Err(err).Msg("shutdown message failed")
	}
}
