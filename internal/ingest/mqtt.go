package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/rewired-gh/guardian/internal/extract"
	"github.com/rewired-gh/guardian/internal/logger"
	"github.com/rewired-gh/guardian/internal/metrics"
)

// DefaultTopic is the subscription filter; the wildcard level carries the patient ID.
const DefaultTopic = "guardian/+/samples"

// messageTimeout bounds the processing of a single MQTT message
const messageTimeout = 10 * time.Second

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Connect dials the broker with auto-reconnect enabled
func Connect(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// MQTTSource feeds sample batches published by device bridges into the pipeline
type MQTTSource struct {
	client   mqtt.Client
	topic    string
	qos      byte
	pipeline *Pipeline

	ctx context.Context
}

// NewMQTTSource creates a source. An empty topic uses DefaultTopic.
func NewMQTTSource(client mqtt.Client, topic string, qos byte, p *Pipeline) *MQTTSource {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTSource{
		client:   client,
		topic:    topic,
		qos:      qos,
		pipeline: p,
		ctx:      context.Background(),
	}
}

// Start subscribes to the sample topic. Messages are processed until ctx is
// cancelled or Stop is called.
func (s *MQTTSource) Start(ctx context.Context) error {
	s.ctx = ctx
	if token := s.client.Subscribe(s.topic, s.qos, s.onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.topic, token.Error())
	}
	logger.L().Info("MQTT source started", zap.String("topic", s.topic))
	return nil
}

// Stop unsubscribes and disconnects from the broker
func (s *MQTTSource) Stop() {
	if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		logger.Warn("Failed to unsubscribe from %s: %v", s.topic, token.Error())
	}
	s.client.Disconnect(250)
	logger.Info("MQTT source stopped")
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.handle(msg.Topic(), msg.Payload()); err != nil {
		metrics.IngestErrors.WithLabelValues(ChannelMQTT).Inc()
		logger.L().Warn("Failed to handle MQTT message",
			zap.String("topic", msg.Topic()),
			zap.Int("payload_size", len(msg.Payload())),
			zap.Error(err),
		)
	}
}

func (s *MQTTSource) handle(topic string, payload []byte) error {
	patientID, err := PatientFromTopic(s.topic, topic)
	if err != nil {
		return err
	}
	samples, err := DecodeBatch(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(s.ctx, messageTimeout)
	defer cancel()
	_, err = s.pipeline.ingest(ctx, ChannelMQTT, patientID, samples)
	return err
}

// PatientFromTopic extracts the level matched by the single-level wildcard in filter.
func PatientFromTopic(filter, topic string) (string, error) {
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")
	if len(fparts) != len(tparts) {
		return "", fmt.Errorf("topic %s does not match %s", topic, filter)
	}

	patientID := ""
	for i, f := range fparts {
		switch f {
		case "+":
			patientID = tparts[i]
		default:
			if f != tparts[i] {
				return "", fmt.Errorf("topic %s does not match %s", topic, filter)
			}
		}
	}
	if patientID == "" {
		return "", fmt.Errorf("no patient ID in topic %s", topic)
	}
	return patientID, nil
}

// batchEnvelope is the object form of an MQTT payload
type batchEnvelope struct {
	Samples []extract.Sample `json:"samples"`
}

// DecodeBatch accepts either a bare JSON array of samples or {"samples": [...]}.
func DecodeBatch(payload []byte) ([]extract.Sample, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}

	var samples []extract.Sample
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &samples); err != nil {
			return nil, fmt.Errorf("failed to decode samples: %w", err)
		}
		return samples, nil
	}

	var env batchEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to decode samples: %w", err)
	}
	return env.Samples, nil
}
