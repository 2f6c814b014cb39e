package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"airnode/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const mqttWaitTimeout = 5 * time.Second

// MQTTConfig describes the broker heartbeats go through
type MQTTConfig struct {
	Broker   string // host:port
	ClientID string
	Username string
	Password string
	Topic    string
}

// HeartbeatPublisher sends node heartbeats upstream
type HeartbeatPublisher interface {
	Publish(hb *models.NodeHeartbeat) error
	Connected() bool
}

// MQTTHeartbeat publishes heartbeats to an MQTT topic
type MQTTHeartbeat struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

func newMQTTClient(cfg MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttWaitTimeout) {
		return nil, errors.New("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return client, nil
}

// NewMQTTHeartbeat connects to the broker
func NewMQTTHeartbeat(cfg MQTTConfig, logger *zap.Logger) (*MQTTHeartbeat, error) {
	logger = logger.Named("heartbeat")
	client, err := newMQTTClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &MQTTHeartbeat{client: client, topic: cfg.Topic, logger: logger}, nil
}

func (h *MQTTHeartbeat) Publish(hb *models.NodeHeartbeat) error {
	hb.MQTTConnected = h.client.IsConnectionOpen()

	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	token := h.client.Publish(h.topic, 1, false, body)
	if !token.WaitTimeout(mqttWaitTimeout) {
		return models.NewFault(models.KindTimeout, "mqtt.publish", errors.New("heartbeat publish timed out"))
	}
	if err := token.Error(); err != nil {
		return models.NewFault(models.KindWifi, "mqtt.publish", err)
	}

	h.logger.Debug("Heartbeat published",
		zap.String("topic", h.topic),
		zap.String("status", hb.Status))
	return nil
}

func (h *MQTTHeartbeat) Connected() bool {
	return h.client.IsConnectionOpen()
}

// Close disconnects from the broker
func (h *MQTTHeartbeat) Close() {
	h.client.Disconnect(250)
}

// HeartbeatSubscriber feeds heartbeats from the broker into the liveness monitor
type HeartbeatSubscriber struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

// NewHeartbeatSubscriber connects to the broker
func NewHeartbeatSubscriber(cfg MQTTConfig, logger *zap.Logger) (*HeartbeatSubscriber, error) {
	logger = logger.Named("heartbeat")
	client, err := newMQTTClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &HeartbeatSubscriber{client: client, topic: cfg.Topic, logger: logger}, nil
}

// Subscribe delivers every decodable heartbeat on out
func (s *HeartbeatSubscriber) Subscribe(out chan<- *models.NodeHeartbeat) error {
	token := s.client.Subscribe(s.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		hb, err := decodeHeartbeat(msg.Payload())
		if err != nil {
			s.logger.Warn("Dropping invalid heartbeat", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		select {
		case out <- hb:
		case <-time.After(mqttWaitTimeout):
			s.logger.Warn("Timeout forwarding heartbeat", zap.String("device_id", hb.DeviceID))
		}
	})
	if !token.WaitTimeout(mqttWaitTimeout) {
		return errors.New("timed out subscribing to heartbeat topic")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.topic, err)
	}
	s.logger.Info("Subscribed to heartbeats", zap.String("topic", s.topic))
	return nil
}

// Close disconnects from the broker
func (s *HeartbeatSubscriber) Close() {
	s.client.Disconnect(250)
}

func decodeHeartbeat(data []byte) (*models.NodeHeartbeat, error) {
	var hb models.NodeHeartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}
	if hb.DeviceID == "" {
		return nil, errors.New("invalid heartbeat: missing device_id")
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now()
	}
	return &hb, nil
}
