// Package ingest consumes temperature readings from the MQTT broker and
// feeds them to the engine's threshold evaluator.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"thermoline/internal/config"
	"thermoline/internal/engine"
)

const handleTimeout = 30 * time.Second

// Consumer subscribes to the readings topic and hands each decoded
// reading to the engine. Decode failures are logged and dropped; the
// broker stream must keep flowing.
type Consumer struct {
	client mqtt.Client
	engine engine.Engine
	log    *zap.Logger
	topic  string
	qos    byte
}

func NewConsumer(cfg *config.Config, eng engine.Engine, log *zap.Logger) *Consumer {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	return &Consumer{
		client: mqtt.NewClient(opts),
		engine: eng,
		log:    log,
		topic:  cfg.MQTT.Topic,
		qos:    byte(cfg.MQTT.QoS),
	}
}

// Start connects and subscribes. Returns once the subscription is live.
func (c *Consumer) Start() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}
	token := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		c.handle(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, token.Error())
	}
	c.log.Info("mqtt consumer started", zap.String("topic", c.topic))
	return nil
}

func (c *Consumer) Stop() {
	c.client.Unsubscribe(c.topic)
	c.client.Disconnect(250)
}

func (c *Consumer) handle(payload []byte) {
	reading, err := DecodeReading(payload)
	if err != nil {
		c.log.Warn("dropping malformed reading", zap.Error(err), zap.ByteString("payload", payload))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := c.engine.HandleReading(ctx, reading); err != nil {
		c.log.Error("reading rejected",
			zap.String("thermometer_id", reading.ThermometerID),
			zap.Error(err))
	}
}

// DecodeReading parses the wire payload:
// {"thermometerId": "...", "temperature": 4.5, "timestamp": 1700000000000}
func DecodeReading(payload []byte) (engine.Reading, error) {
	var reading engine.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return engine.Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	if reading.ThermometerID == "" {
		return engine.Reading{}, fmt.Errorf("decode reading: thermometerId missing")
	}
	if reading.Timestamp <= 0 {
		return engine.Reading{}, fmt.Errorf("decode reading: timestamp missing")
	}
	return reading, nil
}
