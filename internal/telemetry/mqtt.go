package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
)

// MQTTOptions — параметры брокера.
type MQTTOptions struct {
	Broker   string
	Topic    string
	Username string
	Password string
}

// Publisher — часть mqtt.Client, нужная эмиттеру.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter публикует JSON в <topic>/status и <topic>/kf.
type MQTTEmitter struct {
	client  Publisher
	topic   string
	timeout time.Duration
}

// NewMQTTEmitter использует уже подключённого клиента.
func NewMQTTEmitter(client Publisher, topic string) *MQTTEmitter {
	return &MQTTEmitter{client: client, topic: topic, timeout: 5 * time.Second}
}

// DialMQTT подключается к брокеру с автоматическим переподключением.
func DialMQTT(o MQTTOptions) (*MQTTEmitter, mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID("gpsdo-" + uuid.NewString())
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt: connected to %s", o.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, nil, fmt.Errorf("mqtt connect %s: %w", o.Broker, token.Error())
	}
	return NewMQTTEmitter(client, o.Topic), client, nil
}

// Emit публикует статус и снимок фильтра (QoS 0, без retain).
func (m *MQTTEmitter) Emit(st Status, snap estimator.Snapshot) error {
	if err := m.publish("status", st.JSON()); err != nil {
		return err
	}
	return m.publish("kf", DebugView(snap))
}

func (m *MQTTEmitter) publish(sub string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtt %s: %w", sub, err)
	}
	token := m.client.Publish(m.topic+"/"+sub, 0, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt %s: publish timeout", sub)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", sub, err)
	}
	return nil
}
