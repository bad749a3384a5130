package device

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Connect dials the broker with the given client id.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// SubscribeMQTT applies every frame published on topic to store.
// Malformed payloads are logged and dropped.
func SubscribeMQTT(client mqtt.Client, topic string, store *Store, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		frames, err := DecodeFrames(msg.Payload())
		if err != nil {
			logger.Warn("dropping frame", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		for _, f := range frames {
			store.Apply(f)
		}
	}
	if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Publisher sends frames to one MQTT topic.
type Publisher struct {
	client mqtt.Client
	topic  string
}

func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Publish sends frames as one message and waits for the broker.
func (p *Publisher) Publish(frames ...Frame) error {
	if len(frames) == 0 {
		return nil
	}
	payload, err := EncodeFrames(frames...)
	if err != nil {
		return fmt.Errorf("encode frames: %w", err)
	}
	if token := p.client.Publish(p.topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt publish %s: %w", p.topic, token.Error())
	}
	return nil
}
