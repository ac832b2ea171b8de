package rabbitmq

import (
	"context"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

// IConsumer subscribes a handler to a topic filter.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler func(topic string, message mqtt.Message) error)
}

type Consumer struct {
	client  mqtt.Client
	handler func(topic string, message mqtt.Message) error
	topic   string
}

func NewConsumer(client mqtt.Client, topic string, handler func(topic string, message mqtt.Message) error) *Consumer {
	return &Consumer{client: client, topic: topic, handler: handler}
}

func (c *Consumer) SetHandler(handler func(topic string, message mqtt.Message) error) {
	c.handler = handler
}

// observations and alerts are worth a redelivery, snapshots are superseded every tick
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "crowd/observations") || strings.HasPrefix(t, "event/alert") {
		return 1
	}
	return 0
}

// ConsumeMessage subscribes and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	log := logger.For("mqtt").With().Str("topic", c.topic).Logger()

	token := c.client.Subscribe(c.topic, qosFor(c.topic), func(_ mqtt.Client, message mqtt.Message) {
		if c.handler == nil {
			log.Warn().Msg("no handler set")
			return
		}
		if err := c.handler(message.Topic(), message); err != nil {
			log.Warn().Err(err).Str("message_topic", message.Topic()).Msg("handler error")
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Error().Err(token.Error()).Msg("subscribe failed")
		return
	}
	log.Info().Msg("subscribed")

	<-ctx.Done()

	unsub := c.client.Unsubscribe(c.topic)
	unsub.Wait()
}
