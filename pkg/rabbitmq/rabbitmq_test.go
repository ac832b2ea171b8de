package rabbitmq

import (
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// stubClient overrides the two methods CloseRabbitMQConn touches.
type stubClient struct {
	mqtt.Client
	connected    bool
	disconnected int
}

func (c *stubClient) IsConnected() bool { return c.connected }

func (c *stubClient) Disconnect(uint) {
	c.disconnected++
	c.connected = false
}

func TestCloseRabbitMQConn(t *testing.T) {
	c := &stubClient{connected: true}
	CloseRabbitMQConn(c)
	if c.disconnected != 1 {
		t.Fatalf("disconnect called %d times", c.disconnected)
	}

	CloseRabbitMQConn(c)
	if c.disconnected != 1 {
		t.Fatalf("closed a disconnected client")
	}
	CloseRabbitMQConn(nil)
}
