// Package mqttbridge is the optional MQTT observer: when the gateway
// radio's primary channel is also relayed to Meshtastic's public (or a
// private) MQTT broker, this package listens on that broker too, so the
// gateway can see traffic relayed entirely over MQTT, with no local RF hop
// at all.
package mqttbridge

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one received MQTT publish, trimmed to what callers need.
type Message struct {
	Topic   string
	Payload []byte
}

// HandlerFunc processes one Message.
type HandlerFunc func(Message)

// Client wraps a paho MQTT client configured for the Meshtastic broker
// topic convention: "<rootTopic>/2/e/<channelName>/<gatewayID>".
type Client struct {
	inner    mqtt.Client
	rootTopic string
}

// NewClient builds (but does not connect) a Client for the given broker.
func NewClient(server, username, password, rootTopic string) *Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetClientID(fmt.Sprintf("meshenger-%d", time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	return &Client{
		inner:     mqtt.NewClient(opts),
		rootTopic: strings.TrimSuffix(rootTopic, "/"),
	}
}

// Connect blocks until the broker connection completes or fails.
func (c *Client) Connect() error {
	token := c.inner.Connect()
	token.Wait()
	return token.Error()
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	c.inner.Disconnect(250)
}

// GetFullTopicForChannel returns the publish/subscribe topic for a named
// channel under this client's root topic.
func (c *Client) GetFullTopicForChannel(channelName string) string {
	return fmt.Sprintf("%s/2/e/%s", c.rootTopic, channelName)
}

// Handle subscribes to every gateway's publishes on a channel and invokes
// handler for each one.
func (c *Client) Handle(channelName string, handler HandlerFunc) error {
	topic := c.GetFullTopicForChannel(channelName) + "/#"
	token := c.inner.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	token.Wait()
	return token.Error()
}

// Publish writes payload to the topic for channelName under the given
// gateway ID.
func (c *Client) Publish(channelName, gatewayID string, payload []byte) error {
	topic := c.GetFullTopicForChannel(channelName) + "/" + gatewayID
	token := c.inner.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}
