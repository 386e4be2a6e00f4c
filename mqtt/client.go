package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBroker      = "localhost"
	DefaultPort        = 1883
	DefaultTopicPrefix = "lywsd03mmc"

	PayloadOnline  = "online"
	PayloadOffline = "offline"

	publishTimeout = 5 * time.Second
)

var (
	ErrNotConnected  = errors.New("mqtt client not connected")
	ErrClientStopped = errors.New("mqtt client stopped")
)

type Config struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	// Prefix of every state topic, and of the availability topic.
	TopicPrefix string
}

// DefaultClientID returns a client ID unique to this process.
func DefaultClientID() string {
	return "lywsd03mmc-bridge-" + uuid.NewString()[:8]
}

// AvailabilityTopic is where the bridge announces whether it is online. The broker publishes
// PayloadOffline on it when the connection is lost.
func (c Config) AvailabilityTopic() string {
	return c.TopicPrefix + "/status"
}

// Client is a long-lived broker connection that reconnects on its own.
type Client struct {
	client    paho.Client
	cfg       Config
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ Publisher = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Broker == "" {
		cfg.Broker = DefaultBroker
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID()
	}

	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}

	c := &Client{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetWill(cfg.AvailabilityTopic(), PayloadOffline, 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		c.setConnected(true)

		log.Info().
			Str("Broker", cfg.Broker).
			Int("Port", cfg.Port).
			Str("ClientID", cfg.ClientID).
			Msg("Connected to MQTT broker")

		// runs on every (re)connection, the broker may have published the will in between.
		client.Publish(cfg.AvailabilityTopic(), 1, true, PayloadOnline)
	})

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.setConnected(false)
		log.Warn().Err(err).Msg("Lost connection to MQTT broker")
	})

	c.client = paho.NewClient(opts)
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

// Connect waits for the initial connection to the broker, respecting ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrClientStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// with ConnectRetry the token only completes once connected, or on Disconnect().
	token := c.client.Connect()

	const poll = 200 * time.Millisecond

	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrClientStopped
		default:
		}
	}
}

// Run connects to the broker and keeps the connection up until ctx is cancelled, then
// announces the bridge as offline and disconnects.
func (c *Client) Run(ctx context.Context) error {
	log.Info().
		Str("Broker", c.cfg.Broker).
		Int("Port", c.cfg.Port).
		Msg("Connecting to MQTT broker")

	if err := c.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			c.Disconnect()
			return ctx.Err()
		}

		return err
	}

	<-ctx.Done()

	if err := c.Publish(c.cfg.AvailabilityTopic(), []byte(PayloadOffline), true); err != nil {
		log.Warn().Err(err).Msg("Failed to announce shutdown to MQTT broker")
	}

	c.Disconnect()
	return ctx.Err()
}

// Publish sends payload to topic with QoS 1 and waits for the broker to acknowledge it.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: dropping message for topic %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, 1, retained, payload)

	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	log.Trace().
		Str("Topic", topic).
		Bool("Retained", retained).
		Bytes("Payload", payload).
		Msg("mqtt: published message")

	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()

	return connected && c.client.IsConnected()
}

// Disconnect stops the client. Idempotent; Connect() fails with ErrClientStopped afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	log.Info().Msg("Disconnected from MQTT broker")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
