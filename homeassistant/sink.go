package homeassistant

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/robertof/go-lywsd03mmc-bridge/mqtt"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultNamePrefix      = "lywsd03mmc"

	payloadOn  = "ON"
	payloadOff = "OFF"
)

type Config struct {
	TopicPrefix     string
	DiscoveryPrefix string
	NamePrefix      string
	// Published on the source topic of every device, usually the hostname of the bridge.
	Source string
	// Optional, referenced by the discovery configs.
	AvailabilityTopic string
}

// Sink publishes readings in the layout expected by Home Assistant MQTT discovery. Discovery
// configs for a device are published, retained, right before its first state. Not safe for
// concurrent use.
type Sink struct {
	publisher mqtt.Publisher
	cfg       Config

	// lowercase MAC of the devices whose discovery configs have been published.
	announced map[string]bool
}

func NewSink(p mqtt.Publisher, cfg Config) *Sink {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = mqtt.DefaultTopicPrefix
	}

	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}

	if cfg.NamePrefix == "" {
		cfg.NamePrefix = DefaultNamePrefix
	}

	return &Sink{
		publisher: p,
		cfg:       cfg,
		announced: make(map[string]bool),
	}
}

// StateTopic returns <topic prefix>/<device name>/<attr>.
func (s *Sink) StateTopic(dev device.Device, attr string) string {
	return strings.Join([]string{s.cfg.TopicPrefix, dev.Name(), attr}, "/")
}

func (s *Sink) Emit(ctx context.Context, dev device.Device, r device.Reading) error {
	if err := s.announce(dev); err != nil {
		return err
	}

	type message struct {
		attr, payload string
	}

	messages := []message{
		{AttrTemperature, strconv.FormatFloat(r.Temperature, 'f', 1, 64)},
		{AttrHumidity, strconv.Itoa(r.Humidity)},
	}

	if r.HasBatteryLevel {
		messages = append(messages, message{AttrBattery, strconv.Itoa(r.BatteryLevel)})
	}

	lowBattery := payloadOff
	if r.LowBattery() {
		lowBattery = payloadOn
	}

	messages = append(messages,
		message{AttrLowBattery, lowBattery},
		message{AttrSource, s.cfg.Source},
	)

	for _, m := range messages {
		if err := s.publisher.Publish(s.StateTopic(dev, m.attr), []byte(m.payload), false); err != nil {
			return fmt.Errorf("failed to publish %s: %w", m.attr, err)
		}
	}

	log.Debug().
		Stringer("Device", dev).
		Int("Messages", len(messages)).
		Msg("Published device state to Home Assistant")

	return nil
}

func (s *Sink) announce(dev device.Device) error {
	key := strings.ToLower(dev.Addr().String())

	if s.announced[key] {
		return nil
	}

	messages, err := s.discoveryMessages(dev)
	if err != nil {
		return err
	}

	for _, m := range messages {
		if err := s.publisher.Publish(m.topic, m.payload, true); err != nil {
			return fmt.Errorf("failed to publish discovery config: %w", err)
		}
	}

	s.announced[key] = true

	log.Info().
		Stringer("Device", dev).
		Str("DiscoveryPrefix", s.cfg.DiscoveryPrefix).
		Msg("Published Home Assistant discovery configs")

	return nil
}
