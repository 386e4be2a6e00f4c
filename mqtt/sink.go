package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/rs/zerolog/log"
)

// Publisher delivers a single message to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

type state struct {
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	// null when the device did not report it.
	Battery *int `json:"battery"`
}

// StateSink publishes every reading as a JSON document on <prefix>/<device name>.
type StateSink struct {
	Publisher   Publisher
	TopicPrefix string
}

func (s *StateSink) Topic(dev device.Device) string {
	return s.TopicPrefix + "/" + dev.Name()
}

func (s *StateSink) Emit(ctx context.Context, dev device.Device, r device.Reading) error {
	payload := state{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
	}

	if r.HasBatteryLevel {
		battery := r.BatteryLevel
		payload.Battery = &battery
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	topic := s.Topic(dev)

	if err := s.Publisher.Publish(topic, data, false); err != nil {
		return err
	}

	log.Debug().
		Stringer("Device", dev).
		Str("Topic", topic).
		Msg("Published device state")

	return nil
}
