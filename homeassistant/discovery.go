package homeassistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/robertof/go-lywsd03mmc-bridge/device"
)

const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"

	AttrTemperature = "temperature"
	AttrHumidity    = "humidity"
	AttrBattery     = "battery"
	AttrLowBattery  = "low_battery"
	AttrSource      = "source"

	manufacturer = "Xiaomi"
	model        = "Mijia LYWSD03MMC"

	// seconds without an update after which Home Assistant marks a sensor unavailable.
	expireAfter = 300
)

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Name         string   `json:"name"`
}

type discoveryConfig struct {
	UniqueID          string          `json:"unique_id"`
	Name              string          `json:"name"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	Icon              string          `json:"icon,omitempty"`
	ForceUpdate       bool            `json:"force_update,omitempty"`
	ExpireAfter       int             `json:"expire_after,omitempty"`
	Device            discoveryDevice `json:"device"`
}

type discoveryMessage struct {
	topic   string
	payload []byte
}

func nodeID(dev device.Device) string {
	return strings.ReplaceAll(strings.ToLower(dev.Addr().String()), ":", "-")
}

func (s *Sink) objectID(dev device.Device, attr ...string) string {
	return strings.Join(append([]string{s.cfg.NamePrefix, dev.Name()}, attr...), "_")
}

func (s *Sink) uniqueID(dev device.Device, attr ...string) string {
	mac := strings.ReplaceAll(strings.ToLower(dev.Addr().String()), ":", "")
	return strings.Join(append([]string{s.cfg.NamePrefix, mac}, attr...), "_")
}

// DiscoveryTopic returns <discovery prefix>/<component>/<node id>/<object id>/config.
func (s *Sink) DiscoveryTopic(component string, dev device.Device, attr string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", s.cfg.DiscoveryPrefix, component, nodeID(dev), s.objectID(dev, attr))
}

func (s *Sink) discoveryMessages(dev device.Device) ([]discoveryMessage, error) {
	desc := discoveryDevice{
		Identifiers:  []string{strings.ToLower(dev.Addr().String()), s.uniqueID(dev)},
		Manufacturer: manufacturer,
		Model:        model,
		Name:         s.objectID(dev),
	}

	sensor := func(attr string) discoveryConfig {
		return discoveryConfig{
			UniqueID:          s.uniqueID(dev, attr),
			Name:              s.objectID(dev, attr),
			StateTopic:        s.StateTopic(dev, attr),
			AvailabilityTopic: s.cfg.AvailabilityTopic,
			StateClass:        "measurement",
			ForceUpdate:       true,
			ExpireAfter:       expireAfter,
			Device:            desc,
		}
	}

	temperature := sensor(AttrTemperature)
	temperature.DeviceClass = "temperature"
	temperature.UnitOfMeasurement = "°C"

	humidity := sensor(AttrHumidity)
	humidity.DeviceClass = "humidity"
	humidity.UnitOfMeasurement = "%"
	humidity.Icon = "mdi:water"

	battery := sensor(AttrBattery)
	battery.DeviceClass = "battery"
	battery.UnitOfMeasurement = "%"

	lowBattery := discoveryConfig{
		UniqueID:          s.uniqueID(dev, AttrLowBattery),
		Name:              s.objectID(dev, AttrLowBattery),
		StateTopic:        s.StateTopic(dev, AttrLowBattery),
		AvailabilityTopic: s.cfg.AvailabilityTopic,
		DeviceClass:       "battery",
		Device:            desc,
	}

	configs := []struct {
		component, attr string
		config          discoveryConfig
	}{
		{ComponentSensor, AttrTemperature, temperature},
		{ComponentSensor, AttrHumidity, humidity},
		{ComponentSensor, AttrBattery, battery},
		{ComponentBinarySensor, AttrLowBattery, lowBattery},
	}

	out := make([]discoveryMessage, 0, len(configs))

	for _, c := range configs {
		payload, err := json.Marshal(c.config)
		if err != nil {
			return nil, fmt.Errorf("marshal %s discovery config: %w", c.attr, err)
		}

		out = append(out, discoveryMessage{
			topic:   s.DiscoveryTopic(c.component, dev, c.attr),
			payload: payload,
		})
	}

	return out, nil
}
