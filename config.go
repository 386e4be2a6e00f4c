package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/collector"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/robertof/go-lywsd03mmc-bridge/device/lywsd03mmc"
	"github.com/robertof/go-lywsd03mmc-bridge/homeassistant"
	"github.com/robertof/go-lywsd03mmc-bridge/mqtt"
)

var errNoDevices = errors.New("at least one device is required")

type config struct {
	Debug, Trace        bool
	BindAddress         string
	DiscoverDevices     bool
	BluetoothDeviceId   int
	BluetoothConnParams ble.ConnParams
	Passive             bool
	CommandTimeout      time.Duration
	ScanTimeout         time.Duration
	CollectionInterval  time.Duration
	MQTT                mqtt.Config
	HomeAssistant       bool
	HomeAssistantConfig homeassistant.Config
	Devices             []device.Session
}

func (c config) Mode() device.Mode {
	if c.Passive {
		return device.ModePassive
	}

	return device.ModeActive
}

// boundSpecList collects the specs given for a device type. Devices are only built once all
// flags are parsed, as they depend on the worker settings.
type boundSpecList struct {
	name  string
	specs []device.DeviceSpec
}

var deviceFactories = map[string]func(cfg config) device.Factory{
	"lywsd03mmc": func(cfg config) device.Factory {
		return &lywsd03mmc.Factory{
			Mode:           cfg.Mode(),
			CommandTimeout: cfg.CommandTimeout,
		}
	},
}

func (d *boundSpecList) String() string {
	return ""
}

func (d *boundSpecList) Set(v string) error {
	ds, err := device.ParseDeviceSpec(v)
	if err != nil {
		return fmt.Errorf("invalid %s device spec: %w", d.name, err)
	}

	d.specs = append(d.specs, ds)

	return nil
}

func ParseArgs() config {
	cfg, err := parseArgs(flag.CommandLine, os.Args[1:])

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		if errors.Is(err, errNoDevices) {
			flag.Usage()
		}

		os.Exit(1)
	}

	return cfg
}

func parseArgs(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config

	cfg.BluetoothConnParams = ble.ConnParamsDefault

	fs.StringVar(&cfg.BindAddress, "bind", "", "Where the Prometheus exporter will bind to, disabled if empty")
	fs.IntVar(&cfg.BluetoothDeviceId, "bluetooth-device", 0, "Bluetooth (HCI) device ID")
	fs.Var(&cfg.BluetoothConnParams, "bluetooth-connection-params", "Bluetooth connection parameters (one of 'default' or 'power-saving')")
	fs.BoolVar(&cfg.DiscoverDevices, "discover", false, "Discover available BLE devices and quit")
	fs.BoolVar(&cfg.Passive, "passive", false,
		"Read advertisements broadcast by devices running a custom firmware instead of connecting to them")
	fs.DurationVar(&cfg.CommandTimeout, "command-timeout", lywsd03mmc.DefaultCommandTimeout,
		"Timeout for a whole connect/subscribe/wait exchange with a device (active mode)")
	fs.DurationVar(&cfg.ScanTimeout, "scan-timeout", collector.DefaultScanTimeout,
		"Duration of each scan pass (passive mode)")
	fs.DurationVar(&cfg.CollectionInterval, "interval", 300*time.Second,
		"How frequently data collection happens")

	fs.StringVar(&cfg.MQTT.Broker, "mqtt-broker", mqtt.DefaultBroker, "MQTT broker host")
	fs.IntVar(&cfg.MQTT.Port, "mqtt-port", mqtt.DefaultPort, "MQTT broker port")
	fs.StringVar(&cfg.MQTT.ClientID, "mqtt-client-id", "", "MQTT client ID. Defaults to a random one")
	fs.StringVar(&cfg.MQTT.Username, "mqtt-username", "", "MQTT username")
	fs.StringVar(&cfg.MQTT.Password, "mqtt-password", "", "MQTT password")
	fs.StringVar(&cfg.MQTT.TopicPrefix, "topic-prefix", mqtt.DefaultTopicPrefix, "Prefix of the published topics")

	fs.BoolVar(&cfg.HomeAssistant, "homeassistant", false,
		"Publish readings and discovery configs in the Home Assistant MQTT layout")
	fs.StringVar(&cfg.HomeAssistantConfig.DiscoveryPrefix, "discovery-prefix", homeassistant.DefaultDiscoveryPrefix,
		"Home Assistant discovery prefix")
	fs.StringVar(&cfg.HomeAssistantConfig.NamePrefix, "name-prefix", homeassistant.DefaultNamePrefix,
		"Prefix of the Home Assistant entity names")
	fs.StringVar(&cfg.HomeAssistantConfig.Source, "source", "",
		"Value published on the source topic of each device. Defaults to the hostname")

	fs.BoolVar(&cfg.Debug, "debug", false, "Enable debug logs")
	fs.BoolVar(&cfg.Trace, "trace", false, "Enable trace logs")

	boundLists := make(map[string]*boundSpecList)

	for deviceName, newFactory := range deviceFactories {
		boundList := &boundSpecList{name: deviceName}
		boundLists[deviceName] = boundList

		help := "Device spec for this device in the form of `key=value,key=value`. Can be repeated."

		if docs, ok := newFactory(cfg).(device.FactoryDocs); ok {
			help += "\n" + docs.Help()
		}

		fs.Var(boundList, deviceName, help)
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.CollectionInterval <= 0 {
		return cfg, fmt.Errorf("invalid interval %v: must be positive", cfg.CollectionInterval)
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = mqtt.DefaultClientID()
	}

	if cfg.HomeAssistantConfig.Source == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return cfg, fmt.Errorf("failed to determine hostname, set -source: %w", err)
		}

		cfg.HomeAssistantConfig.Source = hostname
	}

	cfg.HomeAssistantConfig.TopicPrefix = cfg.MQTT.TopicPrefix
	cfg.HomeAssistantConfig.AvailabilityTopic = cfg.MQTT.AvailabilityTopic()

	for deviceName, list := range boundLists {
		factory := deviceFactories[deviceName](cfg)

		for _, spec := range list.specs {
			dev, err := factory.FromSpec(spec)
			if err != nil {
				return cfg, fmt.Errorf("failed to create %s device: %w", deviceName, err)
			}

			cfg.Devices = append(cfg.Devices, dev)
		}
	}

	if !cfg.DiscoverDevices && len(cfg.Devices) == 0 {
		return cfg, errNoDevices
	}

	if err := checkDuplicates(cfg.Devices); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// checkDuplicates rejects devices sharing a name, as they would publish on the same topics, or
// an address.
func checkDuplicates(devices []device.Session) error {
	names := make(map[string]bool)
	addrs := make(map[string]bool)

	for _, dev := range devices {
		if names[dev.Name()] {
			return fmt.Errorf("duplicate device name %q", dev.Name())
		}

		if addrs[dev.Addr().String()] {
			return fmt.Errorf("duplicate device address %q", dev.Addr().String())
		}

		names[dev.Name()] = true
		addrs[dev.Addr().String()] = true
	}

	return nil
}
