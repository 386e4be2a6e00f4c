package main

import (
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("lywsd03mmc-bridge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	return fs
}

func TestParseArgs_Defaults(t *testing.T) {
	cfg, err := parseArgs(newFlagSet(), []string{
		"-lywsd03mmc", "name=kitchen,addr=A4:C1:38:D6:1E:75",
		"-source", "raspberrypi",
	})

	if err != nil {
		t.Fatalf("parseArgs() got error: %v", err)
	}

	if cfg.Mode() != device.ModeActive || cfg.CollectionInterval != 300*time.Second ||
		cfg.ScanTimeout != 20*time.Second || cfg.BluetoothConnParams != ble.ConnParamsDefault {
		t.Fatalf("parseArgs(): got %+#v, wanted defaults", cfg)
	}

	if cfg.MQTT.Broker != "localhost" || cfg.MQTT.Port != 1883 || cfg.MQTT.TopicPrefix != "lywsd03mmc" {
		t.Fatalf("parseArgs(): got MQTT config %+#v, wanted defaults", cfg.MQTT)
	}

	if !strings.HasPrefix(cfg.MQTT.ClientID, "lywsd03mmc-bridge-") {
		t.Fatalf("parseArgs(): got client ID %q, wanted a generated one", cfg.MQTT.ClientID)
	}

	if cfg.HomeAssistantConfig.AvailabilityTopic != "lywsd03mmc/status" ||
		cfg.HomeAssistantConfig.TopicPrefix != "lywsd03mmc" ||
		cfg.HomeAssistantConfig.Source != "raspberrypi" {
		t.Fatalf("parseArgs(): got Home Assistant config %+#v", cfg.HomeAssistantConfig)
	}

	if len(cfg.Devices) != 1 {
		t.Fatalf("parseArgs(): got %d devices, wanted 1", len(cfg.Devices))
	}

	dev := cfg.Devices[0]

	if dev.Name() != "kitchen" || dev.Addr().String() != "a4:c1:38:d6:1e:75" || dev.Mode() != device.ModeActive {
		t.Fatalf("parseArgs(): got device %v (%v), wanted kitchen in active mode", dev, dev.Mode())
	}
}

func TestParseArgs_PassiveDevicesInheritWorkerSettings(t *testing.T) {
	cfg, err := parseArgs(newFlagSet(), []string{
		"-passive",
		"-command-timeout", "5s",
		"-topic-prefix", "sensors",
		"-lywsd03mmc", "name=kitchen,addr=A4:C1:38:D6:1E:75",
		"-lywsd03mmc", "addr=A4:C1:38:11:22:33",
	})

	if err != nil {
		t.Fatalf("parseArgs() got error: %v", err)
	}

	if len(cfg.Devices) != 2 {
		t.Fatalf("parseArgs(): got %d devices, wanted 2", len(cfg.Devices))
	}

	for _, dev := range cfg.Devices {
		if dev.Mode() != device.ModePassive {
			t.Fatalf("parseArgs(): device %v got mode %v, wanted passive", dev, dev.Mode())
		}
	}

	if got := cfg.Devices[1].Name(); got != "lywsd03mmc-a4c138112233" {
		t.Fatalf("parseArgs(): got default name %q", got)
	}

	if cfg.MQTT.AvailabilityTopic() != "sensors/status" {
		t.Fatalf("parseArgs(): got availability topic %q", cfg.MQTT.AvailabilityTopic())
	}
}

func TestParseArgs_Errors(t *testing.T) {
	cases := [][]string{
		{},
		{"-lywsd03mmc", "name=kitchen"},
		{"-lywsd03mmc", "addr=not-a-mac"},
		{"-lywsd03mmc", "addr=A4:C1:38:D6:1E:75", "-lywsd03mmc", "addr=a4:c1:38:d6:1e:75"},
		{"-lywsd03mmc", "name=a,addr=A4:C1:38:D6:1E:75", "-lywsd03mmc", "name=a,addr=A4:C1:38:11:22:33"},
		{"-lywsd03mmc", "addr=A4:C1:38:D6:1E:75", "-bluetooth-connection-params", "turbo"},
		{"-lywsd03mmc", "addr=A4:C1:38:D6:1E:75", "-interval", "0s"},
	}

	for _, args := range cases {
		if _, err := parseArgs(newFlagSet(), args); err == nil {
			t.Fatalf("parseArgs(%q): got no error", args)
		}
	}

	if _, err := parseArgs(newFlagSet(), nil); !errors.Is(err, errNoDevices) {
		t.Fatalf("parseArgs(nil): got %v, wanted %v", err, errNoDevices)
	}

	if _, err := parseArgs(newFlagSet(), []string{"-discover"}); err != nil {
		t.Fatalf("parseArgs(-discover): got error %v, wanted none", err)
	}
}
