package lywsd03mmc

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/rs/zerolog/log"
)

// Factory builds devices sharing the acquisition settings of a single worker.
type Factory struct {
	Mode           device.Mode
	CommandTimeout time.Duration
}

func defaultName(addr net.HardwareAddr) string {
	return "lywsd03mmc-" + strings.ReplaceAll(strings.ToLower(addr.String()), ":", "")
}

func (f *Factory) FromSpec(spec device.DeviceSpec) (device.Session, error) {
	hwAddr, err := net.ParseMAC(spec.Addr())
	if err != nil {
		return nil, fmt.Errorf("invalid addr: %w", err)
	}

	d, err := NewDevice(spec.Name(), hwAddr, f.Mode, f.CommandTimeout)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Stringer("Device", d).
		Stringer("Mode", d.Mode()).
		Dur("CommandTimeout", d.CommandTimeout()).
		Msg("lywsd03mmc: configured device")

	return d, nil
}

func (f *Factory) Help() string {
	return `Supported parameters:
addr (string, required): MAC address of this LYWSD03MMC device
name (string): Name of this device, used in MQTT topics. Defaults to lywsd03mmc-<mac>`
}
