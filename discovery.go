package main

import (
	"context"
	"errors"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/device/lywsd03mmc"
)

var sensorServiceUUID = ble.UUID16(lywsd03mmc.ServiceUUID)

func doDeviceDiscovery(cfg config) {
	log.Info().Msg("Starting in device discovery mode - collecting devices for 10 seconds...")

	handle, err := ble.Init(cfg.BluetoothDeviceId, ble.FlagScanTypeActive)

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
	}

	ctx := ble.WrapContextWithSigHandler(
		context.WithTimeout(
			context.Background(),
			10*time.Second,
		),
	)

	type deviceInfo struct {
		name        string
		connectable bool
		// advertises sensor service data, as custom firmwares do.
		broadcasting bool
		services     map[string]bool
	}

	devices := make(map[string]*deviceInfo)

	err = handle.ScanAll(ctx, func(a ble.Advertisement) {
		addr := a.Addr().String()
		info, ok := devices[addr]

		if !ok {
			info = &deviceInfo{services: make(map[string]bool)}
			devices[addr] = info
		}

		// merge
		if info.name == "" {
			info.name = a.LocalName()
		}

		info.connectable = a.Connectable()

		for _, uuid := range a.Services() {
			info.services[uuid.String()] = true
		}

		for _, sd := range a.ServiceData() {
			if sd.UUID.Equal(sensorServiceUUID) {
				info.broadcasting = true
			}
		}

		log.Debug().
			Str("Addr", addr).
			Str("Name", a.LocalName()).
			Bool("Connectable", a.Connectable()).
			Strs("Services", maps.Keys(info.services)).
			Interface("ServiceData", a.ServiceData()).
			Hex("ManufacturerData", a.ManufacturerData()).
			Msg("Received device advertisement")
	})

	if cause := pkgerrors.Cause(err); err != nil &&
		!errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		log.Fatal().Err(err).Msg("Failed to initiate scan")
	}

	if err := handle.Stop(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop Bluetooth device")
	}

	log.Info().Int("Found", len(devices)).Msg("Finished device discovery")

	addrs := maps.Keys(devices)
	sort.Strings(addrs)

	for _, addr := range addrs {
		data := devices[addr]
		services := maps.Keys(data.services)
		sort.Strings(services)

		log.Info().
			Str("Addr", addr).
			Str("Name", data.name).
			Bool("Connectable", data.connectable).
			Strs("Services", services).
			Bool("Passive", data.broadcasting).
			Msg("Found device")
	}

	log.Info().Msg("Devices with Passive=true broadcast their readings and can be used with -passive")
}
