package lywsd03mmc

import (
	"context"
	"fmt"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/rs/zerolog/log"
)

const (
	// measurement characteristic pushing temperature, humidity and battery voltage.
	measurementValueHandle = 0x0036
	measurementCCCDHandle  = 0x0038

	// connection settings characteristic.
	connectionSettingsHandle = 0x0046
)

// written to connectionSettingsHandle to enable the expected notification stream.
var connectionSettingsValue = []byte{0xf4, 0x01, 0x00}

// Read subscribes to measurement notifications and waits for the first one.
// Writes, in order: 0x0038 <- 01 00 and 0x0046 <- f4 01 00.
func (d *Device) Read(ctx context.Context, c ble.Connection) (frame device.RawFrame, err error) {
	if err := c.Subscribe(measurementValueHandle, measurementCCCDHandle); err != nil {
		return frame, fmt.Errorf("failed to enable notifications: %w", err)
	}

	if err := c.WriteCharacteristic(connectionSettingsHandle, connectionSettingsValue, true); err != nil {
		return frame, fmt.Errorf("failed to configure connection: %w", err)
	}

	log.Trace().Stringer("Device", d).Msg("lywsd03mmc: waiting for notification")

	value, err := c.WaitForNotification(ctx)

	if err != nil {
		return frame, fmt.Errorf("failed to receive notification: %w", err)
	}

	return device.RawFrame{
		Source:  c.Addr(),
		Payload: value,
		Kind:    device.FrameKindNotification,
	}, nil
}
