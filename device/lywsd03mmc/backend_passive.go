package lywsd03mmc

import (
	"strings"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/rs/zerolog/log"
)

var serviceUUID = ble.UUID16(ServiceUUID)

// Frames returns the sensor service data frames found in a, with the service UUID prepended
// as it was on the wire. Advertisements from other addresses yield nothing.
func (d *Device) Frames(a ble.Advertisement) (frames []device.RawFrame) {
	if a.Addr() == nil || !strings.EqualFold(a.Addr().String(), d.addr.String()) {
		return nil
	}

	for _, sd := range a.ServiceData() {
		if !sd.UUID.Equal(serviceUUID) {
			log.Debug().
				Stringer("Device", d).
				Stringer("UUID", sd.UUID).
				Hex("Data", sd.Data).
				Msg("lywsd03mmc: ignoring unknown service data")

			continue
		}

		payload := make([]byte, 0, len(sd.UUID)+len(sd.Data))
		payload = append(payload, sd.UUID...)
		payload = append(payload, sd.Data...)

		frames = append(frames, device.RawFrame{
			Source:  d.addr,
			Payload: payload,
			Kind:    device.FrameKindServiceData,
		})
	}

	return frames
}
