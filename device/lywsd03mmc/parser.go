package lywsd03mmc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"

	pkgerrors "github.com/pkg/errors"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/robertof/go-lywsd03mmc-bridge/utils"
)

// Environmental Sensing service, used by custom firmwares to broadcast measurements.
const ServiceUUID = 0x181a

var (
	ErrNotASensorFrame = errors.New("not a sensor frame")
	ErrMalformed       = errors.New("malformed frame")
	// Returned for readings outside the sensor's operating range, which almost always means
	// the frame layout was misidentified. Wraps ErrMalformed.
	ErrImplausibleReading = fmt.Errorf("%w: implausible reading", ErrMalformed)
)

// serviceMarker is ServiceUUID as it appears on the wire (little-endian).
var serviceMarker = []byte{0x1a, 0x18}

const (
	minTemperature = -40
	maxTemperature = 85
	maxHumidity    = 100
	maxBattery     = 100

	embeddedAddrOffset = 2
	embeddedAddrEnd    = embeddedAddrOffset + 6

	customFrameLen       = 15
	atcFrameLen          = 14
	notificationFrameLen = 5

	// voltage range mapped linearly onto 0-100% for frames not carrying a battery level.
	batteryEmptyMillivolts = 2100
	batteryFullMillivolts  = 3100
)

type Format uint8

const (
	FormatUnknown Format = iota
	// pvvx custom format: embedded MAC reversed, little-endian fields.
	FormatCustom
	// atc1441 format: embedded MAC in display order, big-endian fields.
	FormatATC
	// stock firmware GATT notification.
	FormatNotification
)

func (f Format) String() string {
	switch f {
	case FormatCustom:
		return "custom"
	case FormatATC:
		return "atc"
	case FormatNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// DetectFormat selects the layout of a service data frame by comparing the MAC embedded in
// the payload with the device's own. It only looks at the embedded MAC and addr.
func DetectFormat(payload []byte, addr net.HardwareAddr) (Format, error) {
	if len(payload) < len(serviceMarker) || !bytes.Equal(payload[:len(serviceMarker)], serviceMarker) {
		return FormatUnknown, pkgerrors.Wrapf(ErrNotASensorFrame,
			"unexpected service marker in %x", payload)
	}

	if len(payload) < embeddedAddrEnd {
		return FormatUnknown, pkgerrors.Wrapf(ErrMalformed,
			"frame too short to embed a MAC address (%d bytes)", len(payload))
	}

	if len(addr) != 6 {
		return FormatUnknown, fmt.Errorf("invalid device address %q", addr.String())
	}

	embedded := payload[embeddedAddrOffset:embeddedAddrEnd]

	// the trailing two bytes of the embedded MAC read backwards are the leading two bytes of
	// the device MAC.
	if bytes.Equal(utils.Reverse(embedded[4:6]), addr[0:2]) {
		return FormatCustom, nil
	}

	return FormatATC, nil
}

// Decode a service data frame (service UUID included) broadcast by the device at addr.
func Decode(payload []byte, addr net.HardwareAddr) (device.Reading, error) {
	format, err := DetectFormat(payload, addr)

	if err != nil {
		return device.Reading{}, err
	}

	switch format {
	case FormatCustom:
		return decodeCustom(payload)
	default:
		return decodeATC(payload)
	}
}

// DecodeFrame decodes frame according to its kind.
func DecodeFrame(frame device.RawFrame, addr net.HardwareAddr) (device.Reading, error) {
	switch frame.Kind {
	case device.FrameKindServiceData:
		return Decode(frame.Payload, addr)
	case device.FrameKindNotification:
		return DecodeNotification(frame.Payload)
	default:
		return device.Reading{}, pkgerrors.Wrapf(ErrNotASensorFrame, "unsupported frame kind %v", frame.Kind)
	}
}

func decodeCustom(data []byte) (reading device.Reading, err error) {
	if len(data) < customFrameLen {
		return reading, pkgerrors.Wrapf(ErrMalformed,
			"unexpected data length (%d) for custom frame, want >= %d", len(data), customFrameLen)
	}

	bo := binary.LittleEndian
	rawTemp := int16(bo.Uint16(data[8:])) // signed, in 0.01°C
	rawHumidity := bo.Uint16(data[10:])   // 0.01%

	reading.Temperature = roundTo1(float64(rawTemp) / 100)
	reading.Humidity = int(math.Round(float64(rawHumidity) / 100))
	reading.BatteryVoltage = int(bo.Uint16(data[12:]))
	reading.HasBatteryVoltage = true
	reading.BatteryLevel = int(data[14])
	reading.HasBatteryLevel = true

	return reading, checkPlausible(FormatCustom, reading)
}

func decodeATC(data []byte) (reading device.Reading, err error) {
	if len(data) < atcFrameLen {
		return reading, pkgerrors.Wrapf(ErrMalformed,
			"unexpected data length (%d) for ATC frame, want >= %d", len(data), atcFrameLen)
	}

	bo := binary.BigEndian
	rawTemp := int16(bo.Uint16(data[8:])) // signed, in 0.1°C

	reading.Temperature = roundTo1(float64(rawTemp) / 10)
	reading.Humidity = int(data[10])
	reading.BatteryVoltage = int(bo.Uint16(data[11:]))
	reading.HasBatteryVoltage = true
	reading.BatteryLevel = int(data[13])
	reading.HasBatteryLevel = true

	return reading, checkPlausible(FormatATC, reading)
}

// DecodeNotification decodes the value pushed by the stock firmware on the measurement
// characteristic: temperature (int16, 0.01°C), humidity (uint8) and battery voltage (uint16,
// mV), all little-endian.
func DecodeNotification(data []byte) (reading device.Reading, err error) {
	if len(data) < notificationFrameLen {
		return reading, pkgerrors.Wrapf(ErrMalformed,
			"unexpected data length (%d) for notification, want >= %d", len(data), notificationFrameLen)
	}

	bo := binary.LittleEndian
	rawTemp := int16(bo.Uint16(data))

	reading.Temperature = roundTo1(float64(rawTemp) / 100)
	reading.Humidity = int(data[2])
	reading.BatteryVoltage = int(bo.Uint16(data[3:]))
	reading.HasBatteryVoltage = true
	reading.BatteryLevel = batteryLevelFromVoltage(reading.BatteryVoltage)
	reading.HasBatteryLevel = true

	return reading, checkPlausible(FormatNotification, reading)
}

func batteryLevelFromVoltage(mv int) int {
	level := math.Round(float64(mv-batteryEmptyMillivolts) * 100 /
		(batteryFullMillivolts - batteryEmptyMillivolts))

	return int(math.Max(0, math.Min(100, level)))
}

func checkPlausible(format Format, r device.Reading) error {
	if r.Humidity > maxHumidity ||
		r.Temperature < minTemperature || r.Temperature > maxTemperature ||
		(r.HasBatteryLevel && r.BatteryLevel > maxBattery) {
		return pkgerrors.Wrapf(ErrImplausibleReading,
			"%v frame decoded to %v, format probably misidentified", format, r)
	}

	return nil
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}
