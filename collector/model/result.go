package model

import (
	"fmt"
	"time"

	"github.com/robertof/go-lywsd03mmc-bridge/device"
)

type Result struct {
	// Latest known reading of the device. Only acquired during this cycle when Fresh is set,
	// and zero when UpdatedAt is.
	Reading   device.Reading
	UpdatedAt time.Time
	Fresh     bool
	Error     error
}

func (c Result) HasReading() bool {
	return !c.UpdatedAt.IsZero()
}

func (c Result) String() string {
	switch {
	case c.Error != nil && c.HasReading():
		return fmt.Sprintf("result:error(%v, stale=%v)", c.Error, c.Reading)
	case c.Error != nil:
		return fmt.Sprintf("result:error(%v)", c.Error)
	case c.Fresh:
		return fmt.Sprintf("result:success(%v)", c.Reading)
	default:
		return fmt.Sprintf("result:stale(%v)", c.Reading)
	}
}

type DeviceResult struct {
	device.Device
	Result
}
