package device

import (
	"fmt"
	"strings"
)

// LowBatteryThreshold is the battery level (percent) below which a device is reported as
// running low.
const LowBatteryThreshold = 3

type Reading struct {
	Temperature    float64
	Humidity       int
	BatteryLevel   int
	BatteryVoltage int // mV

	HasBatteryLevel   bool
	HasBatteryVoltage bool
}

// LowBattery is false when the battery level is unknown.
func (r Reading) LowBattery() bool {
	return r.HasBatteryLevel && r.BatteryLevel < LowBatteryThreshold
}

func (r Reading) String() string {
	fields := []string{
		fmt.Sprintf("Temperature=%.1fC", r.Temperature),
		fmt.Sprintf("Humidity=%d%%", r.Humidity),
	}

	if r.HasBatteryLevel {
		fields = append(fields, fmt.Sprintf("Battery=%d%%", r.BatteryLevel))
	}

	if r.HasBatteryVoltage {
		fields = append(fields, fmt.Sprintf("BatteryVoltage=%dmV", r.BatteryVoltage))
	}

	return fmt.Sprintf("Reading[%v]", strings.Join(fields, ","))
}
