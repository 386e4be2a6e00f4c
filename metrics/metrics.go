package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/go-lywsd03mmc-bridge/collector/model"
)

var (
	descTemperature = prometheus.NewDesc(
		"sensor_temperature_celsius",
		"Temperature reported by the sensor in Celsius.",
		[]string{"name", "addr"},
		nil,
	)

	descHumidity = prometheus.NewDesc(
		"sensor_humidity_ratio",
		"Relative humidity reported by the sensor.",
		[]string{"name", "addr"},
		nil,
	)

	descBattery = prometheus.NewDesc(
		"sensor_battery_ratio",
		"Battery percentage reported by the sensor.",
		[]string{"name", "addr"},
		nil,
	)

	descBatteryVoltage = prometheus.NewDesc(
		"sensor_battery_voltage_volts",
		"Battery voltage reported by the sensor.",
		[]string{"name", "addr"},
		nil,
	)
)

// CollectFunc returns the results of the last collection cycle.
type CollectFunc func() ([]model.DeviceResult, time.Time)

type collector struct {
	CollectFunc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect exports the last known reading of every device, timestamped with the time it was
// acquired at so that stale readings are not reported as new.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	out, _ := c.CollectFunc()

	for _, res := range out {
		if !res.HasReading() {
			continue
		}

		name, addr := res.Name(), res.Addr().String()
		ts := res.UpdatedAt
		reading := res.Reading

		temperature := prometheus.MustNewConstMetric(
			descTemperature,
			prometheus.GaugeValue,
			reading.Temperature,
			name, addr,
		)

		ch <- prometheus.NewMetricWithTimestamp(ts, temperature)

		humidity := prometheus.MustNewConstMetric(
			descHumidity,
			prometheus.GaugeValue,
			float64(reading.Humidity)/100,
			name, addr,
		)

		ch <- prometheus.NewMetricWithTimestamp(ts, humidity)

		if reading.HasBatteryLevel {
			battery := prometheus.MustNewConstMetric(
				descBattery,
				prometheus.GaugeValue,
				float64(reading.BatteryLevel)/100,
				name, addr,
			)

			ch <- prometheus.NewMetricWithTimestamp(ts, battery)
		}

		if reading.HasBatteryVoltage {
			voltage := prometheus.MustNewConstMetric(
				descBatteryVoltage,
				prometheus.GaugeValue,
				float64(reading.BatteryVoltage)/1000,
				name, addr,
			)

			ch <- prometheus.NewMetricWithTimestamp(ts, voltage)
		}
	}
}

func RegisterCollector(f CollectFunc, reg prometheus.Registerer) {
	c := &collector{f}

	reg.MustRegister(c)
}
