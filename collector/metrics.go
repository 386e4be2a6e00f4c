package collector

import "github.com/prometheus/client_golang/prometheus"

var (
	acquisitionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lywsd03mmc_bridge",
			Name:      "acquisitions_total",
			Help:      "Number of per-device acquisitions, by result.",
		},
		[]string{"result"},
	)

	emittedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lywsd03mmc_bridge",
		Name:      "published_messages_total",
		Help:      "Number of readings successfully handed to the emitter.",
	})
)

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(acquisitionsCounter, emittedCounter)
}
