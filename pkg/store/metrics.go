package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks store activity. A nil Registerer yields working but
// unregistered metrics, which keeps embedded and test use quiet.
type Metrics struct {
	writes       *prometheus.CounterVec
	reads        *prometheus.CounterVec
	zonesCleared prometheus.Counter
	corrected    prometheus.Gauge
	badBlocks    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muninn",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Records written, by record type.",
		}, []string{"type"}),
		reads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muninn",
			Subsystem: "store",
			Name:      "records_read_total",
			Help:      "Records handed out by the read path, by record type.",
		}, []string{"type"}),
		zonesCleared: f.NewCounter(prometheus.CounterOpts{
			Namespace: "muninn",
			Subsystem: "store",
			Name:      "zones_cleared_total",
			Help:      "Zones reset after unparsable or foreign content.",
		}),
		corrected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "muninn",
			Subsystem: "store",
			Name:      "ecc_corrected_bytes",
			Help:      "Cumulative bytes repaired by the redundancy codec.",
		}),
		badBlocks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "muninn",
			Subsystem: "store",
			Name:      "ecc_unrecoverable_blocks",
			Help:      "Cumulative blocks past the codec's correction capability.",
		}),
	}
}
