package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type RicksMetrics struct {
	bidsAccepted    prometheus.Counter
	windowsSettled  *prometheus.CounterVec
	bidsReclaimed   prometheus.Counter
	commandFailures *prometheus.CounterVec
	outstanding     *prometheus.GaugeVec
}

var (
	ricksOnce     sync.Once
	ricksRegistry *RicksMetrics
)

func Ricks() *RicksMetrics {
	ricksOnce.Do(func() {
		ricksRegistry = &RicksMetrics{
			bidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ricks_bids_accepted_total",
				Help: "Count of bids accepted into auction windows.",
			}),
			windowsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ricks_windows_settled_total",
				Help: "Count of settled auction windows by outcome.",
			}, []string{"outcome"}),
			bidsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ricks_bids_reclaimed_total",
				Help: "Count of losing bids reclaimed after settlement.",
			}),
			commandFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ricks_command_failures_total",
				Help: "Count of rejected commands by command and error kind.",
			}, []string{"command", "kind"}),
			outstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ricks_outstanding_fractions",
				Help: "Fractions still held in protocol custody per escrow.",
			}, []string{"escrow"}),
		}
		prometheus.MustRegister(
			ricksRegistry.bidsAccepted,
			ricksRegistry.windowsSettled,
			ricksRegistry.bidsReclaimed,
			ricksRegistry.commandFailures,
			ricksRegistry.outstanding,
		)
	})
	return ricksRegistry
}

// BidAccepted records an accepted bid.
func (m *RicksMetrics) BidAccepted() {
	if m == nil {
		return
	}
	m.bidsAccepted.Inc()
}

// WindowSettled records a settlement outcome ("won" or "lapsed").
func (m *RicksMetrics) WindowSettled(outcome string) {
	if m == nil {
		return
	}
	m.windowsSettled.WithLabelValues(outcome).Inc()
}

// BidReclaimed records a losing bid reclaim.
func (m *RicksMetrics) BidReclaimed() {
	if m == nil {
		return
	}
	m.bidsReclaimed.Inc()
}

// OutstandingFractions tracks the custody-held fraction supply of one escrow.
func (m *RicksMetrics) OutstandingFractions(escrow string, value float64) {
	if m == nil {
		return
	}
	m.outstanding.WithLabelValues(escrow).Set(value)
}

// CommandFailed records a rejected command.
func (m *RicksMetrics) CommandFailed(command, kind string) {
	if m == nil {
		return
	}
	m.commandFailures.WithLabelValues(command, kind).Inc()
}
