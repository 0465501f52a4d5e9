package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records instruction outcomes.
type Metrics struct {
	instructions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	paidOut      prometheus.Counter
	deposited    prometheus.Counter
}

// NewMetrics creates the ledger collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		instructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "splitescrow",
				Subsystem: "ledger",
				Name:      "instructions_total",
				Help:      "Executed instructions by ability and result code.",
			},
			[]string{"ability", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "splitescrow",
				Subsystem: "ledger",
				Name:      "instruction_duration_seconds",
				Help:      "Instruction execution time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"ability"},
		),
		paidOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitescrow",
			Subsystem: "escrow",
			Name:      "paid_out_total",
			Help:      "Asset units released by payouts.",
		}),
		deposited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "splitescrow",
			Subsystem: "escrow",
			Name:      "deposited_total",
			Help:      "Asset units accepted by deposits.",
		}),
	}
	reg.MustRegister(m.instructions, m.duration, m.paidOut, m.deposited)
	return m
}

func (m *Metrics) observe(ability, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.instructions.WithLabelValues(ability, code).Inc()
	m.duration.WithLabelValues(ability).Observe(elapsed.Seconds())
}

func (m *Metrics) addPaidOut(amount uint64) {
	if m != nil {
		m.paidOut.Add(float64(amount))
	}
}

func (m *Metrics) addDeposited(amount uint64) {
	if m != nil {
		m.deposited.Add(float64(amount))
	}
}
