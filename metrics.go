package execution

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/0x5487/execution-engine/oms"
	"github.com/0x5487/execution-engine/protocol"
)

// Metrics counts published execution reports and exposes queue depths.
type Metrics struct {
	reports *prometheus.CounterVec
	dropped prometheus.Counter
	reg     prometheus.Registerer
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "execution",
			Name:      "reports_total",
			Help:      "Execution reports published, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "execution",
			Name:      "submits_rejected_total",
			Help:      "Client events refused because the pipeline ring was full or closed.",
		}),
		reg: reg,
	}
	for _, c := range []prometheus.Collector{m.reports, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// queueDepth exposes the pending length of one loop.
func (m *Metrics) queueDepth(loop string, pending func() int64) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "execution",
		Name:        "queue_depth",
		Help:        "Events waiting in an engine ring.",
		ConstLabels: prometheus.Labels{"loop": loop},
	}, func() float64 {
		return float64(pending())
	}))
}

// heldEvents exposes the output a loop holds back until downstream has room.
func (m *Metrics) heldEvents(loop string, held func() int64) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "execution",
		Name:        "held_events",
		Help:        "Events produced by a loop and waiting for room in the next ring.",
		ConstLabels: prometheus.Labels{"loop": loop},
	}, func() float64 {
		return float64(held())
	}))
}

// Publisher wraps next so every report is counted before it is handed on.
func (m *Metrics) Publisher(next oms.Publisher) oms.Publisher {
	return &countingPublisher{next: next, reports: m.reports}
}

type countingPublisher struct {
	next    oms.Publisher
	reports *prometheus.CounterVec
}

func (p *countingPublisher) Publish(reports ...protocol.ExecutionReport) {
	for _, r := range reports {
		p.reports.WithLabelValues(string(r.Kind)).Inc()
	}
	p.next.Publish(reports...)
}
