package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtps"

// Counters shared by every entity of a participant.
type Metrics struct {
	DataSent        prometheus.Counter
	DataReceived    prometheus.Counter
	Retransmissions prometheus.Counter
	GapsSent        prometheus.Counter
	HeartbeatsSent  prometheus.Counter
	AckNacksSent    prometheus.Counter
	DecodeErrors    prometheus.Counter
	SendErrors      prometheus.Counter
	LostChanges     prometheus.Counter

	// Number of changes held by each entity history.
	HistorySize *prometheus.GaugeVec
}

// Creates the metrics and registers them. A nil registerer keeps
// the metrics unregistered, still usable but never exported.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		DataSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_sent_total",
			Help:      "Data and DataFrag submessages sent.",
		}),
		DataReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_received_total",
			Help:      "Changes received and added to a reader history.",
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Changes sent again after being requested by a reader.",
		}),
		GapsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gaps_sent_total",
			Help:      "Gap submessages sent for changes not available anymore.",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat submessages sent.",
		}),
		AckNacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acknacks_sent_total",
			Help:      "AckNack submessages sent.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Received datagrams discarded because they could not be decoded.",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Messages that failed to be sent.",
		}),
		LostChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lost_changes_total",
			Help:      "Missing changes a writer does not provide anymore.",
		}),
		HistorySize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Changes held by the history of an entity.",
		}, []string{"entity"}),
	}

	if registerer == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Unregisters every collector, used when the participant closes.
func (m *Metrics) Unregister(registerer prometheus.Registerer) {
	if registerer == nil {
		return
	}
	for _, c := range m.collectors() {
		registerer.Unregister(c)
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DataSent,
		m.DataReceived,
		m.Retransmissions,
		m.GapsSent,
		m.HeartbeatsSent,
		m.AckNacksSent,
		m.DecodeErrors,
		m.SendErrors,
		m.LostChanges,
		m.HistorySize,
	}
}

// Metrics not registered anywhere, used by tests and entities
// created without a participant.
func Discard() *Metrics {
	m, _ := NewMetrics(nil)
	return m
}
