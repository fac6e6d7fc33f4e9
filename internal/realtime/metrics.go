package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the realtime subsystem's Prometheus collectors.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ChatsActive       prometheus.GaugeFunc
	ConnectionsTotal  prometheus.Counter
	AdmissionRejects  *prometheus.CounterVec
	MessagesPersisted prometheus.Counter
	MessagesDelivered prometheus.Counter
	SendFailures      prometheus.Counter
	SlowEvictions     prometheus.Counter
}

// NewMetrics builds and registers the realtime collectors.
func NewMetrics(reg prometheus.Registerer, registry *Registry) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webchat",
			Subsystem: "realtime",
			Name:      "connections_active",
			Help:      "Number of live websocket connections.",
		}),
		ChatsActive: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "webchat",
			Subsystem: "realtime",
			Name:      "chats_active",
			Help:      "Number of chats with at least one live connection.",
		}, func() float64 { return float64(registry.ActiveChats()) }),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webchat",
			Subsystem: "realtime",
			Name:      "connections_total",
			Help:      "Total accepted websocket connections.",
		}),
		AdmissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webchat",
			Subsystem: "realtime",
			Name:      "admission_rejects_total",
			Help:      "Connection attempts rejected before upgrade, by reason.",
		}, []string{"reason"}),
		MessagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webchat",
			Subsystem: "realtime",
			Name:      "messages_persisted_total",
			Help:      "Messages durably appended to chat logs.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webchat",
			Subsystem: "realtime",
			Name:      "messages_delivered_total",
			Help:      "Per-connection envelope deliveries enqueued by the broadcaster.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webchat",
			Subsystem: "realtime",
			Name:      "send_failures_total",
			Help:      "Broadcast enqueue failures (closed or saturated connections).",
		}),
		SlowEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webchat",
			Subsystem: "realtime",
			Name:      "slow_evictions_total",
			Help:      "Connections evicted because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.ChatsActive,
		m.ConnectionsTotal,
		m.AdmissionRejects,
		m.MessagesPersisted,
		m.MessagesDelivered,
		m.SendFailures,
		m.SlowEvictions,
	)
	return m
}
