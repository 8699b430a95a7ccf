package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuro_messages_received_total",
			Help: "Messages decoded by readers, by type",
		},
		[]string{"type"},
	)

	messagesDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuro_messages_discarded_total",
			Help: "Messages dropped by readers, by reason",
		},
		[]string{"reason"}, // short_frame|parse|payload|layout
	)

	missedPackets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neuro_missed_packets",
		Help: "Running missed-packet count reported by the sequence tracker",
	})

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuro_messages_sent_total",
			Help: "Messages published, by type",
		},
		[]string{"type"},
	)

	sendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuro_send_errors_total",
		Help: "Publish attempts that failed at the transport",
	})

	heartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuro_heartbeats_total",
			Help: "Requests answered by the heartbeat poller, by reply",
		},
		[]string{"reply"}, // heartbeat|event|unreadable
	)

	mailboxDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuro_mailbox_dropped_total",
		Help: "Heartbeat records overwritten before the owner drained them",
	})

	registryClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neuro_registry_clients",
			Help: "Known remote applications by liveness",
		},
		[]string{"state"}, // alive|dead
	)

	registryChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuro_registry_changes_total",
			Help: "Registry change notifications by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		messagesReceived,
		messagesDiscarded,
		missedPackets,
		messagesSent,
		sendErrors,
		heartbeatsTotal,
		mailboxDropped,
		registryClients,
		registryChanges,
	)
}

func IncReceived(kind string)       { messagesReceived.WithLabelValues(kind).Inc() }
func IncDiscarded(reason string)    { messagesDiscarded.WithLabelValues(reason).Inc() }
func SetMissed(n int64)             { missedPackets.Set(float64(n)) }
func IncSent(kind string)           { messagesSent.WithLabelValues(kind).Inc() }
func IncSendError()                 { sendErrors.Inc() }
func IncHeartbeat(reply string)     { heartbeatsTotal.WithLabelValues(reply).Inc() }
func IncMailboxDropped()            { mailboxDropped.Inc() }
func IncRegistryChange(kind string) { registryChanges.WithLabelValues(kind).Inc() }

// SetClients publishes the registry population.
func SetClients(alive, dead int) {
	registryClients.WithLabelValues("alive").Set(float64(alive))
	registryClients.WithLabelValues("dead").Set(float64(dead))
}
