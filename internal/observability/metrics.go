package observability

import "github.com/prometheus/client_golang/prometheus"

// Realtime delivery collectors. Label values are fixed small sets so
// cardinality stays bounded:
//
//   - result (messages): ok, replayed, rejected, failed
//   - result (acks):     applied, duplicate, self, rejected, failed
//   - result (fanout):   queued, dropped, offline
//   - loop:              offline_retry, roster_refresh, change_feed
var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Message send attempts by outcome.",
		},
		[]string{"result"},
	)

	AcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_acks_total",
			Help: "Acknowledgements by kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	FanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_total",
			Help: "Per-recipient message pushes by outcome.",
		},
		[]string{"result"},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Currently open realtime connections.",
		},
	)

	AckFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ack_flushes_total",
			Help: "Accumulator flushes to the durable store by kind.",
		},
		[]string{"kind"},
	)

	ReconcileItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reconcile_items_total",
			Help: "Items processed by the background reconciliation loops.",
		},
		[]string{"loop", "result"},
	)

	BackfillMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_backfill_messages_total",
			Help: "Messages replayed to reconnecting participants.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		AcksTotal,
		FanoutTotal,
		ConnectionsActive,
		AckFlushesTotal,
		ReconcileItemsTotal,
		BackfillMessagesTotal,
	)
}
