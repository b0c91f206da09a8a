package server

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics, exposed on the ops server under /metrics.
var (
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_connections_total",
		Help: "Total number of TCP connections accepted",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_connections_active",
		Help: "Current number of live connections",
	})

	namedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_named_users",
		Help: "Current number of connections that completed name negotiation",
	})

	messagesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_messages_stored_total",
		Help: "Total number of messages appended to the pool",
	})

	messagesRouted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_messages_routed_total",
		Help: "Total number of live deliveries to matching connections",
	})

	messagesReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_messages_replayed_total",
		Help: "Total number of messages queued for replay on join or scope change",
	})

	acksAbsorbed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_acks_total",
		Help: "Total number of delivery acknowledgements recorded",
	})

	postsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linechat_posts_rejected_total",
		Help: "Total number of rejected posts by reason",
	}, []string{"reason"})

	bansApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_bans_total",
		Help: "Total number of bans applied",
	})

	messagesReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_messages_reaped_total",
		Help: "Total number of delivered messages removed by the retention sweep",
	})

	framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_frames_dropped_total",
		Help: "Total number of outbound frames dropped on closed or saturated sessions",
	})

	framesThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linechat_frames_throttled_total",
		Help: "Total number of inbound frames dropped by the per-session flood guard",
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linechat_delivery_queue_depth",
		Help: "Replay items currently waiting in the delivery queue",
	})
)

func init() {
	prometheus.MustRegister(connectionsTotal)
	prometheus.MustRegister(connectionsActive)
	prometheus.MustRegister(namedUsers)
	prometheus.MustRegister(messagesStored)
	prometheus.MustRegister(messagesRouted)
	prometheus.MustRegister(messagesReplayed)
	prometheus.MustRegister(acksAbsorbed)
	prometheus.MustRegister(postsRejected)
	prometheus.MustRegister(bansApplied)
	prometheus.MustRegister(messagesReaped)
	prometheus.MustRegister(framesDropped)
	prometheus.MustRegister(framesThrottled)
	prometheus.MustRegister(queueDepth)
}
