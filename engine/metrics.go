package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "events_total",
		Help:      "Inbound websocket events by type.",
	}, []string{"type"})

	decryptFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "decrypt_failures_total",
		Help:      "Messages that could not be decrypted, by source.",
	}, []string{"reason"})

	reencryptRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "reencrypt_requests_total",
		Help:      "request_reencrypt commands sent.",
	})

	reconcileOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "reconcile_outcomes_total",
		Help:      "Results of matching send acks and echoes to optimistic messages.",
	}, []string{"result"})

	refreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "refreshes_total",
		Help:      "Forward refreshes of the newest page.",
	})

	sendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "send_failures_total",
		Help:      "Sends rolled back after a failure.",
	})

	pendingSends = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsync",
		Name:      "pending_sends",
		Help:      "Optimistic sends waiting for their ack.",
	})

	refreshTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "refresh_triggers_total",
		Help:      "Envelope events that armed a refresh window or were absorbed by one.",
	}, []string{"result"})

	staleResults = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Name:      "stale_results_total",
		Help:      "Async results dropped because the chat was switched.",
	})
)

func init() {
	prometheus.MustRegister(eventsTotal, decryptFailures, reencryptRequests, reconcileOutcomes,
		refreshes, sendFailures, pendingSends, refreshTriggers, staleResults)
}
