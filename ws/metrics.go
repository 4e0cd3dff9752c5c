package ws

import "github.com/prometheus/client_golang/prometheus"

var reconnects = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "chatsync",
	Subsystem: "ws",
	Name:      "reconnects_total",
	Help:      "Number of times the websocket connection was lost.",
})

func init() {
	prometheus.MustRegister(reconnects)
}
