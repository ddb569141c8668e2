// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Name:      "messages_accepted_total",
		Help:      "Messages that passed the auth pipeline.",
	})

	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Name:      "messages_rejected_total",
		Help:      "Messages rejected by the auth pipeline, by reason.",
	}, []string{"reason"})

	AsksResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Name:      "asks_resolved_total",
		Help:      "Pending asks completed by a matching reply.",
	})

	AsksTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Name:      "asks_timed_out_total",
		Help:      "Pending asks that hit their deadline.",
	})

	JoinRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentmesh",
		Name:      "bootstrap_join_total",
		Help:      "Bootstrap join attempts, by outcome.",
	}, []string{"outcome"})
)
