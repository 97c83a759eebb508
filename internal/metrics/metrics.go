package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_pushes_total",
		Help: "Total pushes received, labelled by outcome (accepted, duplicate, rejected).",
	}, []string{"outcome"})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_delivered_total",
		Help: "Total events returned to polling slaves.",
	})

	AcksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_acks_total",
		Help: "Total acknowledgments recorded, labelled by status (DONE, ERR, SKIP, gone).",
	}, []string{"status"})

	EventsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_collected_total",
		Help: "Total events removed by retention, labelled by cause (ack_complete, cascade, count_cap, age_cap).",
	}, []string{"cause"})

	EventsLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_events_live",
		Help: "Events currently held in the log, per group.",
	}, []string{"group"})

	SlavesKnown = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_slaves_known",
		Help: "Slaves currently registered, per group.",
	}, []string{"group"})
)
