package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsRegistered counts Register calls by result: created | refreshed.
	EventsRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "events_registered_total",
		Help:      "Raw occurrence registrations, by result.",
	}, []string{"result"})

	// Sweeps counts completed grace-period sweeps.
	Sweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "sweeps_total",
		Help:      "Completed grace-period sweeps.",
	})

	// Promoted counts pending records promoted to alerted.
	Promoted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "alerts_promoted_total",
		Help:      "Pending records promoted to alerted by the sweep.",
	})

	// Deliveries counts pipeline sends by kind (plain | smart | recovery)
	// and outcome (delivered | suppressed | failed).
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "deliveries_total",
		Help:      "Delivery pipeline sends, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// Suppressed counts suppressed sends by reason
	// (rate_limited | duplicate | disabled | no_prior_alert).
	Suppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "suppressed_total",
		Help:      "Sends suppressed before reaching the sink, by reason.",
	}, []string{"reason"})

	// Recoveries counts recovery registrations by whether the record had
	// already alerted (alerted | silent).
	Recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "recoveries_total",
		Help:      "Recovery registrations, by prior alert state.",
	}, []string{"state"})

	// Pending tracks the number of pending records seen by the last sweep.
	Pending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flapguard",
		Name:      "pending_events",
		Help:      "Pending records observed by the most recent sweep.",
	})
)
