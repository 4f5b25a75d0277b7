package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	throttledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idbroker",
		Subsystem: "ratelimit",
		Name:      "throttled_total",
		Help:      "Requests rejected by the rate limiter, by route.",
	}, []string{"route"})

	degradedChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "idbroker",
		Subsystem: "ratelimit",
		Name:      "degraded_checks_total",
		Help:      "Limiter checks that failed open on a store error.",
	})
)
