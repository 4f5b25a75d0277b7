package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idbroker_access_token_cache_hits_total",
		Help: "Access token requests served from the store without an upstream refresh",
	})
	refreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idbroker_upstream_refresh_total",
		Help: "Successful upstream refresh grant calls",
	})
	refreshFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idbroker_upstream_refresh_failures_total",
		Help: "Failed upstream refresh grant calls",
	})
)
