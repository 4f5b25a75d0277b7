package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idbroker",
	Subsystem: "exchange",
	Name:      "exchanges_total",
	Help:      "Completed token exchanges by account population.",
}, []string{"user_type", "user_structure"})
