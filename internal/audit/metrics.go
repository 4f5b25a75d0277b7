package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "idbroker_audit_events_dropped_total",
	Help: "Audit events dropped because the inbox was full",
})
