package federation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idbroker",
		Subsystem: "federation",
		Name:      "logins_total",
		Help:      "Completed federated logins by population.",
	}, []string{"user_type", "user_structure"})

	loginFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idbroker",
		Subsystem: "federation",
		Name:      "login_failures_total",
		Help:      "Failed federated logins by population and stage.",
	}, []string{"user_type", "user_structure", "stage"})

	profileDetailFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idbroker",
		Subsystem: "federation",
		Name:      "profile_detail_fallbacks_total",
		Help:      "Beneficiary logins completed without the detailed profile.",
	}, []string{"user_structure"})
)
