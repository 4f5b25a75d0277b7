package statestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var revokedKeysTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "idbroker_state_revoked_keys_total",
	Help: "Number of protocol state keys deleted through grant cascade revocation",
})
