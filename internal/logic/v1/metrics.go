package v1

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_validations_total",
		Help: "Invite validation decisions by status.",
	}, []string{"status"})

	purgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invite_ledger_purged_total",
		Help: "Ledger entries removed by the background sweep.",
	})
)
