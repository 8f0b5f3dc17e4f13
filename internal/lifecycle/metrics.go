package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK             = "ok"
	resultInvalidGrant   = "invalid_grant"
	resultTransient      = "transient"
	resultNoRefreshToken = "no_refresh_token"
	resultFailed         = "failed"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_account_token_refresh_total",
		Help: "Refresh attempts by outcome",
	}, []string{"result"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oidc_account_token_refresh_duration_seconds",
		Help:    "Latency of refresh grant round trips",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)
