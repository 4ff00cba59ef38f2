package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the agent's task counters and gauges.
type Metrics struct {
	faucetRequests *prometheus.CounterVec
	claimAttempts  *prometheus.CounterVec
	lastClaim      prometheus.Gauge
	gateState      prometheus.Gauge
}

// NewMetrics registers the agent metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		faucetRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reward_agent_faucet_requests_total",
				Help: "Faucet requests by result",
			},
			[]string{"result"},
		),
		claimAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reward_agent_claim_attempts_total",
				Help: "Claim ticks by outcome",
			},
			[]string{"result"},
		),
		lastClaim: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reward_agent_last_claim_timestamp_seconds",
			Help: "Unix time of the last successful reward claim",
		}),
		gateState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reward_agent_claim_gate_state",
			Help: "Claim gate state: 0 waiting, 1 eligible, 2 in flight",
		}),
	}
}
