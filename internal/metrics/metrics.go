// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries every counter the engine increments. All fields are
// registered on construction and safe for concurrent use.
type Metrics struct {
	SubmissionsTotal   *prometheus.CounterVec // label: outcome
	VotesTotal         *prometheus.CounterVec // label: choice
	ConsensusDecisions *prometheus.CounterVec // label: status
	FlagsTotal         *prometheus.CounterVec // label: reason
	FlagsRateLimited   prometheus.Counter
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
}

// New constructs and registers the metric set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "submissions_total",
			Help:      "Signature verification attempts by outcome.",
		}, []string{"outcome"}),
		VotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "votes_total",
			Help:      "Verifier votes recorded by choice.",
		}, []string{"choice"}),
		ConsensusDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "consensus_decisions_total",
			Help:      "Terminal consensus transitions by final status.",
		}, []string{"status"}),
		FlagsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "flags_total",
			Help:      "Accepted flags by reason.",
		}, []string{"reason"}),
		FlagsRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "flags_rate_limited_total",
			Help:      "Flags rejected by the per-flagger rate limit.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "outcome_cache_hits_total",
			Help:      "Verification outcomes served from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "outcome_cache_misses_total",
			Help:      "Verification outcomes recomputed on cache miss.",
		}),
	}
	reg.MustRegister(
		m.SubmissionsTotal, m.VotesTotal, m.ConsensusDecisions,
		m.FlagsTotal, m.FlagsRateLimited, m.CacheHits, m.CacheMisses,
	)
	return m
}
