// Package metrics registers the Prometheus collectors shared by the judge
// adapter, the triage orchestrator and the proposal service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds the process-wide collectors. All names carry the
// "coverage_" prefix.
type Metrics struct {
	JudgeCallsTotal    *prometheus.CounterVec
	JudgeRetriesTotal  prometheus.Counter
	JudgeCallDuration  prometheus.Histogram
	JudgeTokensTotal   *prometheus.CounterVec
	CircuitState       prometheus.Gauge
	TriageItemsTotal   *prometheus.CounterVec
	TriageFailures     *prometheus.CounterVec
	TriageCostUSD      prometheus.Counter
	ProposalTransition *prometheus.CounterVec
	PatchesGenerated   prometheus.Counter
}

// Get returns the process-wide metrics, registering them with the default
// registry on first use.
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{
			JudgeCallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coverage_judge_calls_total",
					Help: "Judgment service calls by outcome.",
				},
				[]string{"outcome"}, // ok, transient, service, circuit_open, other
			),
			JudgeRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coverage_judge_retries_total",
				Help: "Retries issued for judgment service calls.",
			}),
			JudgeCallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "coverage_judge_call_duration_seconds",
				Help:    "Latency of judgment service calls including retries.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			}),
			JudgeTokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coverage_judge_tokens_total",
					Help: "Tokens consumed by judgment calls.",
				},
				[]string{"direction"}, // input, output
			),
			CircuitState: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "coverage_judge_circuit_state",
				Help: "Judge circuit breaker state (0 closed, 1 open, 2 half-open).",
			}),
			TriageItemsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coverage_triage_items_total",
					Help: "Discoveries triaged by category and priority.",
				},
				[]string{"category", "priority"},
			),
			TriageFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coverage_triage_failures_total",
					Help: "Degraded triage steps by stage.",
				},
				[]string{"stage"},
			),
			TriageCostUSD: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coverage_triage_cost_usd_total",
				Help: "Estimated judgment cost of triage runs in USD.",
			}),
			ProposalTransition: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coverage_proposal_transitions_total",
					Help: "Proposal status transitions.",
				},
				[]string{"to"},
			),
			PatchesGenerated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "coverage_patches_generated_total",
				Help: "Patch artifacts written.",
			}),
		}
	})
	return global
}
