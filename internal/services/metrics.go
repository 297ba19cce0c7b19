// Prometheus instrumentation for generation runs. Counters only; per-request
// latency and sizes are already covered by the HTTP middleware, so these
// track the orchestrator's own behavior: how often batches run, how often
// they are retried, and how runs end.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// genRuns counts completed runs by outcome: completed, shortfall, failed.
	genRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_runs_total",
			Help: "Total generation runs by outcome.",
		},
		[]string{"outcome"},
	)

	// genBatches counts model batch calls, streaming and supplement alike.
	genBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_batches_total",
			Help: "Total model batch calls issued by the orchestrator.",
		},
	)

	// genRetries counts batch attempts repeated after empty or unparsable output.
	genRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_batch_retries_total",
			Help: "Total batch attempts retried after empty or unparsable output.",
		},
	)

	// genProviderErrors counts provider sentinel failures observed mid-run.
	genProviderErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_provider_errors_total",
			Help: "Total provider sentinel errors that aborted a run.",
		},
	)
)

func init() {
	prometheus.MustRegister(genRuns, genBatches, genRetries, genProviderErrors)
}

const (
	outcomeCompleted = "completed"
	outcomeShortfall = "shortfall"
	outcomeFailed    = "failed"
)
