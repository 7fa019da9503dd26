package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors. Label values are drawn from fixed sets (stage kinds,
// statuses, sweep names, quota ops) so cardinality stays bounded.
var (
	// JobsProcessed counts worker runs by entry kind and outcome
	// (completed, retried, failed).
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Queue entries processed by the worker, by kind and outcome.",
		},
		[]string{"kind", "status"},
	)

	// JobSweeps counts entries moved by the recovery sweeps.
	JobSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_sweeps_total",
			Help: "Queue entries moved by the unlock and expiry sweeps.",
		},
		[]string{"sweep"},
	)

	// QuotaOperations counts ledger calls by operation and result.
	QuotaOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_operations_total",
			Help: "Quota ledger operations by op (check, consume, refund) and result.",
		},
		[]string{"op", "result"},
	)

	// PromptSanitizations counts prompt rewrites by reason.
	PromptSanitizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompt_sanitizations_total",
			Help: "Prompt replacements applied by the guard, by reason.",
		},
		[]string{"reason"},
	)

	// ClipRenders counts batch clip renders by final status.
	ClipRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clip_renders_total",
			Help: "Batch clip renders by resulting status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(JobsProcessed, JobSweeps, QuotaOperations, PromptSanitizations, ClipRenders)
}
