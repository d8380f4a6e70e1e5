package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// executionsTotal counts sandbox runs by result
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_sandbox_executions_total",
		Help: "Total sandboxed executions by result",
	}, []string{"result"})

	// executionDuration tracks wall-clock time per run
	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wrangler_sandbox_execution_duration_seconds",
		Help:    "Sandboxed execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})
)

func resultLabel(r Result) string {
	switch {
	case r.Success:
		return "success"
	case r.TimedOut:
		return "timeout"
	case r.launchFailed:
		return "launch_error"
	default:
		return "failure"
	}
}
