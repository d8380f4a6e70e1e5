package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/ronaldjohnatanoso/agent-data-wrangler/agent")

var (
	// sessionsTotal counts finished sessions by halt reason
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_sessions_total",
		Help: "Total finished sessions by halt reason",
	}, []string{"reason"})

	// decisionRequestsTotal counts decision requests by result
	decisionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_decision_requests_total",
		Help: "Total decision requests by result",
	}, []string{"result"})

	// decisionDuration tracks decision request latency
	decisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wrangler_decision_duration_seconds",
		Help:    "Decision request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
	})

	// actionsTotal counts executed actions by name and result
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wrangler_actions_total",
		Help: "Total executed actions by action and result",
	}, []string{"action", "result"})
)

func successLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
