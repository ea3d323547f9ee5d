package pipeline

import "github.com/cketlive/scoring/internal/platform/metrics"

var (
	runsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "match_pipeline_runs_total",
		Help: "Match update pipeline runs by operation and outcome.",
	}, []string{"op", "outcome"})

	runDuration = metrics.NewHistogramVec(metrics.Opts{
		Name: "match_pipeline_duration_seconds",
		Help: "Match update pipeline latency by operation.",
	}, []string{"op"}, nil)
)

func init() {
	metrics.Default.MustRegister(runsTotal, runDuration)
}
