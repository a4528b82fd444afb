package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shipgate",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of finished pipeline runs by result",
		},
		[]string{"pipeline", "result"},
	)

	runsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shipgate",
			Subsystem: "pipeline",
			Name:      "runs_active",
			Help:      "Number of pipeline runs currently executing",
		},
		[]string{"pipeline"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shipgate",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		},
		[]string{"pipeline"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shipgate",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Duration of pipeline stages in seconds by result",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17min
		},
		[]string{"pipeline", "stage", "result"},
	)

	gateWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shipgate",
			Subsystem: "gate",
			Name:      "wait_seconds",
			Help:      "Time approval gates spent pending, by decision",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 9), // 1s to ~18h
		},
		[]string{"pipeline", "gate", "decision"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		runsTotal,
		runsActive,
		runDuration,
		stageDuration,
		gateWait,
	)
}

func recordRunMetric(pipeline string, status Status, seconds float64) {
	runsTotal.WithLabelValues(pipeline, string(status)).Inc()
	runDuration.WithLabelValues(pipeline).Observe(seconds)
}

func recordStageMetric(pipeline, stage, result string, seconds float64) {
	stageDuration.WithLabelValues(pipeline, stage, result).Observe(seconds)
}

func recordGateMetric(pipeline, gate string, decision Decision, seconds float64) {
	gateWait.WithLabelValues(pipeline, gate, string(decision)).Observe(seconds)
}
