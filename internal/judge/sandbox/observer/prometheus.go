package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports sandbox metrics to a Prometheus registry.
type PrometheusRecorder struct {
	compileTotal    *prometheus.CounterVec
	compileSeconds  *prometheus.HistogramVec
	runTotal        *prometheus.CounterVec
	runSeconds      *prometheus.HistogramVec
	evaluationTotal *prometheus.CounterVec
	scoreHistogram  *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the sandbox collectors on reg.
// A nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		compileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_compile_total",
			Help: "Compilations by language and result",
		}, []string{"language", "ok"}),
		compileSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_compile_duration_seconds",
			Help:    "Wall time spent compiling",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"language"}),
		runTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_testcase_total",
			Help: "Executed test cases by language and failure reason",
		}, []string{"language", "reason"}),
		runSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_testcase_duration_seconds",
			Help:    "Wall time of one test case run",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"language"}),
		evaluationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_evaluation_total",
			Help: "Evaluations by language and outcome",
		}, []string{"language", "outcome"}),
		scoreHistogram: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_evaluation_score",
			Help:    "Percentage score of completed evaluations",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"language"}),
	}
}

func (p *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64) {
	p.compileTotal.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
	p.compileSeconds.WithLabelValues(languageID).Observe(float64(timeMs) / 1000)
}

func (p *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, reason string, timeMs int64) {
	if reason == "" {
		reason = "passed"
	}
	p.runTotal.WithLabelValues(languageID, reason).Inc()
	p.runSeconds.WithLabelValues(languageID).Observe(float64(timeMs) / 1000)
}

func (p *PrometheusRecorder) ObserveEvaluation(ctx context.Context, languageID string, outcome string, score int) {
	p.evaluationTotal.WithLabelValues(languageID, outcome).Inc()
	if outcome == "Completed" {
		p.scoreHistogram.WithLabelValues(languageID).Observe(float64(score))
	}
}
