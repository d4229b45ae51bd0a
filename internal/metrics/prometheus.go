package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CallsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_analyzer_calls_processed_total",
			Help: "Calls processed by outcome status",
		},
		[]string{"status"},
	)

	IssuesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "call_analyzer_issues_detected_total",
			Help: "Analyzed calls with a detected issue",
		},
	)

	PrefilterConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "call_analyzer_prefilter_confidence",
			Help:    "Prefilter confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "call_analyzer_pipeline_duration_seconds",
			Help:    "Full pipeline run duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	PipelineRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "call_analyzer_pipeline_runs_total",
			Help: "Completed pipeline runs",
		},
	)

	IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_analyzer_ingestions_total",
			Help: "Ingested transcripts by response status",
		},
		[]string{"status"},
	)

	FixesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "call_analyzer_fixes_generated_total",
			Help: "Fix suggestions generated for detected issues",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_analyzer_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	AnalysisCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "call_analyzer_analysis_cache_hits_total",
			Help: "Analyses served from the result cache",
		},
	)
)

func Init() {
	prometheus.MustRegister(CallsProcessed)
	prometheus.MustRegister(IssuesDetected)
	prometheus.MustRegister(PrefilterConfidence)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(PipelineRuns)
	prometheus.MustRegister(IngestionsTotal)
	prometheus.MustRegister(FixesGenerated)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(AnalysisCacheHits)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
