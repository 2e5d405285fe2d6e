// Package telemetry implements spec.md §4.11 step 7's fire-and-forget
// performance record emission: every resolveAndExecute call logs its
// timing breakdown and exposes the same numbers as Prometheus metrics.
package telemetry

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
	"github.com/unbrowse-ai/unbrowse-core/internal/orchestrator"
)

// Sink implements orchestrator.TelemetrySink, logging each timing record
// and recording it as Prometheus observations.
type Sink struct {
	logger *slog.Logger

	totalMs     *prometheus.HistogramVec
	tokensSaved *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	cacheHits   prometheus.Counter
}

var _ orchestrator.TelemetrySink = (*Sink)(nil)

// New registers the sink's metrics against reg (typically
// prometheus.DefaultRegisterer) and returns a ready-to-use Sink.
func New(reg prometheus.Registerer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	factory := promauto.With(reg)
	return &Sink{
		logger: logger,
		totalMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "unbrowse",
			Subsystem: "resolve",
			Name:      "total_duration_ms",
			Help:      "Wall-clock duration of resolveAndExecute calls in milliseconds, by source.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		}, []string{"source"}),
		tokensSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unbrowse",
			Subsystem: "resolve",
			Name:      "tokens_saved_total",
			Help:      "Estimated tokens avoided by skill replay instead of fresh browser analysis, by skill.",
		}, []string{"skill_id"}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unbrowse",
			Subsystem: "resolve",
			Name:      "total",
			Help:      "Completed resolveAndExecute calls, by source and cache-hit status.",
		}, []string{"source", "cache_hit"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "unbrowse",
			Subsystem: "resolve",
			Name:      "cache_hits_total",
			Help:      "resolveAndExecute calls served from the route or disk cache.",
		}),
	}
}

// EmitTiming records timing as both a structured log line and Prometheus
// observations. Called fire-and-forget per spec.md §4.11 step 7 — never
// blocks or returns an error the caller would need to handle.
func (s *Sink) EmitTiming(timing models.OrchestrationTiming) {
	s.logger.Info("resolveAndExecute timing",
		"source", timing.Source,
		"total_ms", timing.TotalMs,
		"cache_hit", timing.CacheHit,
		"candidates_found", timing.CandidatesFound,
		"candidates_tried", timing.CandidatesTried,
		"tokens_saved", timing.TokensSaved,
		"tokens_saved_pct", timing.TokensSavedPct,
		"skill_id", timing.SkillID,
	)

	s.totalMs.WithLabelValues(string(timing.Source)).Observe(float64(timing.TotalMs))
	s.resolutions.WithLabelValues(string(timing.Source), boolLabel(timing.CacheHit)).Inc()
	if timing.TokensSaved > 0 && timing.SkillID != "" {
		s.tokensSaved.WithLabelValues(timing.SkillID).Add(float64(timing.TokensSaved))
	}
	if timing.CacheHit {
		s.cacheHits.Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
