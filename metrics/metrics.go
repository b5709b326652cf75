// Package metrics exposes Prometheus instrumentation for the extraction
// pipeline and a shared health/metrics server for Kubernetes probes.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// ExtractionsTotal counts completed extractions by winning method.
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invexa_extractions_total",
		Help: "Completed page extractions by method.",
	}, []string{"method"})

	// ExtractionDuration observes wall time per page extraction.
	ExtractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "invexa_extraction_duration_seconds",
		Help:    "Wall time of one page extraction.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// NeedsReviewTotal counts extractions flagged for manual review.
	NeedsReviewTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invexa_needs_review_total",
		Help: "Extractions marked for manual review.",
	})

	// LLMRetriesTotal counts retried LLM generation attempts.
	LLMRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invexa_llm_retries_total",
		Help: "LLM generation attempts retried after transient failures.",
	})

	// RowsExcludedTotal counts rows dropped by the exclusion filters.
	RowsExcludedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invexa_rows_excluded_total",
		Help: "Table rows dropped by exclusion filters, by reason.",
	}, []string{"reason"})

	// LineItemsExtracted observes items per extracted page.
	LineItemsExtracted = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "invexa_line_items_per_page",
		Help:    "Line items extracted per page.",
		Buckets: prometheus.LinearBuckets(0, 5, 12),
	})
)

// ObserveExtraction records one finished extraction.
func ObserveExtraction(method string, items int, needsReview bool, elapsed time.Duration) {
	ExtractionsTotal.WithLabelValues(method).Inc()
	ExtractionDuration.Observe(elapsed.Seconds())
	LineItemsExtracted.Observe(float64(items))
	if needsReview {
		NeedsReviewTotal.Inc()
	}
}

// Start starts a health/metrics server on the specified port.
// This provides:
//   - /healthz - liveness probe (returns 200 while the process is alive)
//   - /readyz  - readiness probe (calls readyChecker to verify readiness)
//   - /metrics - Prometheus metrics endpoint
//
// The server runs in a goroutine and does not block.
func Start(logger *zap.Logger, port int, readyChecker func() bool) {
	http.Handle("/metrics", promhttp.Handler())

	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	http.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if readyChecker != nil && readyChecker() {
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("ready")); err != nil {
				logger.Error("failed to write ready response", zap.Error(err))
			}
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("not ready")); err != nil {
				logger.Error("failed to write not ready response", zap.Error(err))
			}
		}
	})

	go func() {
		addr := fmt.Sprintf("0.0.0.0:%d", port)
		server := &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 40 * time.Second,
		}
		logger.Info("Starting health/metrics server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil {
			logger.Error("Health server error", zap.Error(err))
		}
	}()
}
