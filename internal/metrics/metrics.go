// Package metrics exposes Prometheus instrumentation for the receipt pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "receipt_scanner"

// Scan outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeNoAmount    = "no_amount"
	OutcomeDecodeError = "decode_error"
	OutcomeBusy        = "busy"
	OutcomeOCRFailed   = "ocr_failed"
)

// Recorder records pipeline observations. A nil Recorder discards them.
type Recorder struct {
	scans       *prometheus.CounterVec
	ocrDuration prometheus.Histogram
	amountTiers *prometheus.CounterVec
	categories  *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors, plus a build info
// collector, with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "pipeline",
				Name:      "scans_total",
				Help:      "Count of receipt pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		ocrDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ocr",
				Name:      "duration_seconds",
				Help:      "Time spent in OCR recognition",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		amountTiers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "extract",
				Name:      "amount_tier_total",
				Help:      "Count of extractions by the amount tier that matched",
			},
			[]string{"tier"},
		),
		categories: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "extract",
				Name:      "category_total",
				Help:      "Count of extractions by category",
			},
			[]string{"category"},
		),
	}

	reg.MustRegister(
		versioncollector.NewCollector(Namespace),
		r.scans,
		r.ocrDuration,
		r.amountTiers,
		r.categories,
	)
	return r
}

// ScanFinished counts a pipeline run with the given outcome.
func (r *Recorder) ScanFinished(outcome string) {
	if r == nil {
		return
	}
	r.scans.WithLabelValues(outcome).Inc()
}

// ObserveOCR records how long a recognition took.
func (r *Recorder) ObserveOCR(d time.Duration) {
	if r == nil {
		return
	}
	r.ocrDuration.Observe(d.Seconds())
}

// Extracted counts one extraction. tier is empty when no amount was found.
func (r *Recorder) Extracted(tier, category string) {
	if r == nil {
		return
	}
	if tier == "" {
		tier = "none"
	}
	r.amountTiers.WithLabelValues(tier).Inc()
	r.categories.WithLabelValues(category).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
