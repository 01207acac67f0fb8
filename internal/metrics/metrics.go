// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsScrapedTotal *prometheus.CounterVec
	recordsMergedTotal  *prometheus.CounterVec
	recordsFailedTotal  *prometheus.CounterVec
	indexBatchesTotal   *prometheus.CounterVec
	datasetSaveSeconds  prometheus.Histogram
	datasetRecords      prometheus.Gauge
	agencyScrapeSeconds *prometheus.HistogramVec
	runsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors on the default registry. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		recordsScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_records_scraped_total",
				Help: "Total records collected from portals, labeled by agency.",
			},
			[]string{"agency"},
		)

		recordsMergedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_records_merged_total",
				Help: "Total records reconciled into the dataset, labeled by disposition.",
			},
			[]string{"disposition"},
		)

		recordsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_records_failed_total",
				Help: "Total records dropped or not indexed, labeled by reason.",
			},
			[]string{"reason"},
		)

		indexBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_index_batches_total",
				Help: "Total search import batches, labeled by status.",
			},
			[]string{"status"},
		)

		datasetSaveSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_dataset_save_seconds",
				Help:    "Histogram of canonical store save durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 60},
			},
		)

		datasetRecords = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_dataset_records",
				Help: "Current size of the canonical dataset.",
			},
		)

		agencyScrapeSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_agency_scrape_seconds",
				Help:    "Histogram of per-agency scrape durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900},
			},
			[]string{"agency"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScrape records one agency's scrape result.
func ObserveScrape(agency string, records int, duration time.Duration) {
	recordsScrapedTotal.WithLabelValues(agency).Add(float64(records))
	agencyScrapeSeconds.WithLabelValues(agency).Observe(duration.Seconds())
}

// ObserveMerge records reconcile dispositions.
func ObserveMerge(newCount, skipped, updated int) {
	recordsMergedTotal.WithLabelValues("new").Add(float64(newCount))
	recordsMergedTotal.WithLabelValues("skipped").Add(float64(skipped))
	recordsMergedTotal.WithLabelValues("updated").Add(float64(updated))
}

// ObserveFailure counts records lost to a reason such as "validation" or
// "index".
func ObserveFailure(reason string, count int) {
	if count > 0 {
		recordsFailedTotal.WithLabelValues(reason).Add(float64(count))
	}
}

// ObserveIndexBatch counts one import batch by status.
func ObserveIndexBatch(status string) {
	indexBatchesTotal.WithLabelValues(status).Inc()
}

// ObserveSave records one store save and the resulting dataset size.
func ObserveSave(duration time.Duration, records int) {
	datasetSaveSeconds.Observe(duration.Seconds())
	datasetRecords.Set(float64(records))
}

// ObserveRun counts a finished run by outcome.
func ObserveRun(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}
