// Package metrics records backup activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pdrb/internal/pdr"
)

const namespace = "pdrb"

// Recorder implements pdr.Metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	exports         *prometheus.CounterVec
	exportDuration  prometheus.Histogram
	exportedRecords prometheus.Gauge
	imports         *prometheus.CounterVec
	importedRecords prometheus.Counter
	importFailures  prometheus.Counter
	triggers        *prometheus.CounterVec
	lastTrigger     *prometheus.GaugeVec
	purgedFiles     prometheus.Counter
}

// NewRecorder creates a Recorder with a fresh registry that also carries the Go runtime collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewRecorderWithRegisterer(reg)
}

// NewRecorderWithRegisterer records into reg. Handler serves reg when it is a *prometheus.Registry.
func NewRecorderWithRegisterer(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	r := &Recorder{
		exports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Archive exports by result.",
		}, []string{"result"}),
		exportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Time taken to write an archive.",
			Buckets:   prometheus.DefBuckets,
		}),
		exportedRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exported_records",
			Help:      "Records in the most recent successful export.",
		}),
		imports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Archive imports by result.",
		}, []string{"result"}),
		importedRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_records_total",
			Help:      "Records inserted by imports.",
		}),
		importFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_record_failures_total",
			Help:      "Per-record failures during imports.",
		}),
		triggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_runs_total",
			Help:      "Scheduled trigger runs by trigger and result.",
		}, []string{"trigger", "result"}),
		lastTrigger: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trigger_last_run_timestamp_seconds",
			Help:      "Unix time of the last run of each trigger.",
		}, []string{"trigger"}),
		purgedFiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_files_total",
			Help:      "Archive files removed by housekeeping.",
		}),
	}
	if registry, ok := reg.(*prometheus.Registry); ok {
		r.registry = registry
	}
	return r
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (r *Recorder) ObserveExport(d time.Duration, records int, err error) {
	r.exports.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	r.exportDuration.Observe(d.Seconds())
	r.exportedRecords.Set(float64(records))
}

// ObserveImport counts partial imports as errors and records what was inserted either way.
func (r *Recorder) ObserveImport(inserted, failed int, err error) {
	r.imports.WithLabelValues(result(err)).Inc()
	r.importedRecords.Add(float64(inserted))
	r.importFailures.Add(float64(failed))
}

func (r *Recorder) ObserveTrigger(name string, err error) {
	r.triggers.WithLabelValues(name, result(err)).Inc()
	r.lastTrigger.WithLabelValues(name).SetToCurrentTime()
}

func (r *Recorder) ObservePurge(removed int, err error) {
	r.purgedFiles.Add(float64(removed))
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var _ pdr.Metrics = (*Recorder)(nil)
