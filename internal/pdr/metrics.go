package pdr

import "time"

// Metrics receives operation outcomes. internal/metrics provides the Prometheus implementation.
type Metrics interface {
	ObserveExport(d time.Duration, records int, err error)
	ObserveImport(inserted, failed int, err error)
	ObserveTrigger(name string, err error)
	ObservePurge(removed int, err error)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveExport(time.Duration, int, error) {}
func (NopMetrics) ObserveImport(int, int, error)           {}
func (NopMetrics) ObserveTrigger(string, error)            {}
func (NopMetrics) ObservePurge(int, error)                 {}
