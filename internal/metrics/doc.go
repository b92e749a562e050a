// Package metrics collects Prometheus metrics for a single diffreview run
// and writes them in the textfile-collector format when the run ends.
package metrics
