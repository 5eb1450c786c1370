package services

import "github.com/prometheus/client_golang/prometheus"

var (
	importOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_import_items_total",
			Help: "Directory items processed by the batch importer, by terminal outcome.",
		},
		[]string{"outcome"},
	)
	duplicateCheckTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_duplicate_check_timeouts_total",
			Help: "Batch duplicate checks abandoned because they exceeded their deadline.",
		},
	)
	standardizedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_standardized_items_total",
			Help: "Items visited by the standardization job, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(importOutcomes, duplicateCheckTimeouts, standardizedItems)
}
