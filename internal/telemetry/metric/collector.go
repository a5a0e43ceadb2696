package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsFunc reports current subscription counts keyed by mode name.
type StatsFunc func() map[string]int

// TableCollector exports live subscription table counts without the
// table pushing gauge updates on every mutation.
type TableCollector struct {
	stats StatsFunc
	desc  *prometheus.Desc
}

// NewTableCollector creates a collector backed by the given stats
// function.
func NewTableCollector(stats StatsFunc) *TableCollector {
	return &TableCollector{
		stats: stats,
		desc: prometheus.NewDesc(
			"channelmesh_subscription_table_entries",
			"Entries in the subscription table, by mode.",
			[]string{"mode"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *TableCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *TableCollector) Collect(ch chan<- prometheus.Metric) {
	for mode, n := range c.stats() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), mode)
	}
}
