package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nileshshinde09/cortex/internal/logging"
)

// DBStats is a point-in-time view of a database.
type DBStats struct {
	PageCount int64
	PageSize  int64
	FreePages int64
	Tables    int64
}

// StatsFunc reads the current DBStats.
type StatsFunc func(ctx context.Context) (DBStats, error)

type dbMetrics []struct {
	desc    *prometheus.Desc
	eval    func(DBStats) float64
	valType prometheus.ValueType
}

// DatabaseCollector reports database size figures at scrape time.
type DatabaseCollector struct {
	stats   StatsFunc
	timeout time.Duration
	metrics dbMetrics
}

// NewDatabaseCollector returns a collector that calls stats on every
// scrape; path is attached as a constant label.
func NewDatabaseCollector(path string, stats StatsFunc) *DatabaseCollector {
	labels := prometheus.Labels{"path": path}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", name), help, nil, labels)
	}
	return &DatabaseCollector{
		stats:   stats,
		timeout: 2 * time.Second,
		metrics: dbMetrics{
			{desc("pages", "Database size in pages."), func(s DBStats) float64 { return float64(s.PageCount) }, prometheus.GaugeValue},
			{desc("size_bytes", "Database size in bytes."), func(s DBStats) float64 { return float64(s.PageCount * s.PageSize) }, prometheus.GaugeValue},
			{desc("free_pages", "Unused pages on the freelist."), func(s DBStats) float64 { return float64(s.FreePages) }, prometheus.GaugeValue},
			{desc("tables", "Number of user tables."), func(s DBStats) float64 { return float64(s.Tables) }, prometheus.GaugeValue},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *DatabaseCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *DatabaseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	s, err := c.stats(ctx)
	if err != nil {
		logging.Warn("database stats unavailable", "error", err)
		return
	}
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valType, m.eval(s))
	}
}
