package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector exports pgxpool statistics as Prometheus gauges.
type poolCollector struct {
	pool *pgxpool.Pool

	totalConns    *prometheus.Desc
	idleConns     *prometheus.Desc
	acquiredConns *prometheus.Desc
	maxConns      *prometheus.Desc
	acquireCount  *prometheus.Desc
	emptyAcquire  *prometheus.Desc
}

// RegisterPoolMetrics registers pgx pool statistics with the default Prometheus
// registry under the given pool name label.
func RegisterPoolMetrics(pool *pgxpool.Pool, name string) {
	labels := prometheus.Labels{"pool": name}
	c := &poolCollector{
		pool: pool,
		totalConns: prometheus.NewDesc(
			"pgxpool_total_conns", "Total connections in the pool.", nil, labels),
		idleConns: prometheus.NewDesc(
			"pgxpool_idle_conns", "Idle connections in the pool.", nil, labels),
		acquiredConns: prometheus.NewDesc(
			"pgxpool_acquired_conns", "Connections currently acquired.", nil, labels),
		maxConns: prometheus.NewDesc(
			"pgxpool_max_conns", "Maximum pool size.", nil, labels),
		acquireCount: prometheus.NewDesc(
			"pgxpool_acquire_count_total", "Cumulative successful acquires.", nil, labels),
		emptyAcquire: prometheus.NewDesc(
			"pgxpool_empty_acquire_count_total", "Acquires that waited for a free connection.", nil, labels),
	}
	prometheus.MustRegister(c)
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.acquiredConns
	ch <- c.maxConns
	ch <- c.acquireCount
	ch <- c.emptyAcquire
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
}
