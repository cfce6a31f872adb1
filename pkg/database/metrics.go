package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// PoolStatsCollector implements prometheus.Collector for pgxpool connection metrics.
type PoolStatsCollector struct {
	stat    func() *pgxpool.Stat
	service string

	acquiredConns    *prometheus.Desc
	idleConns        *prometheus.Desc
	totalConns       *prometheus.Desc
	maxConns         *prometheus.Desc
	acquireCount     *prometheus.Desc
	acquireDuration  *prometheus.Desc
	canceledAcquires *prometheus.Desc
	emptyAcquires    *prometheus.Desc
}

func poolDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(name, help, []string{"service"}, nil)
}

// NewPoolStatsCollector exports pgxpool statistics for pool.
func NewPoolStatsCollector(pool *pgxpool.Pool, service string) *PoolStatsCollector {
	return newPoolStatsCollector(pool.Stat, service)
}

func newPoolStatsCollector(stat func() *pgxpool.Stat, service string) *PoolStatsCollector {
	return &PoolStatsCollector{
		stat:             stat,
		service:          service,
		acquiredConns:    poolDesc("db_pool_acquired_connections", "Number of currently acquired connections"),
		idleConns:        poolDesc("db_pool_idle_connections", "Number of currently idle connections"),
		totalConns:       poolDesc("db_pool_total_connections", "Total number of connections in the pool"),
		maxConns:         poolDesc("db_pool_max_connections", "Maximum number of connections allowed"),
		acquireCount:     poolDesc("db_pool_acquire_count_total", "Total number of connection acquires"),
		acquireDuration:  poolDesc("db_pool_acquire_duration_seconds_total", "Total time spent acquiring connections in seconds"),
		canceledAcquires: poolDesc("db_pool_canceled_acquire_count_total", "Total number of canceled connection acquires"),
		emptyAcquires:    poolDesc("db_pool_empty_acquire_count_total", "Total number of acquires that had to wait for a connection"),
	}
}

// Describe sends the descriptors of all metrics to the provided channel.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredConns
	ch <- c.idleConns
	ch <- c.totalConns
	ch <- c.maxConns
	ch <- c.acquireCount
	ch <- c.acquireDuration
	ch <- c.canceledAcquires
	ch <- c.emptyAcquires
}

// Collect reads current pool statistics and sends them as Prometheus metrics.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, c.service)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, c.service)
	}

	gauge(c.acquiredConns, float64(s.AcquiredConns()))
	gauge(c.idleConns, float64(s.IdleConns()))
	gauge(c.totalConns, float64(s.TotalConns()))
	gauge(c.maxConns, float64(s.MaxConns()))
	counter(c.acquireCount, float64(s.AcquireCount()))
	counter(c.acquireDuration, s.AcquireDuration().Seconds())
	counter(c.canceledAcquires, float64(s.CanceledAcquireCount()))
	counter(c.emptyAcquires, float64(s.EmptyAcquireCount()))
}

// RedisPoolStatsCollector implements prometheus.Collector for go-redis pool metrics.
type RedisPoolStatsCollector struct {
	stats   func() *redis.PoolStats
	service string

	hits       *prometheus.Desc
	misses     *prometheus.Desc
	timeouts   *prometheus.Desc
	totalConns *prometheus.Desc
	idleConns  *prometheus.Desc
	staleConns *prometheus.Desc
}

// NewRedisPoolStatsCollector exports connection pool statistics for client.
func NewRedisPoolStatsCollector(client *redis.Client, service string) *RedisPoolStatsCollector {
	return newRedisPoolStatsCollector(client.PoolStats, service)
}

func newRedisPoolStatsCollector(stats func() *redis.PoolStats, service string) *RedisPoolStatsCollector {
	return &RedisPoolStatsCollector{
		stats:      stats,
		service:    service,
		hits:       poolDesc("redis_pool_hits_total", "Number of times a free connection was found in the pool"),
		misses:     poolDesc("redis_pool_misses_total", "Number of times a free connection was not found in the pool"),
		timeouts:   poolDesc("redis_pool_timeouts_total", "Number of times a wait timeout occurred"),
		totalConns: poolDesc("redis_pool_total_connections", "Number of connections in the pool"),
		idleConns:  poolDesc("redis_pool_idle_connections", "Number of idle connections in the pool"),
		staleConns: poolDesc("redis_pool_stale_connections_total", "Number of stale connections removed from the pool"),
	}
}

// Describe sends the descriptors of all metrics to the provided channel.
func (c *RedisPoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.timeouts
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.staleConns
}

// Collect reads current pool statistics and sends them as Prometheus metrics.
func (c *RedisPoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), c.service)
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), c.service)
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts), c.service)
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(s.TotalConns), c.service)
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(s.IdleConns), c.service)
	ch <- prometheus.MustNewConstMetric(c.staleConns, prometheus.CounterValue, float64(s.StaleConns), c.service)
}
