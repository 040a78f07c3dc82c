package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Collector centralizes metrics recording for BrowserPool and
// AutoscaledPool, so callers don't need to depend on Prometheus types
// directly.
type Collector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewCollector creates a new Collector registered under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewCollectorWithRegistry is NewCollector against a caller-supplied
// registry, so tests can inspect metric values without colliding with
// the global default registerer.
func NewCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// BrowserActive updates the active instance count gauge.
func (c *Collector) BrowserActive(n int) {
	c.prometheus.UpdateBrowserActiveCount(float64(n))
}

// BrowserRetired updates the retired instance count gauge.
func (c *Collector) BrowserRetired(n int) {
	c.prometheus.UpdateBrowserRetiredCount(float64(n))
}

// BrowserActivePages updates the checked-out page count gauge.
func (c *Collector) BrowserActivePages(n int) {
	c.prometheus.UpdateBrowserActivePages(float64(n))
}

// BrowserInstanceRetired records an instance retirement by reason.
func (c *Collector) BrowserInstanceRetired(reason string) {
	c.prometheus.RecordBrowserRetired(reason)
}

// BrowserInstanceKilled records a retired instance being killed.
func (c *Collector) BrowserInstanceKilled() {
	c.prometheus.RecordBrowserKilled()
	c.logger.Debug("recorded browser instance kill")
}

// BrowserLaunchFailed records a failed launch.
func (c *Collector) BrowserLaunchFailed() {
	c.prometheus.RecordBrowserLaunchFailure()
}

// BrowserLaunched records a successful launch.
func (c *Collector) BrowserLaunched() {
	c.prometheus.RecordBrowserLaunch()
}

// PoolConcurrency updates the current concurrency gauge.
func (c *Collector) PoolConcurrency(n int) {
	c.prometheus.UpdatePoolConcurrency(float64(n))
}

// PoolRunningCount updates the in-flight task count gauge.
func (c *Collector) PoolRunningCount(n int) {
	c.prometheus.UpdatePoolRunningCount(float64(n))
}

// PoolTick records an autoscale decision tick.
func (c *Collector) PoolTick() {
	c.prometheus.RecordPoolTick()
}

// PoolScaledUp records a concurrency increase.
func (c *Collector) PoolScaledUp() {
	c.prometheus.RecordPoolScaleUp()
}

// PoolScaledDown records a concurrency decrease.
func (c *Collector) PoolScaledDown() {
	c.prometheus.RecordPoolScaleDown()
}

// PoolTaskDone records a task finishing without error.
func (c *Collector) PoolTaskDone() {
	c.prometheus.RecordPoolTaskDone()
}

// PoolTaskFailed records a task returning an error.
func (c *Collector) PoolTaskFailed() {
	c.prometheus.RecordPoolTaskFailed()
}

// ServeHTTP serves the Prometheus exposition format over HTTP.
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	c.prometheus.ServeHTTP(ctx)
}
