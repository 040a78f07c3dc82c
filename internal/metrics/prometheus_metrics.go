// Package metrics exposes the live state of BrowserPool and AutoscaledPool
// as Prometheus gauges and counters, served over HTTP via fasthttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides the Prometheus-backed metrics collection for
// both pools.
type PrometheusMetrics struct {
	// BrowserPool metrics
	browserActiveCount   prometheus.Gauge
	browserRetiredCount  prometheus.Gauge
	browserActivePages   prometheus.Gauge
	browserRetiredTotal  *prometheus.CounterVec
	browserKilledTotal   prometheus.Counter
	browserLaunchFailure prometheus.Counter
	browserLaunchTotal   prometheus.Counter

	// AutoscaledPool metrics
	poolConcurrency    prometheus.Gauge
	poolRunningCount    prometheus.Gauge
	poolTickCounter     prometheus.Counter
	poolScaleUpTotal    prometheus.Counter
	poolScaleDownTotal  prometheus.Counter
	poolTasksDone       prometheus.Counter
	poolTasksFailed     prometheus.Counter

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
// registered against the default registerer.
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics
// collector with a custom registry, for testability.
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	// BrowserPool metrics
	pm.browserActiveCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "browserpool",
		Name:      "active_instances",
		Help:      "Number of browser instances currently serving pages",
	})

	pm.browserRetiredCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "browserpool",
		Name:      "retired_instances",
		Help:      "Number of browser instances draining their last pages before kill",
	})

	pm.browserActivePages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "browserpool",
		Name:      "active_pages",
		Help:      "Number of pages currently checked out across all instances",
	})

	pm.browserRetiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "browserpool",
		Name:      "instances_retired_total",
		Help:      "Total number of instances moved to retired, by reason",
	}, []string{"reason"}) // reason: max_used, launch_failed, new_page_failed, disconnected

	pm.browserKilledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "browserpool",
		Name:      "instances_killed_total",
		Help:      "Total number of retired instances killed",
	})

	pm.browserLaunchFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "browserpool",
		Name:      "launch_failures_total",
		Help:      "Total number of browser launch attempts that failed",
	})

	pm.browserLaunchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "browserpool",
		Name:      "launches_total",
		Help:      "Total number of browser instances launched",
	})

	// AutoscaledPool metrics
	pm.poolConcurrency = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "autoscaledpool",
		Name:      "concurrency",
		Help:      "Current desired concurrency level",
	})

	pm.poolRunningCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "autoscaledpool",
		Name:      "running_count",
		Help:      "Number of tasks currently in flight",
	})

	pm.poolTickCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "autoscaledpool",
		Name:      "ticks_total",
		Help:      "Total number of autoscale decision ticks",
	})

	pm.poolScaleUpTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "autoscaledpool",
		Name:      "scale_up_total",
		Help:      "Total number of times concurrency was increased",
	})

	pm.poolScaleDownTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "autoscaledpool",
		Name:      "scale_down_total",
		Help:      "Total number of times concurrency was decreased",
	})

	pm.poolTasksDone = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "autoscaledpool",
		Name:      "tasks_done_total",
		Help:      "Total number of tasks that completed without error",
	})

	pm.poolTasksFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "autoscaledpool",
		Name:      "tasks_failed_total",
		Help:      "Total number of tasks that returned an error",
	})

	registerer.MustRegister(
		pm.browserActiveCount,
		pm.browserRetiredCount,
		pm.browserActivePages,
		pm.browserRetiredTotal,
		pm.browserKilledTotal,
		pm.browserLaunchFailure,
		pm.browserLaunchTotal,
		pm.poolConcurrency,
		pm.poolRunningCount,
		pm.poolTickCounter,
		pm.poolScaleUpTotal,
		pm.poolScaleDownTotal,
		pm.poolTasksDone,
		pm.poolTasksFailed,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("pool engine Prometheus metrics initialized")
	return pm
}

// UpdateBrowserActiveCount updates the active instance count gauge.
func (pm *PrometheusMetrics) UpdateBrowserActiveCount(n float64) {
	pm.browserActiveCount.Set(n)
}

// UpdateBrowserRetiredCount updates the retired instance count gauge.
func (pm *PrometheusMetrics) UpdateBrowserRetiredCount(n float64) {
	pm.browserRetiredCount.Set(n)
}

// UpdateBrowserActivePages updates the checked-out page count gauge.
func (pm *PrometheusMetrics) UpdateBrowserActivePages(n float64) {
	pm.browserActivePages.Set(n)
}

// RecordBrowserRetired records an instance transitioning to retired.
func (pm *PrometheusMetrics) RecordBrowserRetired(reason string) {
	pm.browserRetiredTotal.WithLabelValues(reason).Inc()
}

// RecordBrowserKilled records a retired instance being killed, by the
// reaper or after its last tab closed.
func (pm *PrometheusMetrics) RecordBrowserKilled() {
	pm.browserKilledTotal.Inc()
}

// RecordBrowserLaunchFailure records a failed launch attempt.
func (pm *PrometheusMetrics) RecordBrowserLaunchFailure() {
	pm.browserLaunchFailure.Inc()
}

// RecordBrowserLaunch records a successful launch.
func (pm *PrometheusMetrics) RecordBrowserLaunch() {
	pm.browserLaunchTotal.Inc()
}

// UpdatePoolConcurrency updates the current desired concurrency gauge.
func (pm *PrometheusMetrics) UpdatePoolConcurrency(n float64) {
	pm.poolConcurrency.Set(n)
}

// UpdatePoolRunningCount updates the in-flight task count gauge.
func (pm *PrometheusMetrics) UpdatePoolRunningCount(n float64) {
	pm.poolRunningCount.Set(n)
}

// RecordPoolTick records an autoscale decision tick.
func (pm *PrometheusMetrics) RecordPoolTick() {
	pm.poolTickCounter.Inc()
}

// RecordPoolScaleUp records a concurrency increase.
func (pm *PrometheusMetrics) RecordPoolScaleUp() {
	pm.poolScaleUpTotal.Inc()
}

// RecordPoolScaleDown records a concurrency decrease.
func (pm *PrometheusMetrics) RecordPoolScaleDown() {
	pm.poolScaleDownTotal.Inc()
}

// RecordPoolTaskDone records a task completing without error.
func (pm *PrometheusMetrics) RecordPoolTaskDone() {
	pm.poolTasksDone.Inc()
}

// RecordPoolTaskFailed records a task returning an error.
func (pm *PrometheusMetrics) RecordPoolTaskFailed() {
	pm.poolTasksFailed.Inc()
}

// ServeHTTP serves the Prometheus exposition format over HTTP.
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
