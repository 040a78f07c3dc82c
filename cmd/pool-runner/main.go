// Command pool-runner demonstrates BrowserPool and AutoscaledPool
// wired together: AutoscaledPool drives a job queue, and each job
// leases a tab from BrowserPool for the duration of its work.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hivecrawl/poolcore/internal/autoscaledpool"
	"github.com/hivecrawl/poolcore/internal/browserpool"
	"github.com/hivecrawl/poolcore/internal/common/config"
	"github.com/hivecrawl/poolcore/internal/common/configtypes"
	logutil "github.com/hivecrawl/poolcore/internal/common/logger"
	"github.com/hivecrawl/poolcore/internal/common/metricsserver"
	"github.com/hivecrawl/poolcore/internal/cpubus"
	"github.com/hivecrawl/poolcore/internal/metrics"
	"github.com/hivecrawl/poolcore/pkg/clock"
	"github.com/hivecrawl/poolcore/pkg/memprobe"
)

func main() {
	configPath := flag.String("c", "configs/pool-runner.yaml", "Path to pool-runner configuration file")
	flag.Parse()

	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	cfg, err := config.Load(absPath)
	if err != nil {
		initialLogger.Info("No config file loaded, using defaults", zap.Error(err))
		cfg = config.Default()
	}

	dynamicLogger, err := logutil.NewLogger(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	logger := dynamicLogger.Logger

	logger.Info("pool-runner starting", zap.String("id", cfg.Server.ID))

	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled, cfg.Metrics.Listen, cfg.Metrics.Path, metricsCollector, logger,
	)
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	bpCfg := toBrowserPoolConfig(cfg.BrowserPool)
	if err := bpCfg.Validate(); err != nil {
		logger.Fatal("Invalid browser pool configuration", zap.Error(err))
	}

	launcher := browserpool.NewChromedpLauncher(logger)
	bp, err := browserpool.New(bpCfg, launcher, logger, clock.RealClock{}, metricsCollector)
	if err != nil {
		logger.Fatal("Failed to create browser pool", zap.Error(err))
	}

	jobs := newJobQueue(demoURLs())

	apCfg := autoscaledpool.DefaultConfig()
	apCfg.MaxConcurrency = cfg.AutoscaledPool.MaxConcurrency
	apCfg.MinConcurrency = cfg.AutoscaledPool.MinConcurrency
	apCfg.MaxMemoryMbytes = cfg.AutoscaledPool.MaxMemoryMbytes
	if cfg.AutoscaledPool.MinFreeMemoryRatio > 0 {
		apCfg.MinFreeMemoryRatio = cfg.AutoscaledPool.MinFreeMemoryRatio
	}
	if cfg.AutoscaledPool.MaybeRunInterval.ToDuration() > 0 {
		apCfg.MaybeRunInterval = cfg.AutoscaledPool.MaybeRunInterval.ToDuration()
	}
	apCfg.RunTaskFunction = crawlJobRunner(bp, jobs, logger)
	apCfg.IsFinishedFunction = jobs.isFinished

	bus := cpubus.New()
	ap, err := autoscaledpool.New(apCfg, memprobe.NewGopsutilProbe(), bus, clock.RealClock{}, logger, metricsCollector)
	if err != nil {
		logger.Fatal("Failed to create autoscaled pool", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	runErr := ap.Run(ctx)
	if runErr != nil && runErr != context.Canceled {
		logger.Error("autoscaled pool run ended with error", zap.Error(runErr))
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := bp.Destroy(shutdownCtx); err != nil {
		logger.Error("browser pool shutdown error", zap.Error(err))
	}

	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsShutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsShutdownCancel()
	}

	logger.Info("pool-runner stopped")
}

func toBrowserPoolConfig(c configtypes.BrowserPoolConfig) browserpool.Config {
	out := browserpool.DefaultConfig()
	if c.MaxOpenPagesPerInstance > 0 {
		out.MaxOpenPagesPerInstance = c.MaxOpenPagesPerInstance
	}
	if c.AbortInstanceAfterRequestCount > 0 {
		out.AbortInstanceAfterRequestCount = c.AbortInstanceAfterRequestCount
	}
	if c.InstanceKillerInterval.ToDuration() > 0 {
		out.InstanceKillerInterval = c.InstanceKillerInterval.ToDuration()
	}
	if c.KillInstanceAfter.ToDuration() > 0 {
		out.KillInstanceAfter = c.KillInstanceAfter.ToDuration()
	}
	out.Launch = browserpool.LaunchConfig{
		Dumpio:             c.Launch.Dumpio,
		SlowMo:             c.Launch.SlowMo.ToDuration(),
		Args:               c.Launch.Args,
		ProxyURL:           c.Launch.ProxyURL,
		IgnoreHTTPSErrors:  c.Launch.IgnoreHTTPSErrors,
		DisableWebSecurity: c.Launch.DisableWebSecurity,
	}
	return out
}

// jobQueue is a minimal in-memory demo workload: a fixed list of URLs
// to visit, one BrowserPool tab lease per URL.
type jobQueue struct {
	mu   sync.Mutex
	urls []string
	next int
}

func newJobQueue(urls []string) *jobQueue {
	return &jobQueue{urls: urls}
}

func (q *jobQueue) take() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.urls) {
		return "", false
	}
	url := q.urls[q.next]
	q.next++
	return url, true
}

func (q *jobQueue) isFinished(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next >= len(q.urls), nil
}

func demoURLs() []string {
	return []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/contact",
	}
}

// crawlJobRunner returns a RunTaskFunction that leases one BrowserPool
// tab per queued URL. Navigation itself is out of scope here; the
// pool only manages tab lifecycle.
func crawlJobRunner(bp *browserpool.Pool, jobs *jobQueue, logger *zap.Logger) autoscaledpool.RunTaskFunction {
	return func(ctx context.Context) (autoscaledpool.Task, error) {
		url, ok := jobs.take()
		if !ok {
			return nil, nil
		}
		return func(ctx context.Context) error {
			page, err := bp.NewPage(ctx)
			if err != nil {
				return err
			}
			defer page.Close(ctx)

			logger.Info("visiting url", zap.String("url", url))
			return nil
		}, nil
	}
}
