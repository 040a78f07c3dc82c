package acceptance_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/hivecrawl/poolcore/internal/autoscaledpool"
	"github.com/hivecrawl/poolcore/internal/browserpool"
	"github.com/hivecrawl/poolcore/internal/cpubus"
	"github.com/hivecrawl/poolcore/pkg/clock"
	"github.com/hivecrawl/poolcore/pkg/memprobe"
)

var _ = Describe("BrowserPool", func() {
	var (
		launcher *browserpool.FakeLauncher
		fc       *clock.FakeClock
		logger   = zaptest.NewLogger(GinkgoT())
	)

	BeforeEach(func() {
		launcher = browserpool.NewFakeLauncher()
		fc = clock.NewFakeClock(time.Unix(0, 0))
	})

	It("retires an instance by usage and launches a fresh one for overflow", func() {
		cfg := browserpool.DefaultConfig()
		cfg.MaxOpenPagesPerInstance = 2
		cfg.AbortInstanceAfterRequestCount = 3

		pool, err := browserpool.New(cfg, launcher, logger, fc, nil)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Destroy(context.Background())

		ctx := context.Background()
		var pages []browserpool.Page
		for i := 0; i < 4; i++ {
			if i == 2 {
				// Free a slot on the first instance so it can take a third
				// page and reach AbortInstanceAfterRequestCount.
				Expect(pages[0].Close(ctx)).To(Succeed())
			}
			page, err := pool.NewPage(ctx)
			Expect(err).NotTo(HaveOccurred())
			pages = append(pages, page)
		}

		stats := pool.Stats()
		Expect(stats.ActiveInstances).To(Equal(1))
		Expect(stats.RetiredInstances).To(Equal(1))
	})

	It("kills a retired instance once it has been idle past the kill threshold", func() {
		cfg := browserpool.DefaultConfig()
		cfg.MaxOpenPagesPerInstance = 10
		// A single page immediately retires its instance, so the reaper's
		// idle-kill path is the only thing left to exercise below.
		cfg.AbortInstanceAfterRequestCount = 1
		cfg.KillInstanceAfter = 100 * time.Millisecond
		cfg.InstanceKillerInterval = 50 * time.Millisecond

		pool, err := browserpool.New(cfg, launcher, logger, fc, nil)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Destroy(context.Background())

		ctx := context.Background()
		page, err := pool.NewPage(ctx)
		Expect(err).NotTo(HaveOccurred())

		// The tab stays open until after the reaper has acted: closing the
		// last tab of a retired instance would kill it immediately.
		Eventually(func() int { return pool.Stats().RetiredInstances }).Should(Equal(1))

		fc.Advance(250 * time.Millisecond)

		Eventually(func() int { return pool.Stats().RetiredInstances }).Should(Equal(0))
		browsers := launcher.Launched()
		Expect(browsers).To(HaveLen(1))
		Expect(browsers[0].Closed()).To(BeTrue())
		Expect(page.Close(ctx)).To(Succeed())
	})

	It("retires an instance on disconnect without logging an error if already killed", func() {
		cfg := browserpool.DefaultConfig()
		pool, err := browserpool.New(cfg, launcher, logger, fc, nil)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Destroy(context.Background())

		ctx := context.Background()
		_, err = pool.NewPage(ctx)
		Expect(err).NotTo(HaveOccurred())

		browsers := launcher.Launched()
		Expect(browsers).To(HaveLen(1))
		browsers[0].Disconnect()

		Eventually(func() browserpool.PoolStats { return pool.Stats() }).Should(And(
			WithTransform(func(s browserpool.PoolStats) int { return s.ActiveInstances }, Equal(0)),
			WithTransform(func(s browserpool.PoolStats) int { return s.RetiredInstances }, Equal(1)),
		))
	})
})

var _ = Describe("AutoscaledPool", func() {
	var (
		bus    *cpubus.Bus
		fc     *clock.FakeClock
		logger = zaptest.NewLogger(GinkgoT())
	)

	BeforeEach(func() {
		bus = cpubus.New()
		fc = clock.NewFakeClock(time.Unix(0, 0))
	})

	It("scales up monotonically, bounded by maxConcurrency, when memory is abundant", func() {
		probe := memprobe.NewFakeProbe(memprobe.Sample{FreeBytes: 900 << 20, TotalBytes: 1 << 30})

		cfg := autoscaledpool.DefaultConfig()
		cfg.MinConcurrency = 1
		cfg.MaxConcurrency = 20
		cfg.MinFreeMemoryRatio = 0.05
		cfg.RunTaskFunction = func(ctx context.Context) (autoscaledpool.Task, error) {
			return func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			}, nil
		}

		pool, err := autoscaledpool.New(cfg, probe, bus, fc, logger, nil)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- pool.Run(ctx) }()

		var seen []int
		for i := 0; i < 50; i++ {
			fc.Advance(200 * time.Millisecond)
			seen = append(seen, pool.Stats().Concurrency)
		}

		for i := 1; i < len(seen); i++ {
			Expect(seen[i]).To(BeNumerically(">=", seen[i-1]))
			Expect(seen[i] - seen[i-1]).To(BeNumerically("<=", 10))
			Expect(seen[i]).To(BeNumerically("<=", 20))
		}
		Expect(seen[len(seen)-1]).To(BeNumerically(">", 1))

		cancel()
		<-done
	})

	It("scales down by one after five consecutive CPU-overloaded readings", func() {
		probe := memprobe.NewFakeProbe(memprobe.Sample{FreeBytes: 800 << 20, TotalBytes: 1 << 30})

		cfg := autoscaledpool.DefaultConfig()
		cfg.MinConcurrency = 1
		cfg.MaxConcurrency = 20
		cfg.RunTaskFunction = func(ctx context.Context) (autoscaledpool.Task, error) {
			return func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			}, nil
		}

		pool, err := autoscaledpool.New(cfg, probe, bus, fc, logger, nil)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- pool.Run(ctx) }()

		fc.Advance(200 * time.Millisecond * 50)
		Eventually(func() int { return pool.Stats().Concurrency }).Should(BeNumerically(">", 1))
		before := pool.Stats().Concurrency

		for i := 0; i < 5; i++ {
			bus.Publish(cpubus.Event{IsCPUOverloaded: true})
		}
		fc.Advance(200 * time.Millisecond * 5)

		Eventually(func() int { return pool.Stats().Concurrency }).Should(Equal(before - 1))

		cancel()
		<-done
	})

	It("does not finish until runningCount is zero and isFinishedFunction returns true", func() {
		probe := memprobe.NewFakeProbe(memprobe.Sample{FreeBytes: 800 << 20, TotalBytes: 1 << 30})

		var finished int32
		cfg := autoscaledpool.DefaultConfig()
		cfg.RunTaskFunction = func(ctx context.Context) (autoscaledpool.Task, error) {
			return nil, nil
		}
		cfg.IsFinishedFunction = func(ctx context.Context) (bool, error) {
			return atomic.LoadInt32(&finished) == 1, nil
		}

		pool, err := autoscaledpool.New(cfg, probe, bus, fc, logger, nil)
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() { done <- pool.Run(context.Background()) }()

		Consistently(done, 200*time.Millisecond).ShouldNot(Receive())

		atomic.StoreInt32(&finished, 1)
		// The predicate is only re-evaluated on the next safety-net tick.
		fc.Advance(cfg.MaybeRunInterval)
		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
	})

	It("fails the run with the task's error on the call that rejects", func() {
		probe := memprobe.NewFakeProbe(memprobe.Sample{FreeBytes: 800 << 20, TotalBytes: 1 << 30})

		wantErr := errors.New("boom on third call")
		var calls int32
		cfg := autoscaledpool.DefaultConfig()
		cfg.MaxConcurrency = 1
		cfg.RunTaskFunction = func(ctx context.Context) (autoscaledpool.Task, error) {
			n := atomic.AddInt32(&calls, 1)
			return func(ctx context.Context) error {
				if n == 3 {
					return wantErr
				}
				return nil
			}, nil
		}

		pool, err := autoscaledpool.New(cfg, probe, bus, fc, logger, nil)
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() { done <- pool.Run(context.Background()) }()

		Eventually(done, 2*time.Second).Should(Receive(MatchError(wantErr)))
		Expect(bus.SubscriberCount()).To(Equal(0))
	})
})
