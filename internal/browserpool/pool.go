// Package browserpool multiplexes many short-lived tabs across a small
// number of long-lived browser processes, rotating them by age, usage,
// and idleness to defeat per-session tracking and bound memory growth.
//
// All pool state is owned by a single control goroutine. External
// callers and background event sources (launch completion, browser
// disconnects, the reaper) never touch the active/retired maps
// directly — they post a closure onto a command channel and the
// control goroutine runs it to completion before the next one starts.
// This keeps the id maps free of the reentrant-mutation hazard the
// underlying browser events would otherwise create.
package browserpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hivecrawl/poolcore/internal/metrics"
	"github.com/hivecrawl/poolcore/pkg/clock"
)

// state is the data a Pool's control goroutine owns exclusively.
type state struct {
	active  map[int]*instance
	retired map[int]*instance
	nextID  int
	closed  bool
}

// Pool is a BrowserPool: lease/return tabs, rotating and retiring
// browsers by age, usage, and idleness.
type Pool struct {
	cfg      Config
	logger   *zap.Logger
	clock    clock.Clock
	launcher BrowserLauncher
	metrics  *metrics.Collector

	cmds     chan func(*state)
	stopLoop chan struct{}
	wg       sync.WaitGroup

	closedFlag int32

	reaperTimer clock.Timer
}

// New creates a BrowserPool and starts its control goroutine and
// reaper timer.
func New(cfg Config, launcher BrowserLauncher, logger *zap.Logger, clk clock.Clock, mc *metrics.Collector) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		launcher: launcher,
		metrics:  mc,
		cmds:     make(chan func(*state), 256),
		stopLoop: make(chan struct{}),
	}

	s := &state{active: map[int]*instance{}, retired: map[int]*instance{}}
	p.wg.Add(1)
	go p.run(s)

	p.reaperTimer = clk.NewTicker(cfg.InstanceKillerInterval, p.reaperTick)

	return p, nil
}

func (p *Pool) run(s *state) {
	defer p.wg.Done()
	for {
		select {
		case cmd := <-p.cmds:
			cmd(s)
		case <-p.stopLoop:
			return
		}
	}
}

// send posts fn to the control goroutine unless the pool is already
// closed, in which case it is dropped and the caller should already
// have observed ErrPoolClosed through its own path.
func (p *Pool) send(fn func(*state)) {
	if atomic.LoadInt32(&p.closedFlag) != 0 {
		return
	}
	select {
	case p.cmds <- fn:
	case <-p.stopLoop:
	}
}

// NewPage leases a tab, launching a new browser instance if no active
// one has spare capacity.
func (p *Pool) NewPage(ctx context.Context) (Page, error) {
	if atomic.LoadInt32(&p.closedFlag) != 0 {
		return nil, ErrPoolClosed
	}

	type acquired struct {
		inst   *instance
		handle *instanceHandle
	}
	resCh := make(chan acquired, 1)

	p.send(func(s *state) {
		inst := p.findOrLaunchLocked(s)
		inst.lastPageOpenedAt = p.clock.Now()
		inst.totalPages++
		inst.activePages++
		if inst.totalPages >= p.cfg.AbortInstanceAfterRequestCount {
			p.retireLocked(s, inst.id, "max_used")
		}
		resCh <- acquired{inst: inst, handle: inst.handle}
	})

	var acq acquired
	select {
	case acq = <-resCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	browser, err := acq.handle.wait(ctx)
	if err != nil {
		p.send(func(s *state) { p.retireLocked(s, acq.inst.id, "launch_failed") })
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	page, err := browser.NewPage(ctx)
	if err != nil {
		p.send(func(s *state) { p.retireLocked(s, acq.inst.id, "new_page_failed") })
		return nil, fmt.Errorf("%w: %v", ErrNewPageFailed, err)
	}

	page.OnCrashed(func() {
		_ = page.Close(context.Background())
	})

	return page, nil
}

// findOrLaunchLocked returns an active instance with spare capacity,
// launching a new one if none qualifies. Must only run on the control
// goroutine.
func (p *Pool) findOrLaunchLocked(s *state) *instance {
	for _, inst := range s.active {
		if inst.activePages < p.cfg.MaxOpenPagesPerInstance {
			return inst
		}
	}
	return p.launchInstanceLocked(s)
}

// launchInstanceLocked allocates a new id, records a pending handle in
// active immediately (so concurrent newPage calls can share it), and
// starts the async launch.
func (p *Pool) launchInstanceLocked(s *state) *instance {
	id := s.nextID
	s.nextID++

	handle := &instanceHandle{ready: make(chan struct{})}
	inst := &instance{id: id, handle: handle}
	s.active[id] = inst

	go p.launchAsync(id, handle)

	return inst
}

func (p *Pool) launchAsync(id int, handle *instanceHandle) {
	browser, err := p.launcher.Launch(context.Background(), p.cfg.Launch)

	p.send(func(s *state) {
		if err != nil {
			handle.err = err
			close(handle.ready)
			if p.metrics != nil {
				p.metrics.BrowserLaunchFailed()
			}
			p.logger.Error("browser launch failed", zap.Int("instance_id", id), zap.Error(err))
			p.retireLocked(s, id, "launch_failed")
			return
		}

		handle.browser = browser
		close(handle.ready)
		if p.metrics != nil {
			p.metrics.BrowserLaunched()
		}

		inst := s.active[id]
		if inst == nil {
			inst = s.retired[id]
		}
		if inst != nil {
			inst.process = browser.Process()
		}

		browser.OnDisconnected(func() {
			p.send(func(s2 *state) { p.handleDisconnected(s2, id) })
		})
		browser.OnTargetDestroyed(func() {
			p.send(func(s2 *state) { p.handleTargetDestroyed(s2, id) })
		})
	})
}

func (p *Pool) handleDisconnected(s *state, id int) {
	inst := s.active[id]
	if inst == nil {
		inst = s.retired[id]
	}
	alreadyKilled := inst != nil && inst.killed

	p.retireLocked(s, id, "disconnected")

	if !alreadyKilled {
		p.logger.Warn("browser disconnected", zap.Int("instance_id", id))
	}
}

func (p *Pool) handleTargetDestroyed(s *state, id int) {
	inst := s.active[id]
	if inst == nil {
		inst = s.retired[id]
	}
	if inst == nil {
		return
	}

	if inst.activePages > 0 {
		inst.activePages--
	}

	if inst.activePages == 0 {
		if _, stillRetired := s.retired[id]; stillRetired {
			p.killInstanceLocked(s, id, "idle_after_target_destroyed")
		}
	}
}

// retireLocked moves id from active to retired. Idempotent: a no-op
// log-only warning if id is not active.
func (p *Pool) retireLocked(s *state, id int, reason string) {
	inst, ok := s.active[id]
	if !ok {
		p.logger.Warn("retire: instance not active", zap.Int("instance_id", id), zap.String("reason", reason))
		return
	}

	delete(s.active, id)
	s.retired[id] = inst

	if p.metrics != nil {
		p.metrics.BrowserInstanceRetired(reason)
	}
	p.logger.Info("instance retired", zap.Int("instance_id", id), zap.String("reason", reason))
}

// killInstanceLocked removes id from retired (idempotent), schedules a
// hard kill timeout, and invokes the browser's cooperative close if it
// hasn't already been killed.
func (p *Pool) killInstanceLocked(s *state, id int, reason string) {
	inst, ok := s.retired[id]
	if !ok {
		return
	}
	delete(s.retired, id)

	killTimer := p.clock.AfterFunc(processKillTimeout, func() {
		if inst.process != nil {
			if err := inst.process.Kill(); err != nil {
				p.logger.Warn("force kill failed", zap.Int("instance_id", id), zap.Error(err))
			}
		}
	})

	alreadyKilled := inst.killed
	inst.killed = true

	if p.metrics != nil {
		p.metrics.BrowserInstanceKilled()
	}
	p.logger.Info("instance killed", zap.Int("instance_id", id), zap.String("reason", reason))

	if alreadyKilled {
		killTimer.Stop()
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processKillTimeout)
		defer cancel()
		browser, err := inst.handle.wait(ctx)
		if err == nil && browser != nil {
			if cerr := browser.Close(ctx); cerr != nil {
				p.logger.Warn("browser close failed", zap.Int("instance_id", id), zap.Error(cerr))
			}
		}
		killTimer.Stop()
	}()
}

// reaperTick sweeps every retired instance: instances idle past
// KillInstanceAfter are killed outright; the rest are probed for live
// tabs, and killed if the probe reports zero or fails.
func (p *Pool) reaperTick() {
	p.send(func(s *state) {
		now := p.clock.Now()

		for id, inst := range s.retired {
			if now.Sub(inst.lastPageOpenedAt) > p.cfg.KillInstanceAfter {
				p.killInstanceLocked(s, id, "idle_timeout")
				continue
			}

			id, handle := id, inst.handle
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), reaperProbeTimeout)
				defer cancel()

				browser, err := handle.wait(ctx)
				var n int
				var probeErr error
				if err != nil {
					probeErr = err
				} else {
					n, probeErr = browser.Pages(ctx)
				}

				p.send(func(s2 *state) {
					if _, stillRetired := s2.retired[id]; !stillRetired {
						return
					}
					if probeErr != nil || n == 0 {
						p.killInstanceLocked(s2, id, "no_live_tabs")
					}
				})
			}()
		}
	})
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	resCh := make(chan PoolStats, 1)
	p.send(func(s *state) {
		var pages int
		for _, inst := range s.active {
			pages += inst.activePages
		}
		for _, inst := range s.retired {
			pages += inst.activePages
		}
		resCh <- PoolStats{
			ActiveInstances:  len(s.active),
			RetiredInstances: len(s.retired),
			ActivePages:      pages,
		}
	})

	select {
	case stats := <-resCh:
		if p.metrics != nil {
			p.metrics.BrowserActive(stats.ActiveInstances)
			p.metrics.BrowserRetired(stats.RetiredInstances)
			p.metrics.BrowserActivePages(stats.ActivePages)
		}
		return stats
	case <-p.stopLoop:
		return PoolStats{}
	}
}

// Destroy stops the reaper, marks every known instance killed to
// suppress disconnect noise, and closes every browser. Browser close
// errors are logged, never returned; Destroy returns an error only when
// ctx ends before teardown completes (ctx.Err()). Destroy is
// idempotent.
func (p *Pool) Destroy(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.closedFlag, 0, 1) {
		return nil
	}

	p.reaperTimer.Stop()

	done := make(chan struct{})
	// Posted directly to cmds, bypassing send's closedFlag check: this
	// is the one closure still allowed to run after closedFlag is set,
	// since it's what performs the actual teardown.
	p.cmds <- func(s *state) {
		if s.closed {
			close(done)
			return
		}
		s.closed = true

		var toClose []*instance
		for _, inst := range s.active {
			inst.killed = true
			toClose = append(toClose, inst)
		}
		for _, inst := range s.retired {
			inst.killed = true
			toClose = append(toClose, inst)
		}
		s.active = map[int]*instance{}
		s.retired = map[int]*instance{}

		go func() {
			var wg sync.WaitGroup
			for _, inst := range toClose {
				wg.Add(1)
				go func(inst *instance) {
					defer wg.Done()
					closeCtx, cancel := context.WithTimeout(context.Background(), processKillTimeout)
					defer cancel()
					browser, err := inst.handle.wait(closeCtx)
					if err != nil || browser == nil {
						return
					}
					if cerr := browser.Close(closeCtx); cerr != nil {
						p.logger.Warn("browser close failed during destroy", zap.Int("instance_id", inst.id), zap.Error(cerr))
					}
				}(inst)
			}
			wg.Wait()
			close(p.stopLoop)
			close(done)
		}()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
