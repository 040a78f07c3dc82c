// Package autoscaledpool adaptively runs user-supplied asynchronous
// tasks in parallel, continuously resizing the permitted concurrency
// from memory and CPU load signals.
//
// As with browserpool, all scheduling state lives on a single control
// goroutine; callers, timers, and the CPU event bus only ever post a
// closure for that goroutine to run.
package autoscaledpool

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hivecrawl/poolcore/internal/cpubus"
	"github.com/hivecrawl/poolcore/internal/metrics"
	"github.com/hivecrawl/poolcore/pkg/clock"
	"github.com/hivecrawl/poolcore/pkg/memprobe"
)

// state is the data a Pool's control goroutine owns exclusively.
type state struct {
	concurrency         int
	runningCount        int
	freeBytesHistory    []uint64
	cpuOverloadHistory  []bool
	tickCounter         int
	queryingIsTaskReady bool
	queryingIsFinished  bool
	finished            bool
}

// Pool is an AutoscaledPool.
type Pool struct {
	cfg     Config
	logger  *zap.Logger
	clock   clock.Clock
	probe   memprobe.Probe
	bus     *cpubus.Bus
	metrics *metrics.Collector

	cmds     chan func(*state)
	stopLoop chan struct{}
	doneCh   chan error

	runCtx context.Context

	memTimer    clock.Timer
	safetyTimer clock.Timer
}

// New constructs an AutoscaledPool. Call Run to start it.
func New(cfg Config, probe memprobe.Probe, bus *cpubus.Bus, clk clock.Clock, logger *zap.Logger, mc *metrics.Collector) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		cfg:      cfg,
		probe:    probe,
		bus:      bus,
		clock:    clk,
		logger:   logger,
		metrics:  mc,
		cmds:     make(chan func(*state), 256),
		stopLoop: make(chan struct{}),
		doneCh:   make(chan error, 1),
	}, nil
}

// Run starts the memory-probe and safety-net timers, subscribes to the
// CPU event bus, drives the first task attempt, and blocks until the
// pool naturally finishes, the first task failure occurs, or ctx is
// done (in which case ctx.Err() is returned). Destroy is
// implicit: whichever way Run returns, timers are cleared and the bus
// subscription is removed before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.runCtx = ctx

	s := &state{
		concurrency:        p.cfg.MinConcurrency,
		cpuOverloadHistory: []bool{false},
	}
	go p.loop(s)

	token := p.bus.Subscribe(func(ev cpubus.Event) {
		p.send(func(s *state) { p.appendCPUOverload(s, ev.IsCPUOverloaded) })
	})

	p.memTimer = p.clock.NewTicker(memCheckInterval, p.beginAutoscaleTick)
	p.safetyTimer = p.clock.NewTicker(p.cfg.MaybeRunInterval, func() {
		p.send(func(s *state) { p.maybeRunTask(s, 0) })
	})

	p.send(func(s *state) { p.maybeRunTask(s, 0) })

	var err error
	select {
	case err = <-p.doneCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.memTimer.Stop()
	p.safetyTimer.Stop()
	p.bus.Unsubscribe(token)
	close(p.stopLoop)

	return err
}

func (p *Pool) loop(s *state) {
	for {
		select {
		case cmd := <-p.cmds:
			cmd(s)
		case <-p.stopLoop:
			return
		}
	}
}

func (p *Pool) send(fn func(*state)) {
	select {
	case p.cmds <- fn:
	case <-p.stopLoop:
	}
}

func (p *Pool) resolve(err error) {
	select {
	case p.doneCh <- err:
	default:
	}
}

func (p *Pool) fail(s *state, err error) {
	if s.finished {
		return
	}
	s.finished = true
	p.resolve(err)
}

// maybeRunTask is the reentrant-guarded task-launch driver. depth
// bounds the continuation chain started by a successful task launch
// immediately trying to fill another slot — the Go replacement for the
// source's synchronous promise-chain recursion, capped at concurrency
// so it can never grow unbounded.
func (p *Pool) maybeRunTask(s *state, depth int) {
	if s.finished {
		return
	}
	if s.runningCount >= s.concurrency {
		return
	}
	if s.queryingIsTaskReady {
		return
	}
	if depth >= s.concurrency {
		return
	}

	s.queryingIsTaskReady = true
	readyFn := p.cfg.IsTaskReadyFunction

	go func() {
		ready := true
		var err error
		if readyFn != nil {
			ready, err = readyFn(p.runCtx)
		}
		p.send(func(s2 *state) {
			s2.queryingIsTaskReady = false
			if err != nil {
				p.logger.Warn("isTaskReadyFunction failed, retrying next tick", zap.Error(err))
				return
			}
			if !ready {
				p.maybeFinish(s2)
				return
			}
			p.startTaskAttempt(s2, depth)
		})
	}()
}

func (p *Pool) startTaskAttempt(s *state, depth int) {
	runFn := p.cfg.RunTaskFunction

	go func() {
		var task Task
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("runTaskFunction panicked", zap.Any("panic", r), zap.Stack("stack"))
					task, err = nil, fmt.Errorf("%w: %v", ErrNotAFuture, r)
				}
			}()
			task, err = runFn(p.runCtx)
		}()
		p.send(func(s2 *state) {
			if err != nil {
				p.fail(s2, err)
				return
			}
			if task == nil {
				p.maybeFinish(s2)
				return
			}

			s2.runningCount++
			if p.metrics != nil {
				p.metrics.PoolRunningCount(s2.runningCount)
			}
			p.runTask(s2, task)

			// Immediately try to fill another slot in parallel, bounded
			// by depth so a burst can saturate concurrency without
			// waiting maybeRunIntervalMillis for each slot.
			p.maybeRunTask(s2, depth+1)
		})
	}()
}

func (p *Pool) runTask(s *state, task Task) {
	_ = s // task runs detached from any particular snapshot of state
	go func() {
		var taskErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
					taskErr = fmt.Errorf("%w: %v", ErrNotAFuture, r)
				}
			}()
			taskErr = task(p.runCtx)
		}()

		p.send(func(s2 *state) {
			s2.runningCount--
			if p.metrics != nil {
				p.metrics.PoolRunningCount(s2.runningCount)
			}
			if taskErr != nil {
				if p.metrics != nil {
					p.metrics.PoolTaskFailed()
				}
				p.fail(s2, taskErr)
				return
			}
			if p.metrics != nil {
				p.metrics.PoolTaskDone()
			}
			p.maybeRunTask(s2, 0)
		})
	}()
}

// maybeFinish is the reentrant-guarded finish driver.
func (p *Pool) maybeFinish(s *state) {
	if s.finished {
		return
	}
	if s.runningCount > 0 {
		return
	}
	if s.queryingIsFinished {
		return
	}

	finishFn := p.cfg.IsFinishedFunction
	if finishFn == nil {
		s.finished = true
		p.resolve(nil)
		return
	}

	s.queryingIsFinished = true
	go func() {
		done, err := finishFn(p.runCtx)
		p.send(func(s2 *state) {
			s2.queryingIsFinished = false
			if err != nil {
				p.logger.Warn("isFinishedFunction failed", zap.Error(err))
				return
			}
			if done {
				if s2.finished {
					return
				}
				s2.finished = true
				p.resolve(nil)
				return
			}
			// A future tick (safety timer) will re-evaluate.
		})
	}()
}

// Stats returns a point-in-time snapshot of the scheduling state.
func (p *Pool) Stats() RunStats {
	resCh := make(chan RunStats, 1)
	p.send(func(s *state) {
		resCh <- RunStats{
			Concurrency:  s.concurrency,
			RunningCount: s.runningCount,
			TickCounter:  s.tickCounter,
		}
	})
	select {
	case st := <-resCh:
		return st
	case <-p.stopLoop:
		return RunStats{}
	}
}
