package autoscaledpool

import (
	"go.uber.org/zap"

	"github.com/hivecrawl/poolcore/pkg/memprobe"
)

// beginAutoscaleTick is the memory-probe ticker's callback. Sampling is
// done off the control goroutine since MemoryProbe.Get may block on a
// syscall; the result is posted back for applyTick to act on.
func (p *Pool) beginAutoscaleTick() {
	go func() {
		sample, err := p.probe.Get()
		p.send(func(s *state) { p.applyTick(s, sample, err) })
	}()
}

func (p *Pool) applyTick(s *state, sample memprobe.Sample, err error) {
	if err != nil {
		p.logger.Warn("memory probe failed, skipping autoscale tick", zap.Error(err))
		return
	}

	total := sample.TotalBytes
	if p.cfg.MaxMemoryMbytes > 0 {
		if capped := uint64(p.cfg.MaxMemoryMbytes) * 1024 * 1024; total > capped {
			total = capped
		}
	}

	s.tickCounter++
	s.freeBytesHistory = append(s.freeBytesHistory, sample.FreeBytes)
	if len(s.freeBytesHistory) > scaleUpInterval {
		s.freeBytesHistory = s.freeBytesHistory[len(s.freeBytesHistory)-scaleUpInterval:]
	}

	if p.metrics != nil {
		p.metrics.PoolTick()
	}

	if !p.tryScaleDown(s, total) {
		p.tryScaleUp(s, total)
	}

	if s.tickCounter%logInfoInterval == 0 {
		p.logger.Info("autoscaledpool snapshot",
			zap.Int("concurrency", s.concurrency),
			zap.Int("running_count", s.runningCount),
			zap.Int("tick", s.tickCounter))
	}
}

// tryScaleDown mirrors the reference design's every-scaleDownInterval
// check: average free-bytes over the trailing window, decrement
// concurrency by one if memory or CPU is overloaded. Returns true if it
// scaled down, so applyTick can skip the scale-up check on this tick.
func (p *Pool) tryScaleDown(s *state, total uint64) bool {
	if s.tickCounter%scaleDownInterval != 0 {
		return false
	}
	if s.concurrency <= p.cfg.MinConcurrency {
		return false
	}

	n := len(s.freeBytesHistory)
	take := n
	if take > scaleDownInterval {
		take = scaleDownInterval
	}
	var sum uint64
	for _, v := range s.freeBytesHistory[n-take:] {
		sum += v
	}
	var avgFree float64
	if take > 0 {
		avgFree = float64(sum) / float64(take)
	}

	memoryOverloaded := total > 0 && avgFree/float64(total) < p.cfg.MinFreeMemoryRatio
	cpuOverloaded := allOverloaded(s.cpuOverloadHistory)

	if !memoryOverloaded && !cpuOverloaded {
		return false
	}

	old := s.concurrency
	s.concurrency--
	p.logger.Info("autoscaledpool scaling down",
		zap.Int("old_concurrency", old),
		zap.Int("new_concurrency", s.concurrency),
		zap.Bool("memory_overloaded", memoryOverloaded),
		zap.Bool("cpu_overloaded", cpuOverloaded))
	if p.metrics != nil {
		p.metrics.PoolScaledDown()
		p.metrics.PoolConcurrency(s.concurrency)
	}
	return true
}

// tryScaleUp mirrors the reference design's every-scaleUpInterval
// check: estimate the headroom implied by the worst (minimum) free
// sample in the window, and the memory cost per running instance, then
// raise concurrency by that many slots capped at scaleUpMaxStep.
func (p *Pool) tryScaleUp(s *state, total uint64) {
	if s.tickCounter%scaleUpInterval != 0 {
		return
	}
	if s.concurrency >= p.cfg.MaxConcurrency {
		return
	}
	if total == 0 || len(s.freeBytesHistory) == 0 {
		return
	}

	minFree := s.freeBytesHistory[0]
	for _, v := range s.freeBytesHistory {
		if v < minFree {
			minFree = v
		}
	}
	minFreeRatio := float64(minFree) / float64(total)

	denom := s.runningCount
	if denom < 1 {
		denom = 1
	}
	maxTakenRatio := float64(total-minFree) / float64(total)
	perInstanceRatio := maxTakenRatio / float64(denom)
	if perInstanceRatio <= 0 {
		return
	}

	room := (minFreeRatio - minFreeMemoryRatioHard) / perInstanceRatio
	step := int(room)
	if step <= 0 {
		return
	}
	if step > scaleUpMaxStep {
		step = scaleUpMaxStep
	}

	old := s.concurrency
	s.concurrency += step
	if s.concurrency > p.cfg.MaxConcurrency {
		s.concurrency = p.cfg.MaxConcurrency
	}

	p.logger.Info("autoscaledpool scaling up",
		zap.Int("old_concurrency", old),
		zap.Int("new_concurrency", s.concurrency),
		zap.Int("step", step))
	if p.metrics != nil {
		p.metrics.PoolScaledUp()
		p.metrics.PoolConcurrency(s.concurrency)
	}

	p.maybeRunTask(s, 0)
}

func (p *Pool) appendCPUOverload(s *state, overloaded bool) {
	s.cpuOverloadHistory = append(s.cpuOverloadHistory, overloaded)
	if len(s.cpuOverloadHistory) > scaleDownInterval {
		s.cpuOverloadHistory = s.cpuOverloadHistory[len(s.cpuOverloadHistory)-scaleDownInterval:]
	}
}

func allOverloaded(xs []bool) bool {
	if len(xs) == 0 {
		return false
	}
	for _, v := range xs {
		if !v {
			return false
		}
	}
	return true
}
