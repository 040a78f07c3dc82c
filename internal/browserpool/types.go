package browserpool

import "time"

// instance is a single launched browser. Every field is owned by the
// pool's control goroutine and is never touched from any other
// goroutine — the only cross-goroutine handoff is through handle,
// whose readiness is signaled by closing a channel.
type instance struct {
	id               int
	handle           *instanceHandle
	activePages      int
	totalPages       int
	lastPageOpenedAt time.Time
	killed           bool
	process          OSProcess
}

// instanceHandle is the shared, eventually-resolved reference to a
// launched browser. Many concurrent newPage callers may observe the
// same pending handle; none of them owns the browser — the instance
// record is the sole owner, transitioning to "gone" on kill.
type instanceHandle struct {
	ready   chan struct{}
	browser Browser
	err     error
}

// wait blocks until the handle resolves or ctx is done.
func (h *instanceHandle) wait(ctx doneCtx) (Browser, error) {
	select {
	case <-h.ready:
		return h.browser, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doneCtx is the minimal slice of context.Context that wait needs,
// named so callers can pass a context.Context directly.
type doneCtx interface {
	Done() <-chan struct{}
	Err() error
}

// PoolStats is a point-in-time snapshot of pool occupancy. Each
// Pool.Stats call also pushes it to the /metrics gauges.
type PoolStats struct {
	ActiveInstances  int
	RetiredInstances int
	ActivePages      int
}
