package browserpool

import (
	"context"
	"sync"
)

// FakeLauncher is a deterministic, in-memory BrowserLauncher for
// BrowserPool's own unit tests. Driving a real headless Chrome in unit
// tests is impractical, so this is the one place the pool is tested
// against a fake rather than the real adapter.
type FakeLauncher struct {
	mu        sync.Mutex
	failNext  bool
	failErr   error
	launched  []*FakeBrowser
	onLaunch  func(*FakeBrowser)
}

// NewFakeLauncher returns an empty FakeLauncher.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{}
}

// FailNextLaunch makes the next Launch call return err instead of a
// browser.
func (l *FakeLauncher) FailNextLaunch(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = true
	l.failErr = err
}

// OnLaunch registers a callback invoked with every FakeBrowser this
// launcher produces, letting tests reach in and trigger events.
func (l *FakeLauncher) OnLaunch(fn func(*FakeBrowser)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLaunch = fn
}

// Launched returns every FakeBrowser produced so far, in launch order.
func (l *FakeLauncher) Launched() []*FakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*FakeBrowser, len(l.launched))
	copy(out, l.launched)
	return out
}

// Launch implements BrowserLauncher.
func (l *FakeLauncher) Launch(ctx context.Context, cfg LaunchConfig) (Browser, error) {
	l.mu.Lock()
	if l.failNext {
		l.failNext = false
		err := l.failErr
		l.mu.Unlock()
		return nil, err
	}
	onLaunch := l.onLaunch
	l.mu.Unlock()

	b := &FakeBrowser{cfg: cfg, process: &FakeProcess{}}
	l.mu.Lock()
	l.launched = append(l.launched, b)
	l.mu.Unlock()

	if onLaunch != nil {
		onLaunch(b)
	}
	return b, nil
}

// FakeBrowser is an in-memory Browser used by BrowserPool's tests. It
// lets a test script open/close/crash pages and fire disconnect
// events without a real browser process.
type FakeBrowser struct {
	cfg     LaunchConfig
	process *FakeProcess

	mu              sync.Mutex
	openPages       int
	closed          bool
	disconnectFn    func()
	targetDestroyed func()
	failNextNewPage error
}

// FailNextNewPage makes the next NewPage call return err.
func (b *FakeBrowser) FailNextNewPage(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNextNewPage = err
}

// Disconnect simulates the browser process disconnecting unexpectedly.
func (b *FakeBrowser) Disconnect() {
	b.mu.Lock()
	fn := b.disconnectFn
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OpenPages reports how many pages are currently open on this browser.
func (b *FakeBrowser) OpenPages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openPages
}

// Closed reports whether Close has been called.
func (b *FakeBrowser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *FakeBrowser) Pages(ctx context.Context) (int, error) {
	return b.OpenPages(), nil
}

func (b *FakeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	if err := b.failNextNewPage; err != nil {
		b.failNextNewPage = nil
		b.mu.Unlock()
		return nil, err
	}
	b.openPages++
	b.mu.Unlock()

	return &FakePage{browser: b}, nil
}

func (b *FakeBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *FakeBrowser) Process() OSProcess { return b.process }

func (b *FakeBrowser) OnDisconnected(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectFn = fn
}

func (b *FakeBrowser) OnTargetDestroyed(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targetDestroyed = fn
}

func (b *FakeBrowser) closePage() {
	b.mu.Lock()
	if b.openPages > 0 {
		b.openPages--
	}
	fn := b.targetDestroyed
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FakePage is the Page counterpart to FakeBrowser.
type FakePage struct {
	browser  *FakeBrowser
	mu       sync.Mutex
	closed   bool
	crashed  func()
}

func (p *FakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.browser.closePage()
	return nil
}

// Crash simulates this tab crashing, invoking the registered observer.
func (p *FakePage) Crash() {
	p.mu.Lock()
	fn := p.crashed
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *FakePage) OnCrashed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crashed = fn
}

// FakeProcess is a no-op OSProcess that records whether Kill was
// called, for assertions on the reaper's force-kill path.
type FakeProcess struct {
	mu      sync.Mutex
	killed  bool
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

// Killed reports whether Kill has been called.
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
