package browserpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpLauncher is the production BrowserLauncher, backed by
// chromedp/cdproto. Construction mirrors the reference instance's
// createBrowser: a fixed set of headless flags plus the recognized
// LaunchConfig fields. LaunchConfig.SlowMo is not applied: actions run
// without any added delay.
type ChromedpLauncher struct {
	logger *zap.Logger
}

// NewChromedpLauncher returns a BrowserLauncher that starts real
// headless Chrome processes.
func NewChromedpLauncher(logger *zap.Logger) *ChromedpLauncher {
	return &ChromedpLauncher{logger: logger}
}

// Launch starts a new headless Chrome process and returns a handle to
// it. The returned Browser's context is independent of ctx so the
// browser survives beyond the lifetime of this call.
func (l *ChromedpLauncher) Launch(ctx context.Context, cfg LaunchConfig) (Browser, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	}

	if cfg.DisableWebSecurity {
		opts = append(opts, chromedp.Flag("disable-web-security", true))
	}
	if cfg.IgnoreHTTPSErrors || cfg.DisableWebSecurity {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}
	if cfg.Dumpio {
		opts = append(opts, chromedp.CombinedOutput(zap.NewStdLog(l.logger).Writer()))
	}
	for _, a := range cfg.Args {
		opts = append(opts, chromedp.Flag(a, true))
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)

	var browserCtxOpts []chromedp.ContextOption
	browserCtx, cancel := chromedp.NewContext(allocatorCtx, browserCtxOpts...)

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocatorCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	b := &chromedpBrowser{
		ctx:             browserCtx,
		cancel:          cancel,
		allocatorCancel: allocatorCancel,
		logger:          l.logger,
	}

	if err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		b.version = product
		return nil
	})); err != nil {
		l.logger.Warn("failed to capture browser version", zap.Error(err))
	}

	b.watchDisconnect()

	return b, nil
}

// chromedpBrowser adapts a chromedp browser context to the Browser
// interface. A tab maps to a chromedp context derived from ctx via
// chromedp.NewContext, which attaches a new target in the same
// browser process.
type chromedpBrowser struct {
	ctx             context.Context
	cancel          context.CancelFunc
	allocatorCancel context.CancelFunc
	logger          *zap.Logger
	version         string

	mu                sync.Mutex
	disconnected      bool
	disconnectHandler func()
	targetDestroyed   func()
}

func (b *chromedpBrowser) watchDisconnect() {
	go func() {
		<-b.ctx.Done()
		b.mu.Lock()
		fn := b.disconnectHandler
		already := b.disconnected
		b.disconnected = true
		b.mu.Unlock()
		if fn != nil && !already {
			fn()
		}
	}()

	chromedp.ListenTarget(b.ctx, func(ev interface{}) {
		if _, ok := ev.(*target.EventDetachedFromTarget); ok {
			b.mu.Lock()
			fn := b.targetDestroyed
			b.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})
}

func (b *chromedpBrowser) Pages(ctx context.Context) (int, error) {
	var targets []*target.Info
	err := chromedp.Run(b.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		ts, err := target.GetTargets().Do(ctx)
		if err != nil {
			return err
		}
		targets = ts
		return nil
	}))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, t := range targets {
		if t.Type == "page" {
			n++
		}
	}
	return n, nil
}

func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	pageCtx, pageCancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(pageCtx); err != nil {
		pageCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromedpPage{ctx: pageCtx, cancel: pageCancel}, nil
}

func (b *chromedpBrowser) Close(ctx context.Context) error {
	b.cancel()
	b.allocatorCancel()
	return nil
}

func (b *chromedpBrowser) Process() OSProcess {
	return chromedpProcess{cancel: b.allocatorCancel}
}

func (b *chromedpBrowser) OnDisconnected(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectHandler = fn
}

func (b *chromedpBrowser) OnTargetDestroyed(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targetDestroyed = fn
}

// chromedpPage adapts a per-tab chromedp context to the Page interface.
type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *chromedpPage) Close(ctx context.Context) error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}

func (p *chromedpPage) OnCrashed(fn func()) {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		if _, ok := ev.(*target.EventTargetCrashed); ok {
			fn()
		}
	})
}

// chromedpProcess kills the browser by canceling its allocator
// context, which chromedp wires to terminating the underlying
// process. chromedp does not expose the raw *os.Process, so this is
// the closest equivalent to PROCESS_KILL_TIMEOUT_MILLIS's hard kill.
type chromedpProcess struct {
	cancel context.CancelFunc
}

func (p chromedpProcess) Kill() error {
	p.cancel()
	return nil
}
