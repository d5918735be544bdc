// internal/browser/cdpengine/driver.go
package cdpengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

// Driver drives Chromium directly over the DevTools protocol.
type Driver struct {
	logger *zap.Logger
}

var _ browser.Driver = (*Driver)(nil)

// NewDriver creates a chromedp-backed driver.
func NewDriver(logger *zap.Logger) *Driver {
	return &Driver{logger: logger.Named("chromedp")}
}

func (d *Driver) Name() string { return "chromedp" }

// Start creates the root every launched allocator hangs off. chromedp has no
// separate driver process, so stopping the engine cancels that root.
func (d *Driver) Start(ctx context.Context) (browser.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Engine{root: root, cancel: cancel, logger: d.logger}, nil
}

// allocatorFlags translates launch options into Chromium switches keyed by name.
func allocatorFlags(opts browser.LaunchOptions) map[string]any {
	flags := map[string]any{"headless": opts.Headless}
	for _, arg := range opts.Args() {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			flags[name] = value
			continue
		}
		flags[name] = true
	}
	return flags
}

// DefaultAllocatorOptions starts from chromedp's defaults and applies the launch
// options on top. Later flags override earlier ones.
func DefaultAllocatorOptions(opts browser.LaunchOptions) []chromedp.ExecAllocatorOption {
	all := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(opts) {
		all = append(all, chromedp.Flag(name, value))
	}
	if opts.ExecutablePath != "" {
		all = append(all, chromedp.ExecPath(opts.ExecutablePath))
	}
	return all
}

// Engine owns the allocator root.
type Engine struct {
	root   context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func (e *Engine) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(e.root, DefaultAllocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(e.logger.Sugar().Debugf))
	kill := func() {
		browserCancel()
		allocCancel()
	}

	// The first Run allocates the browser process, so it runs on the unbounded
	// browser context and the caller's ctx only decides how long we wait for it.
	var product string
	err := await(ctx, func() error {
		return chromedp.Run(browserCtx, chromedp.ActionFunc(func(c context.Context) error {
			_, prod, _, _, _, err := cdpbrowser.GetVersion().Do(c)
			product = prod
			return err
		}))
	}, kill)
	if err != nil {
		kill()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}
	e.logger.Info("Browser launched.", zap.String("browser_version", product), zap.Strings("args", opts.Args()))
	return &Browser{
		ctx:       browserCtx,
		kill:      kill,
		version:   product,
		viewportW: opts.WindowWidth,
		viewportH: opts.WindowHeight,
		logger:    e.logger,
	}, nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()
	return nil
}

// Browser is one Chromium process.
type Browser struct {
	ctx                  context.Context
	kill                 func()
	version              string
	viewportW, viewportH int
	logger               *zap.Logger
}

func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	var id cdp.BrowserContextID
	err := run(ctx, b.ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		id, err = target.CreateBrowserContext().WithDisposeOnDetach(true).Do(onBrowser(c))
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	w, h := opts.ViewportWidth, opts.ViewportHeight
	if w == 0 || h == 0 {
		w, h = b.viewportW, b.viewportH
	}
	return &Context{b: b, id: id, timeout: opts.DefaultTimeout, viewportW: w, viewportH: h}, nil
}

func (b *Browser) Version() string { return b.version }

func (b *Browser) Close(ctx context.Context) error {
	err := await(ctx, func() error { return chromedp.Cancel(b.ctx) }, b.kill)
	b.kill()
	return err
}

// Context is a DevTools browser context.
type Context struct {
	b                    *Browser
	id                   cdp.BrowserContextID
	timeout              time.Duration
	viewportW, viewportH int

	mu    sync.Mutex
	pages []*Page
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.b.ctx, chromedp.WithExistingBrowserContext(c.id))
	p := newPage(tabCtx, cancel)

	var actions []chromedp.Action
	if c.viewportW > 0 && c.viewportH > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(c.viewportW), int64(c.viewportH)))
	}
	// First Run creates the target; like Launch it must not carry a deadline.
	if err := await(ctx, func() error { return chromedp.Run(tabCtx, actions...) }, cancel); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	c.mu.Lock()
	c.pages = append(c.pages, p)
	c.mu.Unlock()
	return p, nil
}

func (c *Context) Pages() []browser.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.Page, 0, len(c.pages))
	for _, p := range c.pages {
		out = append(out, p)
	}
	return out
}

func (c *Context) DefaultTimeout() time.Duration { return c.timeout }

func (c *Context) Close(ctx context.Context) error {
	return run(ctx, c.b.ctx, chromedp.ActionFunc(func(cc context.Context) error {
		return target.DisposeBrowserContext(c.id).Do(onBrowser(cc))
	}))
}

// onBrowser targets a command at the browser rather than the current tab.
func onBrowser(ctx context.Context) context.Context {
	return cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser)
}

// await runs fn and stops waiting when ctx is done. abort must make fn return
// promptly; await waits for it so no goroutine outlives the call.
func await(ctx context.Context, fn func() error, abort func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		abort()
		<-done
		return ctx.Err()
	}
}

// run executes actions against an allocated chromedp context, bounded by ctx.
func run(ctx, cdpCtx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rctx, cancel := context.WithCancel(cdpCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timedOut converts a deadline hit on the operation's own budget into
// browser.ErrTimeout, leaving the caller's cancellation untouched.
func timedOut(parent context.Context, err error, what string, d time.Duration) error {
	if err == nil || parent.Err() != nil {
		return err
	}
	if browser.IsTimeout(err) {
		return fmt.Errorf("%w: %s exceeded %s", browser.ErrTimeout, what, d)
	}
	return err
}
