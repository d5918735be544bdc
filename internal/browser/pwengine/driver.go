// internal/browser/pwengine/driver.go
package pwengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	launchTimeout            = 60 * time.Second
)

// Driver starts a Playwright driver process and drives Chromium through it.
type Driver struct {
	// Install downloads the driver and Chromium before starting.
	Install bool
	logger  *zap.Logger
}

var _ browser.Driver = (*Driver)(nil)

// NewDriver creates a Playwright-backed driver.
func NewDriver(install bool, logger *zap.Logger) *Driver {
	return &Driver{Install: install, logger: logger.Named("playwright")}
}

func (d *Driver) Name() string { return "playwright" }

// Start launches the Playwright driver process.
func (d *Driver) Start(ctx context.Context) (browser.Engine, error) {
	if d.Install {
		if err := EnsureInstallation(ctx, d.logger); err != nil {
			return nil, err
		}
	}

	pw, err := callValue(ctx, func() (*playwright.Playwright, error) {
		return playwright.Run(&playwright.RunOptions{Stdout: io.Discard, Stderr: io.Discard})
	}, func(pw *playwright.Playwright) { _ = pw.Stop() })
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	d.logger.Debug("Playwright driver started.")
	return &Engine{pw: pw, logger: d.logger}, nil
}

// EnsureInstallation installs the Playwright driver and Chromium, bounded by a
// fixed installation timeout.
func EnsureInstallation(ctx context.Context, logger *zap.Logger) error {
	logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	err := call(installCtx, func() error {
		return playwright.Install(&playwright.RunOptions{
			Browsers: []string{"chromium"},
			Stdout:   io.Discard,
			Stderr:   io.Discard,
		})
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout waiting for Playwright installation: %w", err)
	}
	if err != nil {
		return fmt.Errorf("failed to install playwright browsers: %w", err)
	}
	return nil
}

// Engine is an active Playwright driver session.
type Engine struct {
	pw     *playwright.Playwright
	logger *zap.Logger
}

func (e *Engine) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args(),
		Timeout:  playwright.Float(float64(launchTimeout.Milliseconds())),
	}
	if opts.ExecutablePath != "" {
		launchOptions.ExecutablePath = playwright.String(opts.ExecutablePath)
	}

	b, err := callValue(ctx, func() (playwright.Browser, error) {
		return e.pw.Chromium.Launch(launchOptions)
	}, func(b playwright.Browser) { _ = b.Close() })
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser instance: %w", translate(err))
	}
	e.logger.Info("Browser launched.", zap.String("browser_version", b.Version()), zap.Strings("args", launchOptions.Args))
	return &Browser{b: b, viewportW: opts.WindowWidth, viewportH: opts.WindowHeight, logger: e.logger}, nil
}

func (e *Engine) Stop(ctx context.Context) error {
	return call(ctx, e.pw.Stop)
}

// Browser wraps one launched Chromium.
type Browser struct {
	b                    playwright.Browser
	viewportW, viewportH int
	logger               *zap.Logger
}

func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	ctxOpts := playwright.BrowserNewContextOptions{}
	w, h := opts.ViewportWidth, opts.ViewportHeight
	if w == 0 || h == 0 {
		w, h = b.viewportW, b.viewportH
	}
	if w > 0 && h > 0 {
		ctxOpts.Viewport = &playwright.Size{Width: w, Height: h}
	}

	bc, err := callValue(ctx, func() (playwright.BrowserContext, error) {
		return b.b.NewContext(ctxOpts)
	}, func(bc playwright.BrowserContext) { _ = bc.Close() })
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", translate(err))
	}
	if opts.DefaultTimeout > 0 {
		bc.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))
	}
	return &Context{bc: bc, timeout: opts.DefaultTimeout, logger: b.logger}, nil
}

func (b *Browser) Version() string { return b.b.Version() }

func (b *Browser) Close(ctx context.Context) error {
	return call(ctx, func() error { return b.b.Close() })
}

// Context wraps a Playwright browser context.
type Context struct {
	bc      playwright.BrowserContext
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	pages []*Page
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	p, err := callValue(ctx, c.bc.NewPage, func(p playwright.Page) { _ = p.Close() })
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", translate(err))
	}
	page := newPage(p)
	c.mu.Lock()
	c.pages = append(c.pages, page)
	c.mu.Unlock()
	return page, nil
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
	return call(ctx, func() error { return c.bc.Close() })
}

// call runs a blocking Playwright call and gives up waiting when ctx is done. The
// call itself keeps running until Playwright's own timeout ends it.
func call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callValue is call for acquisitions. When ctx ends first, orphan releases the
// value once the abandoned call completes so nothing outlives the run.
func callValue[T any](ctx context.Context, fn func() (T, error), orphan func(T)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && orphan != nil {
				orphan(r.v)
			}
		}()
		return zero, ctx.Err()
	}
}

// translate maps Playwright timeouts onto browser.ErrTimeout.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", browser.ErrTimeout, err)
	}
	return err
}
