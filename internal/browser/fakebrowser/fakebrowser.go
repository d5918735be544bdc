// Package fakebrowser is an in-memory browser.Driver for unit tests. Documents are
// real HTML trees; locators resolve with goquery (CSS) and htmlquery (XPath). Every
// acquisition, release, navigation and interaction is appended to a journal.
package fakebrowser

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

// Journal steps. Acquisition steps are recorded on success; close steps are
// recorded on every attempt, including failing ones.
const (
	StepStart        = "engine.start"
	StepLaunch       = "browser.launch"
	StepNewContext   = "context.new"
	StepNewPage      = "page.new"
	StepClosePage    = "page.close"
	StepCloseContext = "context.close"
	StepCloseBrowser = "browser.close"
	StepStop         = "engine.stop"
)

// RouteFunc renders the document served for a path. visit starts at 1 and counts
// navigations to that path across the whole driver.
type RouteFunc func(visit int) string

// Static serves the same document on every visit.
func Static(doc string) RouteFunc {
	return func(int) string { return doc }
}

// Sequence serves docs in order and repeats the last one once exhausted.
func Sequence(docs ...string) RouteFunc {
	return func(visit int) string {
		if visit > len(docs) {
			return docs[len(docs)-1]
		}
		return docs[visit-1]
	}
}

// Config scripts the fake's behavior.
type Config struct {
	// Routes maps URL paths to documents. Unknown paths render a 404 document.
	Routes map[string]RouteFunc
	// Fail makes the named step return the given error.
	Fail map[string]error
	// NavigationErrors makes Goto to a path fail before commit.
	NavigationErrors map[string]error
	// LoadDelay is how long after commit the main document reaches its load states.
	LoadDelay time.Duration
	// FrameLoadDelay adds per-frame delay (keyed by frame name) on top of LoadDelay.
	FrameLoadDelay map[string]time.Duration
	// ActionableAfter makes the first N actionability checks report false.
	ActionableAfter int
	// OnClick runs after a click has been journaled. It may re-render the page.
	OnClick func(p *Page, target *Element) error
	// Evaluate answers Page.Evaluate. A nil hook returns (nil, nil).
	Evaluate func(p *Page, script string) (any, error)
	// Version is reported by Browser.Version.
	Version string
}

// Driver is the fake automation driver. It is safe for concurrent use.
type Driver struct {
	cfg Config

	mu               sync.Mutex
	journal          []string
	visits           map[string]int
	launches         []browser.LaunchOptions
	actionableChecks int
}

var _ browser.Driver = (*Driver)(nil)

// New creates a fake driver.
func New(cfg Config) *Driver {
	if cfg.Version == "" {
		cfg.Version = "fakebrowser/1.0"
	}
	return &Driver{cfg: cfg, visits: make(map[string]int)}
}

func (d *Driver) Name() string { return "fake" }

func (d *Driver) Start(ctx context.Context) (browser.Engine, error) {
	if err := d.step(ctx, StepStart, false); err != nil {
		return nil, err
	}
	return &Engine{d: d}, nil
}

// Journal returns a copy of every recorded event in order.
func (d *Driver) Journal() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.journal)
}

// JournalOf returns the recorded events starting with any of the given prefixes.
func (d *Driver) JournalOf(prefixes ...string) []string {
	var out []string
	for _, e := range d.Journal() {
		for _, p := range prefixes {
			if strings.HasPrefix(e, p) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Visits reports how many navigations targeted path.
func (d *Driver) Visits(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visits[path]
}

// Launches returns the options of every successful launch.
func (d *Driver) Launches() []browser.LaunchOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.launches)
}

func (d *Driver) record(event string) {
	d.mu.Lock()
	d.journal = append(d.journal, event)
	d.mu.Unlock()
}

// step runs a journaled lifecycle step. Close steps are journaled before the
// configured failure is applied; acquisition steps only on success.
func (d *Driver) step(ctx context.Context, name string, isClose bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if isClose {
		d.record(name)
	}
	if err, ok := d.cfg.Fail[name]; ok && err != nil {
		return err
	}
	if !isClose {
		d.record(name)
	}
	return nil
}

func (d *Driver) nextVisit(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visits[path]++
	return d.visits[path]
}

func (d *Driver) checkActionable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actionableChecks++
	return d.actionableChecks > d.cfg.ActionableAfter
}

// Engine is the fake engine session.
type Engine struct{ d *Driver }

func (e *Engine) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := e.d.step(ctx, StepLaunch, false); err != nil {
		return nil, err
	}
	e.d.mu.Lock()
	e.d.launches = append(e.d.launches, opts)
	e.d.mu.Unlock()
	return &Browser{d: e.d}, nil
}

func (e *Engine) Stop(ctx context.Context) error { return e.d.step(ctx, StepStop, true) }

// Browser is a fake browser process.
type Browser struct{ d *Driver }

func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	if err := b.d.step(ctx, StepNewContext, false); err != nil {
		return nil, err
	}
	return &Context{d: b.d, timeout: opts.DefaultTimeout}, nil
}

func (b *Browser) Version() string { return b.d.cfg.Version }

func (b *Browser) Close(ctx context.Context) error { return b.d.step(ctx, StepCloseBrowser, true) }

// Context is a fake browsing context.
type Context struct {
	d       *Driver
	timeout time.Duration

	mu    sync.Mutex
	pages []browser.Page
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	if err := c.d.step(ctx, StepNewPage, false); err != nil {
		return nil, err
	}
	p := newPage(c.d)
	c.mu.Lock()
	c.pages = append(c.pages, p)
	c.mu.Unlock()
	return p, nil
}

func (c *Context) Pages() []browser.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pages)
}

func (c *Context) DefaultTimeout() time.Duration { return c.timeout }

func (c *Context) Close(ctx context.Context) error {
	return c.d.step(ctx, StepCloseContext, true)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func timeoutError(what string, timeout time.Duration) error {
	return fmt.Errorf("%w: %s exceeded %s", browser.ErrTimeout, what, timeout)
}
