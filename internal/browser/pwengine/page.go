// internal/browser/pwengine/page.go
package pwengine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

// Page wraps a Playwright page and counts main-frame navigations.
type Page struct {
	p   playwright.Page
	gen atomic.Uint64
}

var _ browser.Page = (*Page)(nil)

func newPage(p playwright.Page) *Page {
	page := &Page{p: p}
	p.OnFrameNavigated(func(f playwright.Frame) {
		if f.ParentFrame() == nil {
			page.gen.Add(1)
		}
	})
	return page
}

func millis(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func waitUntilState(m browser.WaitMode) *playwright.WaitUntilState {
	switch m {
	case browser.WaitLoad:
		return playwright.WaitUntilStateLoad
	case browser.WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	}
	return playwright.WaitUntilStateCommit
}

func loadState(s browser.LoadState) *playwright.LoadState {
	if s == browser.LoadStateLoad {
		return playwright.LoadStateLoad
	}
	return playwright.LoadStateDomcontentloaded
}

func (p *Page) Goto(ctx context.Context, url string, opts browser.GotoOptions) error {
	err := call(ctx, func() error {
		_, err := p.p.Goto(url, playwright.PageGotoOptions{
			WaitUntil: waitUntilState(opts.WaitUntil),
			Timeout:   millis(opts.Timeout),
		})
		return err
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigationFailed, url, translate(err))
	}
	return err
}

func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	return translate(call(ctx, func() error {
		return p.p.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   loadState(state),
			Timeout: millis(timeout),
		})
	}))
}

func (p *Page) Frames() []browser.Frame {
	frames := p.p.Frames()
	out := make([]browser.Frame, 0, len(frames))
	for _, f := range frames {
		out = append(out, &Frame{f: f})
	}
	return out
}

func (p *Page) Generation() uint64 { return p.gen.Load() }

func (p *Page) Locator(sel browser.Selector) browser.Locator {
	var loc playwright.Locator
	switch sel.Kind {
	case browser.SelectorXPath:
		loc = p.p.Locator("xpath=" + sel.Value)
	case browser.SelectorLabel:
		loc = p.p.GetByLabel(sel.Value, playwright.PageGetByLabelOptions{Exact: playwright.Bool(true)})
	case browser.SelectorPlaceholder:
		loc = p.p.GetByPlaceholder(sel.Value, playwright.PageGetByPlaceholderOptions{Exact: playwright.Bool(true)})
	case browser.SelectorRole:
		opts := playwright.PageGetByRoleOptions{}
		if sel.Name != "" {
			opts.Name = sel.Name
			opts.Exact = playwright.Bool(true)
		}
		loc = p.p.GetByRole(playwright.AriaRole(sel.Value), opts)
	default:
		loc = p.p.Locator("css=" + sel.Value)
	}
	return &Locator{loc: loc, desc: sel.String()}
}

func (p *Page) URL() string { return p.p.URL() }

func (p *Page) Content(ctx context.Context) (string, error) {
	content, err := callValue(ctx, p.p.Content, nil)
	return content, translate(err)
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	v, err := callValue(ctx, func() (any, error) { return p.p.Evaluate(script) }, nil)
	return v, translate(err)
}

func (p *Page) Close(ctx context.Context) error {
	return call(ctx, func() error { return p.p.Close() })
}

// Frame wraps a Playwright frame.
type Frame struct{ f playwright.Frame }

func (f *Frame) Name() string { return f.f.Name() }
func (f *Frame) URL() string  { return f.f.URL() }
func (f *Frame) IsMain() bool { return f.f.ParentFrame() == nil }

func (f *Frame) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	return translate(call(ctx, func() error {
		return f.f.WaitForLoadState(playwright.FrameWaitForLoadStateOptions{
			State:   loadState(state),
			Timeout: millis(timeout),
		})
	}))
}

// Locator wraps a Playwright locator.
type Locator struct {
	loc  playwright.Locator
	desc string
}

func (l *Locator) Nth(index int) browser.Locator {
	return &Locator{loc: l.loc.Nth(index), desc: fmt.Sprintf("%s >> nth=%d", l.desc, index)}
}

func (l *Locator) String() string { return l.desc }

func (l *Locator) Count(ctx context.Context) (int, error) {
	n, err := callValue(ctx, l.loc.Count, nil)
	return n, translate(err)
}

// probeTimeout bounds the enabled and editable probes once an element is visible.
const probeTimeout = time.Second

func (l *Locator) Actionable(ctx context.Context, action browser.Action) (bool, error) {
	ok, err := callValue(ctx, func() (bool, error) {
		// IsVisible never waits, so a missing element reports false immediately.
		visible, err := l.loc.IsVisible()
		if err != nil || !visible {
			return false, err
		}
		enabled, err := l.loc.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: millis(probeTimeout)})
		if err != nil || !enabled {
			return false, err
		}
		if action != browser.ActionFill {
			return true, nil
		}
		return l.loc.IsEditable(playwright.LocatorIsEditableOptions{Timeout: millis(probeTimeout)})
	}, nil)
	err = translate(err)
	if err != nil && ctx.Err() == nil && browser.IsTimeout(err) {
		// The element detached between probes; report it as not yet actionable.
		return false, nil
	}
	return ok, err
}

func (l *Locator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	return translate(call(ctx, func() error {
		return l.loc.Fill(value, playwright.LocatorFillOptions{Timeout: millis(timeout)})
	}))
}

func (l *Locator) Click(ctx context.Context, timeout time.Duration) error {
	return translate(call(ctx, func() error {
		return l.loc.Click(playwright.LocatorClickOptions{Timeout: millis(timeout)})
	}))
}
