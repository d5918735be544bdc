// internal/browser/cdpengine/page.go
package cdpengine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

//go:embed resolver.js
var resolverJS string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// pollInterval paces readiness and actionability polling.
const pollInterval = 50 * time.Millisecond

const contentScript = `(document.doctype ? new XMLSerializer().serializeToString(document.doctype) : "") + document.documentElement.outerHTML`

// Page is one DevTools target. Frames are tracked from page events because the
// frame tree is only reachable through a round trip.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	gen    atomic.Uint64

	mu       sync.Mutex
	main     *cdp.Frame
	children []*cdp.Frame
}

var _ browser.Page = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc) *Page {
	p := &Page{ctx: ctx, cancel: cancel}
	chromedp.ListenTarget(ctx, p.onEvent)
	return p
}

func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		p.mu.Lock()
		if e.Frame.ParentID == "" {
			p.main = e.Frame
			p.children = nil
			p.mu.Unlock()
			p.gen.Add(1)
			return
		}
		replaced := false
		for i, f := range p.children {
			if f.ID == e.Frame.ID {
				p.children[i] = e.Frame
				replaced = true
			}
		}
		if !replaced {
			p.children = append(p.children, e.Frame)
		}
		p.mu.Unlock()
	case *page.EventNavigatedWithinDocument:
		p.mu.Lock()
		isMain := p.main != nil && p.main.ID == e.FrameID
		if isMain {
			updated := *p.main
			updated.URL = e.URL
			p.main = &updated
		}
		p.mu.Unlock()
		if isMain {
			p.gen.Add(1)
		}
	case *page.EventFrameDetached:
		p.mu.Lock()
		for i, f := range p.children {
			if f.ID == e.FrameID {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
	}
}

func (p *Page) Goto(ctx context.Context, url string, opts browser.GotoOptions) error {
	nctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	var res page.NavigateReturns
	err := run(nctx, p.ctx, chromedp.ActionFunc(func(c context.Context) error {
		return cdp.Execute(c, page.CommandNavigate, page.Navigate(url), &res)
	}))
	if err == nil && res.ErrorText != "" {
		err = errors.New(res.ErrorText)
	}
	if err == nil && opts.WaitUntil != browser.WaitCommit {
		state := browser.LoadStateLoad
		if opts.WaitUntil == browser.WaitDOMContentLoaded {
			state = browser.LoadStateDOMContentLoaded
		}
		err = p.WaitForLoadState(nctx, state, 0)
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigationFailed, url, timedOut(ctx, err, "goto "+url, opts.Timeout))
	}
	return err
}

// readyStateReached reports whether document.readyState satisfies state.
func readyStateReached(state browser.LoadState, readyState string) bool {
	if state == browser.LoadStateLoad {
		return readyState == "complete"
	}
	return readyState == "interactive" || readyState == "complete"
}

func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	return p.pollReadyState(ctx, state, timeout, "page "+string(state), func(c context.Context) (string, error) {
		var rs string
		err := run(c, p.ctx, chromedp.Evaluate("document.readyState", &rs))
		return rs, err
	})
}

func (p *Page) pollReadyState(ctx context.Context, state browser.LoadState, timeout time.Duration, what string, read func(context.Context) (string, error)) error {
	wctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		// Reads fail while a navigation swaps documents; keep polling.
		rs, err := read(wctx)
		if err == nil && readyStateReached(state, rs) {
			return nil
		}
		var detached *detachedError
		if errors.As(err, &detached) {
			return err
		}
		select {
		case <-wctx.Done():
			return timedOut(ctx, wctx.Err(), what, timeout)
		case <-ticker.C:
		}
	}
}

func (p *Page) Frames() []browser.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	gen := p.gen.Load()
	var out []browser.Frame
	if p.main != nil {
		out = append(out, &Frame{p: p, f: p.main, main: true, gen: gen})
	}
	for _, f := range p.children {
		out = append(out, &Frame{p: p, f: f, gen: gen})
	}
	return out
}

func (p *Page) Generation() uint64 { return p.gen.Load() }

func (p *Page) Locator(sel browser.Selector) browser.Locator {
	return &Locator{p: p, sel: sel, nth: -1}
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.main == nil {
		return "about:blank"
	}
	return p.main.URL + p.main.URLFragment
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var content string
	err := run(ctx, p.ctx, chromedp.Evaluate(contentScript, &content))
	return content, err
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	var v any
	err := run(ctx, p.ctx, chromedp.Evaluate(script, &v, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	return v, err
}

func (p *Page) Close(ctx context.Context) error {
	err := await(ctx, func() error { return chromedp.Cancel(p.ctx) }, p.cancel)
	p.cancel()
	return err
}

type detachedError struct{ frame string }

func (e *detachedError) Error() string { return fmt.Sprintf("frame %q was detached", e.frame) }

// Frame is a frame reference bound to the generation it was enumerated in.
type Frame struct {
	p    *Page
	f    *cdp.Frame
	main bool
	gen  uint64
}

func (f *Frame) Name() string { return f.f.Name }
func (f *Frame) URL() string  { return f.f.URL }
func (f *Frame) IsMain() bool { return f.main }

func (f *Frame) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	what := fmt.Sprintf("frame %q %s", f.f.Name, state)
	return f.p.pollReadyState(ctx, state, timeout, what, func(c context.Context) (string, error) {
		if f.p.gen.Load() != f.gen {
			return "", &detachedError{frame: f.f.Name}
		}
		var rs string
		err := run(c, f.p.ctx, chromedp.ActionFunc(func(cc context.Context) error {
			world, err := page.CreateIsolatedWorld(f.f.ID).WithWorldName("signupguard").Do(cc)
			if err != nil {
				return err
			}
			res, exc, err := runtime.Evaluate("document.readyState").WithContextID(world).WithReturnByValue(true).Do(cc)
			if err != nil {
				return err
			}
			if exc != nil {
				return exc
			}
			return json.Unmarshal(res.Value, &rs)
		}))
		return rs, err
	})
}

// Locator resolves through the embedded resolver script on every call.
type Locator struct {
	p   *Page
	sel browser.Selector
	nth int
}

type selectorArg struct {
	Kind  browser.SelectorKind `json:"kind"`
	Value string               `json:"value"`
	Name  string               `json:"name,omitempty"`
}

type probeResult struct {
	Count    int     `json:"count"`
	Found    bool    `json:"found"`
	Visible  bool    `json:"visible"`
	Enabled  bool    `json:"enabled"`
	Editable bool    `json:"editable"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

func (l *Locator) Nth(index int) browser.Locator {
	return &Locator{p: l.p, sel: l.sel, nth: index}
}

func (l *Locator) String() string {
	if l.nth >= 0 {
		return fmt.Sprintf("%s >> nth=%d", l.sel, l.nth)
	}
	return l.sel.String()
}

func (l *Locator) probe(ctx context.Context, op string) (probeResult, error) {
	arg, err := json.Marshal(selectorArg{Kind: l.sel.Kind, Value: l.sel.Value, Name: l.sel.Name})
	if err != nil {
		return probeResult{}, err
	}
	var res probeResult
	expr := fmt.Sprintf("(%s)(%s, %d, %q)", resolverJS, arg, l.nth, op)
	err = run(ctx, l.p.ctx, chromedp.Evaluate(expr, &res))
	return res, err
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	res, err := l.probe(ctx, "count")
	return res.Count, err
}

func (l *Locator) Actionable(ctx context.Context, action browser.Action) (bool, error) {
	res, err := l.probe(ctx, "state")
	if err != nil {
		return false, err
	}
	ok := res.Found && res.Visible && res.Enabled
	if action == browser.ActionFill {
		ok = ok && res.Editable
	}
	return ok, nil
}

// waitActionable polls until the element can take action or ctx ends.
func (l *Locator) waitActionable(ctx context.Context, action browser.Action) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.Actionable(ctx, action)
		if err != nil || ok {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	fctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	err := l.waitActionable(fctx, browser.ActionFill)
	if err == nil {
		if _, err = l.probe(fctx, "focus"); err == nil {
			var typing chromedp.Action = input.InsertText(value)
			if value == "" {
				typing = input.DispatchKeyEvent(input.KeyDown).WithKey("Backspace").WithWindowsVirtualKeyCode(8)
			}
			err = run(fctx, l.p.ctx, typing)
		}
	}
	return timedOut(ctx, err, "fill "+l.String(), timeout)
}

func (l *Locator) Click(ctx context.Context, timeout time.Duration) error {
	cctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	err := l.waitActionable(cctx, browser.ActionClick)
	if err == nil {
		var box probeResult
		if box, err = l.probe(cctx, "box"); err == nil {
			err = run(cctx, l.p.ctx,
				input.DispatchMouseEvent(input.MouseMoved, box.X, box.Y),
				input.DispatchMouseEvent(input.MousePressed, box.X, box.Y).WithButton(input.Left).WithClickCount(1),
				input.DispatchMouseEvent(input.MouseReleased, box.X, box.Y).WithButton(input.Left).WithClickCount(1),
			)
		}
	}
	return timedOut(ctx, err, "click "+l.String(), timeout)
}
