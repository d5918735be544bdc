package fakebrowser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

const notFoundDoc = `<!doctype html><html><head><title>Not Found</title></head><body><h1>404 Not Found</h1></body></html>`

// Page is a fake tab holding a parsed document.
type Page struct {
	d *Driver

	mu       sync.Mutex
	doc      *html.Node
	url      *url.URL
	gen      uint64
	loadedAt time.Time
	closed   bool
	storage  map[string]string
}

var _ browser.Page = (*Page)(nil)

func newPage(d *Driver) *Page {
	doc, _ := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
	u, _ := url.Parse("about:blank")
	return &Page{d: d, doc: doc, url: u, storage: make(map[string]string)}
}

func (p *Page) Goto(ctx context.Context, rawURL string, opts browser.GotoOptions) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", browser.ErrNavigationFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: page is closed", browser.ErrNavigationFailed)
	}

	p.d.record(fmt.Sprintf("goto %s %s", u.Path, opts.WaitUntil))
	if err, ok := p.d.cfg.NavigationErrors[u.Path]; ok && err != nil {
		return err
	}

	src := notFoundDoc
	visit := p.d.nextVisit(u.Path)
	if route, ok := p.d.cfg.Routes[u.Path]; ok {
		src = route(visit)
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("%w: %v", browser.ErrNavigationFailed, err)
	}

	p.mu.Lock()
	p.doc = doc
	p.url = u
	p.gen++
	p.loadedAt = time.Now().Add(p.d.cfg.LoadDelay)
	p.mu.Unlock()

	switch opts.WaitUntil {
	case browser.WaitLoad, browser.WaitDOMContentLoaded:
		return p.WaitForLoadState(ctx, browser.LoadStateLoad, opts.Timeout)
	}
	return nil
}

// Loaded reports whether the current document has reached its load state.
func (p *Page) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !time.Now().Before(p.loadedAt)
}

func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	p.mu.Lock()
	until := p.loadedAt
	p.mu.Unlock()
	return waitUntil(ctx, until, fmt.Sprintf("page %s", state), timeout)
}

func waitUntil(ctx context.Context, until time.Time, what string, timeout time.Duration) error {
	remaining := time.Until(until)
	if remaining <= 0 {
		return ctx.Err()
	}
	if timeout > 0 && remaining > timeout {
		if err := sleep(ctx, timeout); err != nil {
			return err
		}
		return timeoutError(what, timeout)
	}
	return sleep(ctx, remaining)
}

// Frames returns the main frame followed by one frame per iframe element.
func (p *Page) Frames() []browser.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := []browser.Frame{&Frame{page: p, main: true, url: p.url.String(), gen: p.gen}}
	for _, n := range findAll(p.doc, func(n *html.Node) bool { return isElement(n, "iframe") }) {
		src := attr(n, "src")
		if ref, err := p.url.Parse(src); err == nil {
			src = ref.String()
		}
		frames = append(frames, &Frame{page: p, name: attr(n, "name"), url: src, gen: p.gen})
	}
	return frames
}

func (p *Page) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

func (p *Page) Locator(sel browser.Selector) browser.Locator {
	return &Locator{page: p, sel: sel, nth: -1}
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.String()
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.d.record("evaluate")
	if p.d.cfg.Evaluate == nil {
		return nil, nil
	}
	return p.d.cfg.Evaluate(p, script)
}

func (p *Page) Close(ctx context.Context) error {
	err := p.d.step(ctx, StepClosePage, true)
	if err == nil {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	}
	return err
}

// Render replaces the document in place, the way a client-side re-render does.
// The generation is unchanged.
func (p *Page) Render(doc string) error {
	n, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.doc = n
	p.mu.Unlock()
	return nil
}

// PushState performs a same-document navigation to path and renders doc. Like a
// real main-frame navigation it advances the generation.
func (p *Page) PushState(path, doc string) error {
	n, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return err
	}
	p.d.record("pushstate " + path)
	p.mu.Lock()
	defer p.mu.Unlock()
	ref, err := p.url.Parse(path)
	if err != nil {
		return err
	}
	p.doc = n
	p.url = ref
	p.gen++
	return nil
}

// Value returns the current value of the control whose id or name is key.
func (p *Page) Value(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range findAll(p.doc, isFormControl) {
		if attr(n, "id") == key || attr(n, "name") == key {
			return attr(n, "value")
		}
	}
	return ""
}

// SetLocalStorage stores a value readable through LocalStorage.
func (p *Page) SetLocalStorage(key, value string) {
	p.mu.Lock()
	p.storage[key] = value
	p.mu.Unlock()
}

// LocalStorage returns a stored value, or "" when unset.
func (p *Page) LocalStorage(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storage[key]
}

// Frame is a fake frame reference bound to the generation it was enumerated in.
type Frame struct {
	page *Page
	name string
	url  string
	main bool
	gen  uint64
}

func (f *Frame) Name() string { return f.name }
func (f *Frame) URL() string  { return f.url }
func (f *Frame) IsMain() bool { return f.main }

func (f *Frame) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	f.page.mu.Lock()
	until := f.page.loadedAt
	stale := f.page.gen != f.gen
	f.page.mu.Unlock()
	if stale {
		return fmt.Errorf("frame %q was detached", f.name)
	}
	if !f.main {
		until = until.Add(f.page.d.cfg.FrameLoadDelay[f.name])
	}
	return waitUntil(ctx, until, fmt.Sprintf("frame %q %s", f.name, state), timeout)
}
