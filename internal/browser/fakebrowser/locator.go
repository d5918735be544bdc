package fakebrowser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

// Locator resolves against the page's current document on every call.
type Locator struct {
	page *Page
	sel  browser.Selector
	nth  int
}

var _ browser.Locator = (*Locator)(nil)

func (l *Locator) Nth(index int) browser.Locator {
	return &Locator{page: l.page, sel: l.sel, nth: index}
}

func (l *Locator) String() string {
	if l.nth >= 0 {
		return fmt.Sprintf("%s >> nth=%d", l.sel, l.nth)
	}
	return l.sel.String()
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	nodes, err := l.resolve(ctx)
	return len(nodes), err
}

func (l *Locator) Actionable(ctx context.Context, action browser.Action) (bool, error) {
	n, err := l.single(ctx)
	if err != nil || n == nil {
		return false, err
	}
	if !l.page.d.checkActionable() {
		return false, nil
	}
	if action == browser.ActionFill {
		return actionable(n), nil
	}
	return !hidden(n) && !hasAttr(n, "disabled"), nil
}

func (l *Locator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	n, err := l.single(ctx)
	if err != nil {
		return err
	}
	if n == nil || !actionable(n) {
		return timeoutError("fill "+l.String(), timeout)
	}
	l.page.mu.Lock()
	setAttr(n, "value", value)
	l.page.mu.Unlock()
	l.page.d.record(fmt.Sprintf("fill %s %s", l, value))
	return nil
}

func (l *Locator) Click(ctx context.Context, timeout time.Duration) error {
	n, err := l.single(ctx)
	if err != nil {
		return err
	}
	if n == nil || hasAttr(n, "disabled") || hidden(n) {
		return timeoutError("click "+l.String(), timeout)
	}
	l.page.d.record("click " + l.String())
	if hook := l.page.d.cfg.OnClick; hook != nil {
		return hook(l.page, &Element{node: n})
	}
	return nil
}

// single resolves to at most one element. More than one match is an error, like a
// strict-mode locator.
func (l *Locator) single(ctx context.Context) (*html.Node, error) {
	nodes, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return nil, nil
	case 1:
		return nodes[0], nil
	}
	return nil, fmt.Errorf("strict mode violation: %s resolved to %d elements", l, len(nodes))
}

func (l *Locator) resolve(ctx context.Context) ([]*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()

	nodes, err := query(l.page.doc, l.sel)
	if err != nil {
		return nil, err
	}
	if l.nth >= 0 {
		if l.nth >= len(nodes) {
			return nil, nil
		}
		return nodes[l.nth : l.nth+1], nil
	}
	return nodes, nil
}

func query(doc *html.Node, sel browser.Selector) ([]*html.Node, error) {
	switch sel.Kind {
	case browser.SelectorCSS:
		var nodes []*html.Node
		goquery.NewDocumentFromNode(doc).Find(sel.Value).Each(func(_ int, s *goquery.Selection) {
			nodes = append(nodes, s.Nodes...)
		})
		return nodes, nil
	case browser.SelectorXPath:
		nodes, err := htmlquery.QueryAll(doc, sel.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", sel.Value, err)
		}
		return nodes, nil
	case browser.SelectorLabel:
		return byLabel(doc, sel.Value), nil
	case browser.SelectorPlaceholder:
		return findAll(doc, func(n *html.Node) bool {
			return isFormControl(n) && strings.TrimSpace(attr(n, "placeholder")) == sel.Value
		}), nil
	case browser.SelectorRole:
		return findAll(doc, func(n *html.Node) bool {
			return hasRole(n, sel.Value) && (sel.Name == "" || accessibleName(doc, n) == sel.Name)
		}), nil
	}
	return nil, fmt.Errorf("unsupported selector kind %q", sel.Kind)
}

// Element is a handle to a node passed to OnClick hooks.
type Element struct{ node *html.Node }

func (e *Element) Tag() string             { return e.node.Data }
func (e *Element) Attr(name string) string { return attr(e.node, name) }
func (e *Element) Text() string            { return textContent(e.node) }

// InForm reports whether the element sits inside a form element.
func (e *Element) InForm() bool {
	for n := e.node.Parent; n != nil; n = n.Parent {
		if isElement(n, "form") {
			return true
		}
	}
	return false
}
