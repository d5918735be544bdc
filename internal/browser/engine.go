// internal/browser/engine.go
package browser

import (
	"context"
	"time"
)

// Driver starts the automation engine. It is the root of the resource tree;
// everything a run acquires hangs off the Engine it returns.
type Driver interface {
	// Name identifies the backend ("playwright", "chromedp").
	Name() string
	// Start brings up the automation engine session.
	Start(ctx context.Context) (Engine, error)
}

// Engine is the automation engine's active session. Exactly one exists per run
// and it is released last.
type Engine interface {
	// Launch spawns a browser process configured with opts.
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	// Stop tears the engine down. Browsers launched from it must already be closed.
	Stop(ctx context.Context) error
}

// Browser is one launched browser process, owned by the Engine that launched it.
type Browser interface {
	// NewContext creates an isolated browsing profile.
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	// Version reports the browser build, best effort.
	Version() string
	Close(ctx context.Context) error
}

// ContextOptions configures a new browsing context.
type ContextOptions struct {
	// DefaultTimeout applies to every interaction issued through the context.
	DefaultTimeout time.Duration
	ViewportWidth  int
	ViewportHeight int
}

// Context is an isolated browsing profile scoped to one run.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	// Pages lists open pages in creation order.
	Pages() []Page
	// DefaultTimeout is the single timeout that governs waits issued through this context.
	DefaultTimeout() time.Duration
	Close(ctx context.Context) error
}

// GotoOptions controls a single navigation.
type GotoOptions struct {
	WaitUntil WaitMode
	Timeout   time.Duration
}

// Page is one browser tab. Navigation and frame enumeration happen against a Page.
type Page interface {
	// Goto navigates the main frame and returns once WaitUntil is reached.
	Goto(ctx context.Context, url string, opts GotoOptions) error
	// WaitForLoadState waits for the main document to reach state.
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
	// Frames returns the frames attached at call time, main frame first.
	Frames() []Frame
	// Generation increments on every main-frame navigation. Frame references
	// taken under one generation must not be used under another.
	Generation() uint64
	// Locator builds a lazy locator; nothing is resolved until it is used.
	Locator(sel Selector) Locator
	URL() string
	// Content returns the serialized document.
	Content(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression or function body in the main frame and
	// returns its JSON-compatible result.
	Evaluate(ctx context.Context, script string) (any, error)
	Close(ctx context.Context) error
}

// Waitable is anything whose document readiness can be awaited: a Page or a Frame.
type Waitable interface {
	URL() string
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
}

// Frame is a weak, non-owning reference to an embedded document. Frames are never
// closed directly; they disappear when their page navigates or closes.
type Frame interface {
	Name() string
	URL() string
	IsMain() bool
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
}

// Action is the interaction an actionability check is made for.
type Action string

const (
	ActionFill  Action = "fill"
	ActionClick Action = "click"
)

// Locator addresses zero or more elements and is re-resolved on every call.
type Locator interface {
	// Nth narrows the locator to the index-th match.
	Nth(index int) Locator
	Count(ctx context.Context) (int, error)
	// Actionable reports whether the element can take action right now: visible and
	// enabled, and for ActionFill also editable.
	Actionable(ctx context.Context, action Action) (bool, error)
	Fill(ctx context.Context, value string, timeout time.Duration) error
	Click(ctx context.Context, timeout time.Duration) error
	// String describes the locator for logs and reports.
	String() string
}
