// internal/navigation/controller.go
package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/config"
	"github.com/xkilldash9x/signupguard/internal/observability"
)

// Options controls navigation and the re-navigation loop.
type Options struct {
	WaitUntil        browser.WaitMode
	CommitTimeout    time.Duration
	StabilizeState   browser.LoadState
	StabilizeTimeout time.Duration
	// MaxAttempts bounds how many times Reach navigates to the target route.
	MaxAttempts int
	// ParentRoute is visited before every retry of the target route.
	ParentRoute string
}

// OptionsFromConfig derives controller options from the run configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	wait, err := browser.ParseWaitMode(cfg.Navigation.WaitUntil)
	if err != nil {
		return Options{}, err
	}
	state, err := browser.ParseLoadState(cfg.Navigation.StabilizeState)
	if err != nil {
		return Options{}, err
	}
	return Options{
		WaitUntil:        wait,
		CommitTimeout:    cfg.Timeouts.NavigationCommit,
		StabilizeState:   state,
		StabilizeTimeout: cfg.Timeouts.Stabilize,
		MaxAttempts:      cfg.Navigation.MaxAttempts,
		ParentRoute:      cfg.Scenario.ParentRoute,
	}, nil
}

// Outcome records one committed (or failed) navigation.
type Outcome struct {
	URL       string           `json:"url"`
	WaitUntil browser.WaitMode `json:"wait_until"`
	Attempt   int              `json:"attempt,omitempty"`
	Elapsed   time.Duration    `json:"elapsed"`
	Error     string           `json:"error,omitempty"`
}

// Probe reports whether a route has become usable, typically by polling for the
// element the next step interacts with.
type Probe func(ctx context.Context) (bool, error)

// ReachResult is everything Reach did to get a route ready.
type ReachResult struct {
	Route          string                     `json:"route"`
	Attempts       int                        `json:"attempts"`
	Ready          bool                       `json:"ready"`
	Navigations    []Outcome                  `json:"navigations"`
	Stabilizations []browser.StabilizeOutcome `json:"stabilizations"`
}

// Controller drives a page to routes of one application.
type Controller struct {
	base   *url.URL
	opts   Options
	logger *zap.Logger
}

// NewController creates a controller for the application at baseURL.
func NewController(baseURL string, opts Options, logger *zap.Logger) (*Controller, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if opts.WaitUntil == "" {
		opts.WaitUntil = browser.WaitCommit
	}
	if opts.StabilizeState == "" {
		opts.StabilizeState = browser.LoadStateDOMContentLoaded
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Controller{base: base, opts: opts, logger: logger.Named("navigation")}, nil
}

// BaseURL is the application root routes resolve against.
func (c *Controller) BaseURL() string { return c.base.String() }

// Resolve turns a route into an absolute URL on the application.
func (c *Controller) Resolve(route string) (string, error) {
	ref, err := url.Parse(route)
	if err != nil {
		return "", fmt.Errorf("invalid route %q: %w", route, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

// Navigate issues one navigation and returns once the configured wait mode is
// reached, which by default is commit: the browser has accepted the navigation
// but the document may still be loading. A failure here is fatal.
func (c *Controller) Navigate(ctx context.Context, page browser.Page, target string, commitTimeout time.Duration) (Outcome, error) {
	ctx, span := observability.StartSpan(ctx, "navigation.navigate", observability.AttrRoute.String(target))
	start := time.Now()
	err := page.Goto(ctx, target, browser.GotoOptions{WaitUntil: c.opts.WaitUntil, Timeout: commitTimeout})
	out := Outcome{URL: target, WaitUntil: c.opts.WaitUntil, Elapsed: time.Since(start)}
	observability.EndSpan(span, err)
	if err != nil {
		out.Error = err.Error()
		if ctx.Err() == nil && !errors.Is(err, browser.ErrNavigationFailed) {
			err = fmt.Errorf("%w: %s: %w", browser.ErrNavigationFailed, target, err)
		}
		c.logger.Error("Navigation failed.", zap.String("url", target), zap.Error(err))
		return out, err
	}
	c.logger.Debug("Navigation committed.", zap.String("url", target), zap.Duration("elapsed", out.Elapsed))
	return out, nil
}

// AwaitStable waits for target to reach state. Running out of time, or any other
// failure of the wait itself, yields a TimedOutNonFatal outcome and no error; the
// only error returned is the cancellation of ctx.
func (c *Controller) AwaitStable(ctx context.Context, target browser.Waitable, state browser.LoadState, timeout time.Duration) (browser.StabilizeOutcome, error) {
	start := time.Now()
	err := target.WaitForLoadState(ctx, state, timeout)
	out := browser.StabilizeOutcome{Target: target.URL(), State: state, Result: browser.Stabilized, Elapsed: time.Since(start)}
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	out.Result = browser.TimedOutNonFatal
	out.Err = fmt.Errorf("%w: %s: %w", browser.ErrStabilizeTimeout, state, err)
	c.logger.Debug("Stabilization did not complete; continuing.",
		zap.String("target", out.Target), zap.String("state", string(state)), zap.Error(err))
	return out, nil
}

// Stabilize is AwaitStable with the controller's configured state and timeout.
func (c *Controller) Stabilize(ctx context.Context, target browser.Waitable) (browser.StabilizeOutcome, error) {
	return c.AwaitStable(ctx, target, c.opts.StabilizeState, c.opts.StabilizeTimeout)
}

// Visit navigates to route and then stabilizes the page.
func (c *Controller) Visit(ctx context.Context, page browser.Page, route string) (Outcome, browser.StabilizeOutcome, error) {
	target, err := c.Resolve(route)
	if err != nil {
		return Outcome{URL: route}, browser.StabilizeOutcome{}, err
	}
	nav, err := c.Navigate(ctx, page, target, c.opts.CommitTimeout)
	if err != nil {
		return nav, browser.StabilizeOutcome{}, err
	}
	stab, err := c.Stabilize(ctx, page)
	return nav, stab, err
}

// Reach navigates to route until probe reports it ready. SPA hydration can leave a
// freshly loaded route empty, so every retry round-trips through the parent route
// first. The loop is bounded by MaxAttempts and by ctx.
func (c *Controller) Reach(ctx context.Context, page browser.Page, route string, probe Probe) (*ReachResult, error) {
	res := &ReachResult{Route: route}
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		res.Attempts = attempt
		actx, span := observability.StartSpan(ctx, "navigation.reach",
			observability.AttrRoute.String(route), observability.AttrAttempt.Int(attempt))

		ready, err := c.attempt(actx, page, route, attempt, res, probe)
		observability.EndSpan(span, err)
		if err != nil {
			return res, err
		}
		if ready {
			res.Ready = true
			c.logger.Debug("Route ready.", zap.String("route", route), zap.Int("attempt", attempt))
			return res, nil
		}
		c.logger.Warn("Route not ready; re-navigating.",
			zap.String("route", route), zap.Int("attempt", attempt), zap.Int("max_attempts", c.opts.MaxAttempts))
	}
	return res, fmt.Errorf("%w: %s after %d attempts", browser.ErrRouteNotReady, route, res.Attempts)
}

func (c *Controller) attempt(ctx context.Context, page browser.Page, route string, attempt int, res *ReachResult, probe Probe) (bool, error) {
	routes := []string{route}
	if attempt > 1 && c.opts.ParentRoute != "" && c.opts.ParentRoute != route {
		routes = []string{c.opts.ParentRoute, route}
	}
	for _, r := range routes {
		nav, stab, err := c.Visit(ctx, page, r)
		nav.Attempt = attempt
		res.Navigations = append(res.Navigations, nav)
		if err != nil {
			return false, err
		}
		res.Stabilizations = append(res.Stabilizations, stab)
	}
	if probe == nil {
		return true, nil
	}
	return probe(ctx)
}
