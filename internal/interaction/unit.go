// internal/interaction/unit.go
package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/config"
)

// DefaultPollInterval paces actionability and presence polling.
const DefaultPollInterval = 100 * time.Millisecond

// fallbackTimeout applies when a context carries no default timeout.
const fallbackTimeout = 30 * time.Second

// Chain is an ordered list of strategies for addressing one element. The first
// strategy that matches anything wins.
type Chain []browser.Selector

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, s := range c {
		parts[i] = s.String()
	}
	return strings.Join(parts, " | ")
}

// Options controls interaction pacing.
type Options struct {
	// PreFillDelay is a fixed pause before every fill, on top of the actionability wait.
	PreFillDelay time.Duration
	PollInterval time.Duration
}

// OptionsFromConfig derives interaction options from the run configuration.
func OptionsFromConfig(cfg config.InteractionConfig) Options {
	return Options{PreFillDelay: cfg.PreFillDelay, PollInterval: cfg.PollInterval}
}

// Unit locates elements and acts on them. Element lookups are never cached; every
// call resolves against the live document.
type Unit struct {
	opts   Options
	logger *zap.Logger
}

func NewUnit(opts Options, logger *zap.Logger) *Unit {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Unit{opts: opts, logger: logger.Named("interaction")}
}

// CurrentPage returns the most recently opened page of bctx.
func CurrentPage(bctx browser.Context) (browser.Page, error) {
	pages := bctx.Pages()
	if len(pages) == 0 {
		return nil, errors.New("browsing context has no open page")
	}
	return pages[len(pages)-1], nil
}

// Locate resolves chain against the context's current page and narrows it to the
// index-th match of the first strategy that matches more than index elements.
// Nothing is retried: no match is an ErrElementNotFound.
func (u *Unit) Locate(ctx context.Context, bctx browser.Context, chain Chain, index int) (browser.Locator, error) {
	page, err := CurrentPage(bctx)
	if err != nil {
		return nil, err
	}
	for _, sel := range chain {
		loc := page.Locator(sel)
		n, err := loc.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", sel, err)
		}
		if n > index {
			u.logger.Debug("Element located.", zap.Stringer("strategy", sel), zap.Int("matches", n), zap.Int("index", index))
			return loc.Nth(index), nil
		}
	}
	return nil, fmt.Errorf("%w: no match for [%s] at index %d", browser.ErrElementNotFound, chain, index)
}

// WaitPresent polls until some strategy of chain matches or timeout elapses.
// Running out of time reports false without an error.
func (u *Unit) WaitPresent(ctx context.Context, page browser.Page, chain Chain, timeout time.Duration) (bool, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	limiter := u.limiter()
	for limiter.Wait(wctx) == nil {
		for _, sel := range chain {
			n, err := page.Locator(sel).Count(wctx)
			if err != nil {
				if wctx.Err() != nil {
					break
				}
				return false, err
			}
			if n > 0 {
				return true, nil
			}
		}
	}
	<-wctx.Done()
	return false, ctx.Err()
}

// Fill waits for loc to become editable, bounded by the context's default
// timeout, then replaces its value.
func (u *Unit) Fill(ctx context.Context, bctx browser.Context, loc browser.Locator, value string) error {
	if err := sleep(ctx, u.opts.PreFillDelay); err != nil {
		return err
	}
	timeout := actionTimeout(bctx)
	start := time.Now()
	if err := u.waitActionable(ctx, loc, browser.ActionFill, timeout); err != nil {
		return err
	}
	if err := loc.Fill(ctx, value, remaining(timeout, start)); err != nil {
		return interactionFailed(ctx, "fill", loc, err)
	}
	return nil
}

// Click waits for loc to become clickable, bounded by the context's default
// timeout, then clicks it.
func (u *Unit) Click(ctx context.Context, bctx browser.Context, loc browser.Locator) error {
	timeout := actionTimeout(bctx)
	start := time.Now()
	if err := u.waitActionable(ctx, loc, browser.ActionClick, timeout); err != nil {
		return err
	}
	if err := loc.Click(ctx, remaining(timeout, start)); err != nil {
		return interactionFailed(ctx, "click", loc, err)
	}
	return nil
}

func actionTimeout(bctx browser.Context) time.Duration {
	if d := bctx.DefaultTimeout(); d > 0 {
		return d
	}
	return fallbackTimeout
}

func (u *Unit) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(u.opts.PollInterval), 1)
}

func (u *Unit) waitActionable(ctx context.Context, loc browser.Locator, action browser.Action, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	limiter := u.limiter()
	checks := 0
	for limiter.Wait(wctx) == nil {
		checks++
		ok, err := loc.Actionable(wctx, action)
		if err != nil {
			if wctx.Err() != nil {
				break
			}
			return interactionFailed(ctx, string(action), loc, err)
		}
		if ok {
			if checks > 1 {
				u.logger.Debug("Element became actionable.", zap.Stringer("locator", loc), zap.Int("checks", checks))
			}
			return nil
		}
	}
	// The limiter gives up once the next tick would pass the deadline.
	<-wctx.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s was not ready to %s within %s", browser.ErrNotInteractable, loc, action, timeout)
}

// interactionFailed classifies a failed action as fatal unless the run itself was cancelled.
func interactionFailed(ctx context.Context, action string, loc browser.Locator, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, browser.ErrNotInteractable) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", browser.ErrNotInteractable, action, loc, err)
}

// remaining is what is left of timeout since start, never less than a millisecond
// so a backend does not read it as "no timeout".
func remaining(timeout time.Duration, start time.Time) time.Duration {
	return max(timeout-time.Since(start), time.Millisecond)
}

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
