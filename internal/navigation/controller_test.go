// internal/navigation/controller_test.go
package navigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/browser/fakebrowser"
	"github.com/xkilldash9x/signupguard/internal/config"
)

const (
	baseURL   = "http://linkwell.test"
	emptyDoc  = `<html><body><div id="root"></div></body></html>`
	formDoc   = `<html><body><div id="root"><form id="signup-form"><input id="email"></form></div></body></html>`
	parentDoc = `<html><body><div id="root"><a href="/signup">Sign up</a></div></body></html>`
)

func newPage(t *testing.T, cfg fakebrowser.Config) (*fakebrowser.Driver, *fakebrowser.Page) {
	t.Helper()
	d := fakebrowser.New(cfg)
	eng, err := d.Start(t.Context())
	require.NoError(t, err)
	b, err := eng.Launch(t.Context(), browser.LaunchOptions{})
	require.NoError(t, err)
	bctx, err := b.NewContext(t.Context(), browser.ContextOptions{DefaultTimeout: time.Second})
	require.NoError(t, err)
	p, err := bctx.NewPage(t.Context())
	require.NoError(t, err)
	return d, p.(*fakebrowser.Page)
}

func newController(t *testing.T, opts Options) *Controller {
	t.Helper()
	c, err := NewController(baseURL, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func formProbe(page browser.Page) Probe {
	return func(ctx context.Context) (bool, error) {
		n, err := page.Locator(browser.CSS("form#signup-form")).Count(ctx)
		return n > 0, err
	}
}

func TestNavigateReturnsAtCommit(t *testing.T) {
	_, page := newPage(t, fakebrowser.Config{
		Routes:    map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(formDoc)},
		LoadDelay: 300 * time.Millisecond,
	})
	c := newController(t, Options{WaitUntil: browser.WaitCommit})

	out, err := c.Navigate(t.Context(), page, baseURL+"/signup", time.Second)
	require.NoError(t, err)
	assert.False(t, page.Loaded(), "commit must return before the document loads")
	assert.Equal(t, browser.WaitCommit, out.WaitUntil)
	assert.Less(t, out.Elapsed, 300*time.Millisecond)

	require.NoError(t, page.WaitForLoadState(t.Context(), browser.LoadStateLoad, time.Second))
	assert.True(t, page.Loaded())
}

func TestNavigateWaitModes(t *testing.T) {
	for _, mode := range []browser.WaitMode{browser.WaitCommit, browser.WaitDOMContentLoaded, browser.WaitLoad} {
		t.Run(string(mode), func(t *testing.T) {
			d, page := newPage(t, fakebrowser.Config{
				Routes:    map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(formDoc)},
				LoadDelay: 50 * time.Millisecond,
			})
			c := newController(t, Options{WaitUntil: mode})

			_, err := c.Navigate(t.Context(), page, baseURL+"/signup", time.Second)
			require.NoError(t, err)
			assert.Equal(t, []string{"goto /signup " + string(mode)}, d.JournalOf("goto"))
			assert.Equal(t, mode != browser.WaitCommit, page.Loaded())
		})
	}
}

func TestNavigateFailureIsFatal(t *testing.T) {
	refused := errors.New("net::ERR_CONNECTION_REFUSED")
	_, page := newPage(t, fakebrowser.Config{NavigationErrors: map[string]error{"/signup": refused}})
	c := newController(t, Options{})

	out, err := c.Navigate(t.Context(), page, baseURL+"/signup", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrNavigationFailed)
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, out.Error, "ERR_CONNECTION_REFUSED")
}

func TestAwaitStable(t *testing.T) {
	t.Run("stabilized", func(t *testing.T) {
		_, page := newPage(t, fakebrowser.Config{LoadDelay: 20 * time.Millisecond})
		c := newController(t, Options{})
		_, err := c.Navigate(t.Context(), page, baseURL+"/", time.Second)
		require.NoError(t, err)

		out, err := c.AwaitStable(t.Context(), page, browser.LoadStateDOMContentLoaded, time.Second)
		require.NoError(t, err)
		assert.True(t, out.OK())
		assert.Equal(t, browser.Stabilized, out.Result)
		assert.NoError(t, out.Err)
	})

	t.Run("timeout is not an error", func(t *testing.T) {
		_, page := newPage(t, fakebrowser.Config{LoadDelay: time.Second})
		c := newController(t, Options{})
		_, err := c.Navigate(t.Context(), page, baseURL+"/", time.Second)
		require.NoError(t, err)

		out, err := c.AwaitStable(t.Context(), page, browser.LoadStateDOMContentLoaded, 30*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, browser.TimedOutNonFatal, out.Result)
		assert.ErrorIs(t, out.Err, browser.ErrStabilizeTimeout)
		assert.True(t, browser.IsTimeout(out.Err))
		assert.Equal(t, baseURL+"/", out.Target)
	})

	t.Run("cancellation is returned", func(t *testing.T) {
		_, page := newPage(t, fakebrowser.Config{LoadDelay: time.Second})
		c := newController(t, Options{})
		_, err := c.Navigate(t.Context(), page, baseURL+"/", time.Second)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		_, err = c.AwaitStable(ctx, page, browser.LoadStateLoad, time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestReach(t *testing.T) {
	t.Run("ready on first attempt", func(t *testing.T) {
		d, page := newPage(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(formDoc)},
		})
		c := newController(t, Options{MaxAttempts: 3, ParentRoute: "/"})

		res, err := c.Reach(t.Context(), page, "/signup", formProbe(page))
		require.NoError(t, err)
		assert.True(t, res.Ready)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, []string{"goto /signup commit"}, d.JournalOf("goto"))
	})

	t.Run("retries round-trip through the parent route", func(t *testing.T) {
		d, page := newPage(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{
				"/":       fakebrowser.Static(parentDoc),
				"/signup": fakebrowser.Sequence(emptyDoc, emptyDoc, formDoc),
			},
		})
		c := newController(t, Options{MaxAttempts: 3, ParentRoute: "/"})

		res, err := c.Reach(t.Context(), page, "/signup", formProbe(page))
		require.NoError(t, err)
		assert.True(t, res.Ready)
		assert.Equal(t, 3, res.Attempts)

		want := []string{
			"goto /signup commit",
			"goto / commit", "goto /signup commit",
			"goto / commit", "goto /signup commit",
		}
		if diff := cmp.Diff(want, d.JournalOf("goto")); diff != "" {
			t.Errorf("navigation journal mismatch (-want +got):\n%s", diff)
		}
		assert.Len(t, res.Navigations, 5)
		assert.Len(t, res.Stabilizations, 5)
		assert.Equal(t, 3, res.Navigations[4].Attempt)
	})

	t.Run("bounded by max attempts", func(t *testing.T) {
		d, page := newPage(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(emptyDoc)},
		})
		c := newController(t, Options{MaxAttempts: 2, ParentRoute: "/"})

		res, err := c.Reach(t.Context(), page, "/signup", formProbe(page))
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrRouteNotReady)
		assert.False(t, res.Ready)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, 2, d.Visits("/signup"))
	})

	t.Run("navigation failure stops the loop", func(t *testing.T) {
		_, page := newPage(t, fakebrowser.Config{
			NavigationErrors: map[string]error{"/": errors.New("net::ERR_ABORTED")},
			Routes:           map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(emptyDoc)},
		})
		c := newController(t, Options{MaxAttempts: 3, ParentRoute: "/"})

		res, err := c.Reach(t.Context(), page, "/signup", formProbe(page))
		assert.ErrorIs(t, err, browser.ErrNavigationFailed)
		assert.Equal(t, 2, res.Attempts)
	})

	t.Run("slow stabilization does not abort", func(t *testing.T) {
		_, page := newPage(t, fakebrowser.Config{
			Routes:    map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(formDoc)},
			LoadDelay: time.Second,
		})
		c := newController(t, Options{MaxAttempts: 1, StabilizeTimeout: 20 * time.Millisecond})

		res, err := c.Reach(t.Context(), page, "/signup", formProbe(page))
		require.NoError(t, err)
		require.Len(t, res.Stabilizations, 1)
		assert.Equal(t, browser.TimedOutNonFatal, res.Stabilizations[0].Result)
	})

	t.Run("repeated navigation leaves a single form", func(t *testing.T) {
		_, page := newPage(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(formDoc)},
		})
		c := newController(t, Options{MaxAttempts: 1})
		for i := 0; i < 3; i++ {
			_, err := c.Reach(t.Context(), page, "/signup", formProbe(page))
			require.NoError(t, err)
		}
		n, err := page.Locator(browser.CSS("form")).Count(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestResolve(t *testing.T) {
	c, err := NewController("http://localhost:5173/app/", Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	got, err := c.Resolve("/signup")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5173/signup", got)

	got, err = c.Resolve("signup?ref=home")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5173/app/signup?ref=home", got)

	_, err = NewController("not a url", Options{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, Options{
		WaitUntil:        browser.WaitCommit,
		CommitTimeout:    10 * time.Second,
		StabilizeState:   browser.LoadStateDOMContentLoaded,
		StabilizeTimeout: 3 * time.Second,
		MaxAttempts:      3,
		ParentRoute:      "/",
	}, opts)

	cfg.Navigation.WaitUntil = "networkidle"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}
