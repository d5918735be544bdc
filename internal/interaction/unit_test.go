// internal/interaction/unit_test.go
package interaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/browser/fakebrowser"
	"github.com/xkilldash9x/signupguard/internal/fixture"
)

const disabledDoc = `<html><body><form><div><label for="email">Email</label><input id="email" disabled></div></form></body></html>`

func signupDoc(t *testing.T) string {
	t.Helper()
	r, err := fixture.NewRenderer(fixture.Options{})
	require.NoError(t, err)
	doc, err := r.Snapshot("/signup", fixture.ViewState{}, false)
	require.NoError(t, err)
	return doc
}

type harness struct {
	driver *fakebrowser.Driver
	bctx   browser.Context
	page   *fakebrowser.Page
}

func open(t *testing.T, cfg fakebrowser.Config, timeout time.Duration) *harness {
	t.Helper()
	d := fakebrowser.New(cfg)
	eng, err := d.Start(t.Context())
	require.NoError(t, err)
	b, err := eng.Launch(t.Context(), browser.LaunchOptions{})
	require.NoError(t, err)
	bctx, err := b.NewContext(t.Context(), browser.ContextOptions{DefaultTimeout: timeout})
	require.NoError(t, err)
	p, err := bctx.NewPage(t.Context())
	require.NoError(t, err)
	require.NoError(t, p.Goto(t.Context(), "http://linkwell.test/signup", browser.GotoOptions{WaitUntil: browser.WaitCommit}))
	return &harness{driver: d, bctx: bctx, page: p.(*fakebrowser.Page)}
}

func newUnit(t *testing.T, opts Options) *Unit {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	return NewUnit(opts, zaptest.NewLogger(t))
}

func passwordChain() Chain {
	return Chain{
		browser.Label("Password"),
		browser.CSS(`input[name="password"]`),
		browser.Role("textbox", "Password"),
		browser.XPath("html/body/div/div/main/div/form/div[2]/input"),
	}
}

func TestLocate(t *testing.T) {
	h := open(t, fakebrowser.Config{
		Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(signupDoc(t))},
	}, time.Second)
	u := newUnit(t, Options{})

	tests := []struct {
		name  string
		chain Chain
		want  string
	}{
		{"label wins", passwordChain(), "label=Password >> nth=0"},
		{"falls back to name", Chain{browser.Label("Passcode"), browser.CSS(`input[name="password"]`)}, `css=input[name="password"] >> nth=0`},
		{"structural fallback", Chain{browser.Label("Passcode"), browser.XPath("html/body/div/div/main/div/form/div[2]/input")}, "xpath=html/body/div/div/main/div/form/div[2]/input >> nth=0"},
		{"role with name", Chain{browser.Role("button", "Create Account")}, `role=button[name="Create Account"] >> nth=0`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := u.Locate(t.Context(), h.bctx, tt.chain, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, loc.String())
		})
	}

	t.Run("index selects among matches", func(t *testing.T) {
		loc, err := u.Locate(t.Context(), h.bctx, Chain{browser.CSS("input.input-field")}, 2)
		require.NoError(t, err)
		require.NoError(t, u.Fill(t.Context(), h.bctx, loc, "Ab1"))
		assert.Equal(t, "Ab1", h.page.Value("confirmPassword"))
	})

	t.Run("no match is fatal", func(t *testing.T) {
		_, err := u.Locate(t.Context(), h.bctx, Chain{browser.Label("Username"), browser.CSS("#username")}, 0)
		assert.ErrorIs(t, err, browser.ErrElementNotFound)
	})

	t.Run("index past the last match", func(t *testing.T) {
		_, err := u.Locate(t.Context(), h.bctx, Chain{browser.CSS("input.input-field")}, 3)
		assert.ErrorIs(t, err, browser.ErrElementNotFound)
	})
}

func TestFill(t *testing.T) {
	t.Run("fills the resolved element", func(t *testing.T) {
		h := open(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(signupDoc(t))},
		}, time.Second)
		u := newUnit(t, Options{})

		loc, err := u.Locate(t.Context(), h.bctx, passwordChain(), 0)
		require.NoError(t, err)
		require.NoError(t, u.Fill(t.Context(), h.bctx, loc, "Ab1"))

		assert.Equal(t, "Ab1", h.page.Value("password"))
		assert.Empty(t, h.page.Value("confirmPassword"))
		assert.Equal(t, []string{"fill label=Password >> nth=0 Ab1"}, h.driver.JournalOf("fill"))
	})

	t.Run("polls until actionable", func(t *testing.T) {
		h := open(t, fakebrowser.Config{
			Routes:          map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(signupDoc(t))},
			ActionableAfter: 4,
		}, time.Second)
		u := newUnit(t, Options{})

		loc, err := u.Locate(t.Context(), h.bctx, Chain{browser.Label("Email")}, 0)
		require.NoError(t, err)
		require.NoError(t, u.Fill(t.Context(), h.bctx, loc, "testuser@linkwell.test"))
		assert.Equal(t, "testuser@linkwell.test", h.page.Value("email"))
	})

	t.Run("never actionable is fatal after the context timeout", func(t *testing.T) {
		h := open(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(disabledDoc)},
		}, 80*time.Millisecond)
		u := newUnit(t, Options{})

		loc, err := u.Locate(t.Context(), h.bctx, Chain{browser.Label("Email")}, 0)
		require.NoError(t, err)

		start := time.Now()
		err = u.Fill(t.Context(), h.bctx, loc, "x@y.z")
		assert.ErrorIs(t, err, browser.ErrNotInteractable)
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
		assert.Less(t, time.Since(start), time.Second)
		assert.Empty(t, h.driver.JournalOf("fill"))
	})

	t.Run("element removed before the fill", func(t *testing.T) {
		h := open(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(signupDoc(t))},
		}, 50*time.Millisecond)
		u := newUnit(t, Options{})

		loc, err := u.Locate(t.Context(), h.bctx, Chain{browser.Label("Email")}, 0)
		require.NoError(t, err)
		require.NoError(t, h.page.Render(`<html><body></body></html>`))
		assert.ErrorIs(t, u.Fill(t.Context(), h.bctx, loc, "x@y.z"), browser.ErrNotInteractable)
	})

	t.Run("honors the fixed pre-fill delay", func(t *testing.T) {
		h := open(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(signupDoc(t))},
		}, time.Second)
		u := newUnit(t, Options{PreFillDelay: 60 * time.Millisecond})

		loc, err := u.Locate(t.Context(), h.bctx, Chain{browser.Label("Email")}, 0)
		require.NoError(t, err)
		start := time.Now()
		require.NoError(t, u.Fill(t.Context(), h.bctx, loc, "x@y.z"))
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("cancellation is not an interaction failure", func(t *testing.T) {
		h := open(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(disabledDoc)},
		}, time.Minute)
		u := newUnit(t, Options{})

		loc, err := u.Locate(t.Context(), h.bctx, Chain{browser.Label("Email")}, 0)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
		defer cancel()
		err = u.Fill(ctx, h.bctx, loc, "x@y.z")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, browser.ErrNotInteractable)
	})
}

func TestClick(t *testing.T) {
	var clicked []string
	h := open(t, fakebrowser.Config{
		Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(signupDoc(t))},
		OnClick: func(p *fakebrowser.Page, target *fakebrowser.Element) error {
			clicked = append(clicked, target.Text())
			return nil
		},
	}, time.Second)
	u := newUnit(t, Options{})

	loc, err := u.Locate(t.Context(), h.bctx, Chain{browser.Role("button", "Create Account")}, 0)
	require.NoError(t, err)
	require.NoError(t, u.Click(t.Context(), h.bctx, loc))
	assert.Equal(t, []string{"Create Account"}, clicked)
}

func TestWaitPresent(t *testing.T) {
	t.Run("appears after hydration", func(t *testing.T) {
		h := open(t, fakebrowser.Config{
			Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(`<html><body><div id="root"></div></body></html>`)},
		}, time.Second)
		u := newUnit(t, Options{})
		doc := signupDoc(t)

		go func() {
			time.Sleep(40 * time.Millisecond)
			_ = h.page.Render(doc)
		}()
		ok, err := u.WaitPresent(t.Context(), h.page, passwordChain(), time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("timeout reports absent", func(t *testing.T) {
		h := open(t, fakebrowser.Config{}, time.Second)
		u := newUnit(t, Options{})
		ok, err := u.WaitPresent(t.Context(), h.page, passwordChain(), 30*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCurrentPage(t *testing.T) {
	h := open(t, fakebrowser.Config{}, time.Second)
	second, err := h.bctx.NewPage(t.Context())
	require.NoError(t, err)

	got, err := CurrentPage(h.bctx)
	require.NoError(t, err)
	assert.Same(t, second.(*fakebrowser.Page), got.(*fakebrowser.Page))
}

func TestChainString(t *testing.T) {
	assert.Equal(t, `label=Email | css=#email`, Chain{browser.Label("Email"), browser.CSS("#email")}.String())
}
