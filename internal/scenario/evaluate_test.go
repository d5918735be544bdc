// internal/scenario/evaluate_test.go
package scenario

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/browser/fakebrowser"
	"github.com/xkilldash9x/signupguard/internal/config"
	"github.com/xkilldash9x/signupguard/internal/fixture"
)

func signupDefinition(t *testing.T, expect string) *Definition {
	t.Helper()
	cfg := config.NewDefaultConfig().Scenario
	cfg.Expect = expect
	def, err := SignupDefinition(cfg)
	require.NoError(t, err)
	return def
}

func pageWith(t *testing.T, cfg fakebrowser.Config, path string) *fakebrowser.Page {
	t.Helper()
	eng, err := fakebrowser.New(cfg).Start(t.Context())
	require.NoError(t, err)
	b, err := eng.Launch(t.Context(), browser.LaunchOptions{})
	require.NoError(t, err)
	bctx, err := b.NewContext(t.Context(), browser.ContextOptions{})
	require.NoError(t, err)
	p, err := bctx.NewPage(t.Context())
	require.NoError(t, err)
	require.NoError(t, p.Goto(t.Context(), "http://linkwell.test"+path, browser.GotoOptions{WaitUntil: browser.WaitCommit}))
	return p.(*fakebrowser.Page)
}

func TestEvaluate(t *testing.T) {
	a := newApp(t)
	rejected := a.doc("/signup", fixture.ViewState{Password: "Ab1", ConfirmPassword: "Ab1", Error: "Password must be at least 8 characters long."}, false)
	blank := a.doc("/signup", fixture.ViewState{}, false)
	dashboard := a.doc("/dashboard", fixture.ViewState{Email: "a@b.c"}, false)

	tests := []struct {
		name     string
		doc      string
		path     string
		expect   string
		state    map[string]any
		met      bool
		diags    []string
		unmet    []string
		authed   bool
		formSeen int
	}{
		{
			name:     "weak password rejected",
			doc:      rejected,
			path:     "/signup",
			expect:   "rejected",
			met:      true,
			diags:    []string{"Password must be at least 8 characters long."},
			formSeen: 1,
		},
		{
			name:     "native validation message counts as a diagnostic",
			doc:      blank,
			path:     "/signup",
			expect:   "rejected",
			state:    map[string]any{"validationMessages": []any{"Please lengthen this text to 8 characters or more."}},
			met:      true,
			diags:    []string{"Please lengthen this text to 8 characters or more."},
			formSeen: 1,
		},
		{
			name:     "silently ignored submission is not a rejection",
			doc:      blank,
			path:     "/signup",
			expect:   "rejected",
			unmet:    []string{"a validation diagnostic is shown"},
			formSeen: 1,
		},
		{
			name:   "weak password accepted",
			doc:    dashboard,
			path:   "/dashboard",
			expect: "rejected",
			state:  map[string]any{"stored": "a@b.c"},
			authed: true,
			unmet:  []string{"no session is created", "the signup form remains displayed", "a validation diagnostic is shown"},
		},
		{
			name:   "compliant password accepted",
			doc:    dashboard,
			path:   "/dashboard",
			expect: "accepted",
			met:    true,
			authed: true,
		},
		{
			name:     "acceptance expected but rejected",
			doc:      rejected,
			path:     "/signup",
			expect:   "accepted",
			diags:    []string{"Password must be at least 8 characters long."},
			unmet:    []string{"a session is created", "no validation diagnostic is shown"},
			formSeen: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := pageWith(t, fakebrowser.Config{
				Routes: map[string]fakebrowser.RouteFunc{tt.path: fakebrowser.Static(tt.doc)},
				Evaluate: func(*fakebrowser.Page, string) (any, error) {
					if tt.state == nil {
						return nil, nil
					}
					return tt.state, nil
				},
			}, tt.path)

			ev, err := Evaluate(t.Context(), page, signupDefinition(t, tt.expect))
			require.NoError(t, err)
			assert.Equal(t, tt.met, ev.Met)
			assert.Equal(t, tt.diags, ev.Diagnostics)
			assert.Equal(t, tt.unmet, ev.Unmet)
			assert.Equal(t, tt.authed, ev.Authenticated)
			assert.Equal(t, tt.formSeen, ev.FormCount)
			if tt.met {
				assert.NoError(t, ev.Err())
			} else {
				assert.ErrorIs(t, ev.Err(), browser.ErrExpectationFailed)
			}
		})
	}
}

func TestEvaluateIgnoresUnrelatedAlerts(t *testing.T) {
	doc := `<html><body><div role="alert">Cookies keep this site running.</div><form></form></body></html>`
	page := pageWith(t, fakebrowser.Config{
		Routes: map[string]fakebrowser.RouteFunc{"/signup": fakebrowser.Static(doc)},
	}, "/signup")

	ev, err := Evaluate(t.Context(), page, signupDefinition(t, "rejected"))
	require.NoError(t, err)
	assert.Empty(t, ev.Diagnostics)
	assert.False(t, ev.Met)
}

func TestEvaluatePageStateError(t *testing.T) {
	page := pageWith(t, fakebrowser.Config{
		Evaluate: func(*fakebrowser.Page, string) (any, error) { return nil, errors.New("execution context was destroyed") },
	}, "/signup")

	_, err := Evaluate(t.Context(), page, signupDefinition(t, "rejected"))
	assert.ErrorContains(t, err, "reading page state")
}

func TestSignupDefinition(t *testing.T) {
	cfg := config.NewDefaultConfig().Scenario
	cfg.ConfirmPassword = ""

	def, err := SignupDefinition(cfg)
	require.NoError(t, err)
	require.Len(t, def.Fields, 3)
	assert.Equal(t, []string{"email", "password", "confirmPassword"}, []string{def.Fields[0].Name, def.Fields[1].Name, def.Fields[2].Name})
	assert.Equal(t, cfg.Password, def.Fields[2].Value, "confirmation defaults to the password")
	assert.False(t, def.Fields[0].Secret)
	assert.True(t, def.Fields[1].Secret)
	assert.Equal(t, "/", def.EntryRoute)
	assert.Equal(t, def.Fields[0].Chain, def.ReadyChain())
	assert.Equal(t,
		`label=Password | css=input[name="password"] | css=#password | xpath=html/body/div/div/main/div/form/div[2]/input`,
		def.Fields[1].Chain.String())

	t.Run("invalid pattern", func(t *testing.T) {
		bad := cfg
		bad.DiagnosticPatterns = []string{"(unclosed"}
		_, err := SignupDefinition(bad)
		assert.ErrorContains(t, err, "invalid diagnostic pattern")
	})

	t.Run("unknown expectation", func(t *testing.T) {
		bad := cfg
		bad.Expect = "ignored"
		_, err := SignupDefinition(bad)
		assert.ErrorContains(t, err, "unknown expectation")
	})
}
