// internal/scenario/definition.go
package scenario

import (
	"fmt"
	"regexp"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/config"
	"github.com/xkilldash9x/signupguard/internal/interaction"
)

// Expectation is what a run must observe after submitting the form.
type Expectation string

const (
	// ExpectRejected: no session, the form is still shown, and a diagnostic is visible.
	ExpectRejected Expectation = "rejected"
	// ExpectAccepted: a session exists and no diagnostic is visible.
	ExpectAccepted Expectation = "accepted"
)

// Criteria an evaluation checks, in the order it checks them.
const (
	CriterionNoSession     = "no session is created"
	CriterionFormDisplayed = "the signup form remains displayed"
	CriterionDiagnostic    = "a validation diagnostic is shown"
	CriterionSession       = "a session is created"
	CriterionNoDiagnostic  = "no validation diagnostic is shown"
)

// Criteria lists what must hold for e.
func (e Expectation) Criteria() []string {
	switch e {
	case ExpectRejected:
		return []string{CriterionNoSession, CriterionFormDisplayed, CriterionDiagnostic}
	case ExpectAccepted:
		return []string{CriterionSession, CriterionNoDiagnostic}
	}
	return nil
}

// ParseExpectation converts a config string into an Expectation.
func ParseExpectation(s string) (Expectation, error) {
	switch Expectation(s) {
	case ExpectRejected, ExpectAccepted:
		return Expectation(s), nil
	}
	return "", fmt.Errorf("unknown expectation %q (supported: rejected, accepted)", s)
}

// Field is one form control, filled in declaration order.
type Field struct {
	Name  string
	Chain interaction.Chain
	Index int
	Value string
	// Secret fields are redacted from reports.
	Secret bool
}

// Definition is one form-submission scenario.
type Definition struct {
	Name string
	// EntryRoute is visited and stabilized before the target route. It also serves
	// as the parent route for re-navigation.
	EntryRoute string
	Route      string
	Fields     []Field
	Submit     interaction.Chain
	// FormSelector is the CSS selector of the form under test.
	FormSelector       string
	Expect             Expectation
	SessionStorageKey  string
	AuthenticatedRoute string
	DiagnosticPatterns []*regexp.Regexp
}

// ReadyChain is what must be present before the route counts as rendered: the
// first field of the form.
func (d *Definition) ReadyChain() interaction.Chain {
	if len(d.Fields) == 0 {
		return d.Submit
	}
	return d.Fields[0].Chain
}

// formPath is the structural path of the signup form's field wrappers.
const formPath = "html/body/div/div/main/div/form"

func fieldChain(label, name, placeholder string, position int) interaction.Chain {
	chain := interaction.Chain{
		browser.Label(label),
		browser.CSS(fmt.Sprintf(`input[name=%q]`, name)),
		browser.CSS("#" + name),
	}
	if placeholder != "" {
		chain = append(chain, browser.Placeholder(placeholder))
	}
	return append(chain, browser.XPath(fmt.Sprintf("%s/div[%d]/input", formPath, position)))
}

// SignupDefinition builds the signup scenario from configuration. Fields are
// addressed by label first, then name and id, and by structural position last.
func SignupDefinition(cfg config.ScenarioConfig) (*Definition, error) {
	expect, err := ParseExpectation(cfg.Expect)
	if err != nil {
		return nil, err
	}
	patterns := make([]*regexp.Regexp, 0, len(cfg.DiagnosticPatterns))
	for _, p := range cfg.DiagnosticPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid diagnostic pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	confirm := cfg.ConfirmPassword
	if confirm == "" {
		confirm = cfg.Password
	}

	return &Definition{
		Name:       "signup",
		EntryRoute: cfg.ParentRoute,
		Route:      cfg.Route,
		Fields: []Field{
			{Name: "email", Chain: fieldChain("Email", "email", "you@example.com", 1), Value: cfg.Email},
			{Name: "password", Chain: fieldChain("Password", "password", "", 2), Value: cfg.Password, Secret: true},
			{Name: "confirmPassword", Chain: fieldChain("Confirm Password", "confirmPassword", "", 3), Value: confirm, Secret: true},
		},
		Submit: interaction.Chain{
			browser.Role("button", "Create Account"),
			browser.CSS(`form button[type="submit"]`),
			browser.XPath(formPath + "/button"),
		},
		FormSelector:       "form",
		Expect:             expect,
		SessionStorageKey:  cfg.SessionStorageKey,
		AuthenticatedRoute: cfg.AuthenticatedRoute,
		DiagnosticPatterns: patterns,
	}, nil
}
