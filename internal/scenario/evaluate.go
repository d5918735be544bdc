// internal/scenario/evaluate.go
package scenario

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// alertSelector matches the elements applications use to surface form errors.
const alertSelector = `[role="alert"], [aria-live="assertive"], .form-error, .error-message`

// Evaluation is what the page showed once the submission settled.
type Evaluation struct {
	URL           string      `json:"url"`
	Authenticated bool        `json:"authenticated"`
	SessionStored bool        `json:"session_stored"`
	FormCount     int         `json:"form_count"`
	FormDisplayed bool        `json:"form_displayed"`
	Diagnostics   []string    `json:"diagnostics"`
	Expect        Expectation `json:"expect"`
	Met           bool        `json:"met"`
	// Unmet lists the criteria of Expect that did not hold.
	Unmet []string `json:"unmet,omitempty"`
}

// pageState is collected in the page: native constraint-validation messages and
// the session marker in local storage.
type pageState struct {
	ValidationMessages []string `json:"validationMessages"`
	Stored             *string  `json:"stored"`
}

const pageStateScript = `(() => {
  const form = document.querySelector(%q);
  const validationMessages = form
    ? Array.from(form.elements).map((el) => el.validationMessage || "").filter(Boolean)
    : [];
  let stored = null;
  try {
    stored = window.localStorage.getItem(%q);
  } catch (e) {}
  return { validationMessages, stored };
})()`

// Evaluate inspects the rendered page and judges it against def.Expect. It
// returns an error only when the page could not be read.
func Evaluate(ctx context.Context, page browser.Page, def *Definition) (*Evaluation, error) {
	content, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parsing page content: %w", err)
	}

	state, err := readPageState(ctx, page, def)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{URL: page.URL(), Expect: def.Expect}
	ev.SessionStored = state.Stored != nil && *state.Stored != ""
	ev.Authenticated = ev.SessionStored || onRoute(ev.URL, def.AuthenticatedRoute)
	ev.FormCount = doc.Find(def.FormSelector).Length()
	ev.FormDisplayed = ev.FormCount == 1

	doc.Find(alertSelector).Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" && matchesAny(def, text) && !slices.Contains(ev.Diagnostics, text) {
			ev.Diagnostics = append(ev.Diagnostics, text)
		}
	})
	for _, msg := range state.ValidationMessages {
		if !slices.Contains(ev.Diagnostics, msg) {
			ev.Diagnostics = append(ev.Diagnostics, msg)
		}
	}

	ev.judge()
	return ev, nil
}

func (ev *Evaluation) judge() {
	check := func(ok bool, criterion string) {
		if !ok {
			ev.Unmet = append(ev.Unmet, criterion)
		}
	}
	switch ev.Expect {
	case ExpectRejected:
		check(!ev.Authenticated, CriterionNoSession)
		check(ev.FormDisplayed, CriterionFormDisplayed)
		check(len(ev.Diagnostics) > 0, CriterionDiagnostic)
	case ExpectAccepted:
		check(ev.Authenticated, CriterionSession)
		check(len(ev.Diagnostics) == 0, CriterionNoDiagnostic)
	default:
		check(false, fmt.Sprintf("known expectation (got %q)", ev.Expect))
	}
	ev.Met = len(ev.Unmet) == 0
}

// Err returns ErrExpectationFailed describing the unmet criteria, or nil.
func (ev *Evaluation) Err() error {
	if ev.Met {
		return nil
	}
	return fmt.Errorf("%w: expected %s but not: %s", browser.ErrExpectationFailed, ev.Expect, strings.Join(ev.Unmet, "; "))
}

func readPageState(ctx context.Context, page browser.Page, def *Definition) (pageState, error) {
	var state pageState
	raw, err := page.Evaluate(ctx, fmt.Sprintf(pageStateScript, def.FormSelector, def.SessionStorageKey))
	if err != nil {
		return state, fmt.Errorf("reading page state: %w", err)
	}
	if raw == nil {
		return state, nil
	}
	// Backends hand back generic JSON values; round-trip them into the struct.
	b, err := json.Marshal(raw)
	if err != nil {
		return state, fmt.Errorf("decoding page state: %w", err)
	}
	if err := json.Unmarshal(b, &state); err != nil {
		return state, fmt.Errorf("decoding page state: %w", err)
	}
	return state, nil
}

func matchesAny(def *Definition, text string) bool {
	for _, re := range def.DiagnosticPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func onRoute(rawURL, route string) bool {
	if route == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Path == route
}
