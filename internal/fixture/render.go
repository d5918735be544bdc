// internal/fixture/render.go
package fixture

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed web/app.html web/app.js web/app.css
var webFS embed.FS

// Messages are the diagnostics the signup view renders.
type Messages struct {
	Mismatch string `json:"mismatch"`
	TooShort string `json:"tooShort"`
	Failed   string `json:"failed"`
}

// MessagesFor returns the diagnostics for a minimum password length.
func MessagesFor(minPasswordLength int) Messages {
	return Messages{
		Mismatch: "Passwords do not match.",
		TooShort: fmt.Sprintf("Password must be at least %d characters long.", minPasswordLength),
		Failed:   "Could not create account. Please try again.",
	}
}

// settings is handed to the client application as JSON.
type settings struct {
	HydrationDelayMs  int64    `json:"hydrationDelayMs"`
	Flaky             bool     `json:"flaky"`
	NativeValidation  bool     `json:"nativeValidation"`
	MinPasswordLength int      `json:"minPasswordLength"`
	StorageKey        string   `json:"storageKey"`
	Messages          Messages `json:"messages"`
}

// ViewState is the client state a hydrated view is rendered with.
type ViewState struct {
	Email           string
	Password        string
	ConfirmPassword string
	Error           string
}

type pageData struct {
	Hydrated bool
	Flaky    bool
	View     string
	Settings settings
	State    ViewState
}

// Renderer renders the application shell and hydrated snapshots of its views.
type Renderer struct {
	tmpl *template.Template
	opts Options
}

// NewRenderer parses the embedded templates.
func NewRenderer(opts Options) (*Renderer, error) {
	tmpl, err := template.ParseFS(webFS, "web/app.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse fixture templates: %w", err)
	}
	return &Renderer{tmpl: tmpl, opts: opts.withDefaults()}, nil
}

func (r *Renderer) settings(flaky bool) settings {
	return settings{
		HydrationDelayMs:  r.opts.HydrationDelay.Milliseconds(),
		Flaky:             flaky,
		NativeValidation:  r.opts.NativeValidation,
		MinPasswordLength: r.opts.MinPasswordLength,
		StorageKey:        r.opts.StorageKey,
		Messages:          MessagesFor(r.opts.MinPasswordLength),
	}
}

// Shell writes the client-rendered document served for every application route.
// The root stays empty until the client script hydrates it.
func (r *Renderer) Shell(w io.Writer, flaky bool) error {
	return r.tmpl.ExecuteTemplate(w, "page", pageData{Settings: r.settings(flaky)})
}

// Snapshot renders the document as it looks after hydration of route, without
// the client script. An empty root is rendered for a flaky load.
func (r *Renderer) Snapshot(route string, state ViewState, flaky bool) (string, error) {
	var buf bytes.Buffer
	data := pageData{
		Hydrated: true,
		Flaky:    flaky,
		View:     viewFor(route),
		Settings: r.settings(flaky),
		State:    state,
	}
	if err := r.tmpl.ExecuteTemplate(&buf, "page", data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", route, err)
	}
	return buf.String(), nil
}

func viewFor(route string) string {
	switch route {
	case "/":
		return "home"
	case "/signup":
		return "signup"
	case "/dashboard":
		return "dashboard"
	}
	return "notfound"
}
