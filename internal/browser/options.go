// internal/browser/options.go
package browser

import (
	"fmt"
	"strings"
)

// IPCMode selects how the browser shares IPC namespaces with the host.
type IPCMode string

const (
	IPCModeDefault IPCMode = "default"
	IPCModeHost    IPCMode = "host"
)

// ProcessModel selects Chromium's renderer process model.
type ProcessModel string

const (
	ProcessModelDefault ProcessModel = "default"
	ProcessModelSingle  ProcessModel = "single"
	ProcessModelPerSite ProcessModel = "per-site"
)

// WaitMode is the navigation milestone Goto returns at.
type WaitMode string

const (
	// WaitCommit returns as soon as the browser accepts the navigation, before
	// the document has loaded.
	WaitCommit           WaitMode = "commit"
	WaitDOMContentLoaded WaitMode = "domcontentloaded"
	WaitLoad             WaitMode = "load"
)

// LoadState is a document readiness milestone used for stabilization.
type LoadState string

const (
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateLoad             LoadState = "load"
)

// ParseWaitMode converts a config string into a WaitMode.
func ParseWaitMode(s string) (WaitMode, error) {
	switch WaitMode(strings.ToLower(strings.TrimSpace(s))) {
	case WaitCommit, "":
		return WaitCommit, nil
	case WaitDOMContentLoaded:
		return WaitDOMContentLoaded, nil
	case WaitLoad:
		return WaitLoad, nil
	}
	return "", fmt.Errorf("unknown wait mode %q (supported: commit, domcontentloaded, load)", s)
}

// ParseLoadState converts a config string into a LoadState.
func ParseLoadState(s string) (LoadState, error) {
	switch LoadState(strings.ToLower(strings.TrimSpace(s))) {
	case LoadStateDOMContentLoaded, "":
		return LoadStateDOMContentLoaded, nil
	case LoadStateLoad:
		return LoadStateLoad, nil
	}
	return "", fmt.Errorf("unknown load state %q (supported: domcontentloaded, load)", s)
}

// LaunchOptions is the fixed set of startup options for a browser process.
type LaunchOptions struct {
	Headless            bool
	WindowWidth         int
	WindowHeight        int
	DisableSharedMemory bool
	IPCMode             IPCMode
	ProcessModel        ProcessModel
	NoSandbox           bool
	ExecutablePath      string
	ExtraArgs           []string
}

// Args renders the options as Chromium command-line switches. Headless and the
// executable path are not switches; each backend passes them natively.
func (o LaunchOptions) Args() []string {
	var args []string
	if o.WindowWidth > 0 && o.WindowHeight > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", o.WindowWidth, o.WindowHeight))
	}
	if o.DisableSharedMemory {
		args = append(args, "--disable-dev-shm-usage")
	}
	if o.IPCMode == IPCModeHost {
		args = append(args, "--ipc=host")
	}
	switch o.ProcessModel {
	case ProcessModelSingle:
		args = append(args, "--single-process")
	case ProcessModelPerSite:
		args = append(args, "--process-per-site")
	}
	if o.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	return append(args, o.ExtraArgs...)
}

// Validate rejects enum values the backends do not understand.
func (o LaunchOptions) Validate() error {
	switch o.IPCMode {
	case "", IPCModeDefault, IPCModeHost:
	default:
		return fmt.Errorf("unknown ipc mode %q", o.IPCMode)
	}
	switch o.ProcessModel {
	case "", ProcessModelDefault, ProcessModelSingle, ProcessModelPerSite:
	default:
		return fmt.Errorf("unknown process model %q", o.ProcessModel)
	}
	if o.WindowWidth < 0 || o.WindowHeight < 0 {
		return fmt.Errorf("window size must not be negative (got %dx%d)", o.WindowWidth, o.WindowHeight)
	}
	return nil
}

// SelectorKind names the strategy used to resolve a Selector.
type SelectorKind string

const (
	SelectorCSS         SelectorKind = "css"
	SelectorXPath       SelectorKind = "xpath"
	SelectorLabel       SelectorKind = "label"
	SelectorPlaceholder SelectorKind = "placeholder"
	SelectorRole        SelectorKind = "role"
)

// Selector is one element addressing strategy. For SelectorRole, Value is the ARIA
// role and Name the accessible name; for every other kind Name is unused.
type Selector struct {
	Kind  SelectorKind
	Value string
	Name  string
}

func CSS(v string) Selector         { return Selector{Kind: SelectorCSS, Value: v} }
func XPath(v string) Selector       { return Selector{Kind: SelectorXPath, Value: v} }
func Label(v string) Selector       { return Selector{Kind: SelectorLabel, Value: v} }
func Placeholder(v string) Selector { return Selector{Kind: SelectorPlaceholder, Value: v} }
func Role(role, name string) Selector {
	return Selector{Kind: SelectorRole, Value: role, Name: name}
}

func (s Selector) String() string {
	if s.Kind == SelectorRole && s.Name != "" {
		return fmt.Sprintf("role=%s[name=%q]", s.Value, s.Name)
	}
	return fmt.Sprintf("%s=%s", s.Kind, s.Value)
}
