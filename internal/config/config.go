// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts" yaml:"timeouts"`
	Navigation  NavigationConfig  `mapstructure:"navigation" yaml:"navigation"`
	Interaction InteractionConfig `mapstructure:"interaction" yaml:"interaction"`
	Scenario    ScenarioConfig    `mapstructure:"scenario" yaml:"scenario"`
	Report      ReportConfig      `mapstructure:"report" yaml:"report"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	Fixture     FixtureConfig     `mapstructure:"fixture" yaml:"fixture"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds the launch options for the single browser process of a run.
type BrowserConfig struct {
	// Driver selects the automation backend: "playwright" or "chromedp".
	Driver              string   `mapstructure:"driver" yaml:"driver"`
	Headless            bool     `mapstructure:"headless" yaml:"headless"`
	WindowWidth         int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight        int      `mapstructure:"window_height" yaml:"window_height"`
	DisableSharedMemory bool     `mapstructure:"disable_shared_memory" yaml:"disable_shared_memory"`
	IPCMode             string   `mapstructure:"ipc_mode" yaml:"ipc_mode"`
	ProcessModel        string   `mapstructure:"process_model" yaml:"process_model"`
	NoSandbox           bool     `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	ExecutablePath      string   `mapstructure:"executable_path" yaml:"executable_path"`
	Args                []string `mapstructure:"args" yaml:"args"`
	// Install downloads the Playwright driver and Chromium before starting.
	Install bool `mapstructure:"install" yaml:"install"`
}

// TimeoutsConfig holds every suspension-point budget of a run.
type TimeoutsConfig struct {
	// ContextDefault is the browsing context's default timeout. It bounds element
	// actionability waits and fills.
	ContextDefault   time.Duration `mapstructure:"context_default" yaml:"context_default"`
	NavigationCommit time.Duration `mapstructure:"navigation_commit" yaml:"navigation_commit"`
	Stabilize        time.Duration `mapstructure:"stabilize" yaml:"stabilize"`
	// RouteReady bounds how long a freshly navigated route may take to render the form.
	RouteReady time.Duration `mapstructure:"route_ready" yaml:"route_ready"`
	Scenario   time.Duration `mapstructure:"scenario" yaml:"scenario"`
	Release    time.Duration `mapstructure:"release" yaml:"release"`
}

// NavigationConfig controls navigation wait semantics and the re-navigation loop.
type NavigationConfig struct {
	WaitUntil      string `mapstructure:"wait_until" yaml:"wait_until"`
	StabilizeState string `mapstructure:"stabilize_state" yaml:"stabilize_state"`
	MaxAttempts    int    `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// InteractionConfig controls pacing of element interactions.
type InteractionConfig struct {
	PreFillDelay time.Duration `mapstructure:"pre_fill_delay" yaml:"pre_fill_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// ScenarioConfig is the test-case data of the signup scenario.
type ScenarioConfig struct {
	BaseURL            string   `mapstructure:"base_url" yaml:"base_url"`
	Route              string   `mapstructure:"route" yaml:"route"`
	ParentRoute        string   `mapstructure:"parent_route" yaml:"parent_route"`
	Email              string   `mapstructure:"email" yaml:"email"`
	Password           string   `mapstructure:"password" yaml:"password"`
	ConfirmPassword    string   `mapstructure:"confirm_password" yaml:"confirm_password"`
	Expect             string   `mapstructure:"expect" yaml:"expect"`
	SessionStorageKey  string   `mapstructure:"session_storage_key" yaml:"session_storage_key"`
	AuthenticatedRoute string   `mapstructure:"authenticated_route" yaml:"authenticated_route"`
	DiagnosticPatterns []string `mapstructure:"diagnostic_patterns" yaml:"diagnostic_patterns"`
}

// ReportConfig controls where the run report goes. An empty Output means stdout.
type ReportConfig struct {
	// Format is one of json, sarif, text.
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// TracingConfig toggles OpenTelemetry spans for scenario phases.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	PrettyPrint bool   `mapstructure:"pretty_print" yaml:"pretty_print"`
	Output      string `mapstructure:"output" yaml:"output"`
}

// FixtureConfig configures the stand-in signup application.
type FixtureConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	HydrationDelay    time.Duration `mapstructure:"hydration_delay" yaml:"hydration_delay"`
	FlakyLoads        int           `mapstructure:"flaky_loads" yaml:"flaky_loads"`
	NativeValidation  bool          `mapstructure:"native_validation" yaml:"native_validation"`
	MinPasswordLength int           `mapstructure:"min_password_length" yaml:"min_password_length"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.Scenario.normalize()
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "signupguard")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", "playwright")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 720)
	v.SetDefault("browser.disable_shared_memory", true)
	v.SetDefault("browser.ipc_mode", "host")
	v.SetDefault("browser.process_model", "single")
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.install", false)

	// -- Timeouts --
	v.SetDefault("timeouts.context_default", "5s")
	v.SetDefault("timeouts.navigation_commit", "10s")
	v.SetDefault("timeouts.stabilize", "3s")
	v.SetDefault("timeouts.route_ready", "5s")
	v.SetDefault("timeouts.scenario", "2m")
	v.SetDefault("timeouts.release", "10s")

	// -- Navigation --
	v.SetDefault("navigation.wait_until", "commit")
	v.SetDefault("navigation.stabilize_state", "domcontentloaded")
	v.SetDefault("navigation.max_attempts", 3)

	// -- Interaction --
	v.SetDefault("interaction.pre_fill_delay", "0s")
	v.SetDefault("interaction.poll_interval", "100ms")
	v.SetDefault("interaction.settle_delay", "5s")

	// -- Scenario --
	v.SetDefault("scenario.base_url", "http://localhost:5173")
	v.SetDefault("scenario.route", "/signup")
	v.SetDefault("scenario.parent_route", "/")
	v.SetDefault("scenario.email", "testuser@linkwell.test")
	v.SetDefault("scenario.password", "Ab1")
	v.SetDefault("scenario.confirm_password", "")
	v.SetDefault("scenario.expect", "rejected")
	v.SetDefault("scenario.session_storage_key", "linkwell_user_email")
	v.SetDefault("scenario.authenticated_route", "/dashboard")
	v.SetDefault("scenario.diagnostic_patterns", []string{
		"(?i)password must",
		"(?i)at least \\d+ characters long",
		"(?i)passwords do not match",
		"(?i)too short",
	})

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.output", "")
	v.SetDefault("report.pretty", true)

	// -- Tracing --
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.pretty_print", false)
	v.SetDefault("tracing.output", "")

	// -- Fixture --
	v.SetDefault("fixture.addr", "127.0.0.1:5173")
	v.SetDefault("fixture.hydration_delay", "300ms")
	v.SetDefault("fixture.flaky_loads", 0)
	v.SetDefault("fixture.native_validation", false)
	v.SetDefault("fixture.min_password_length", 8)
}

// NewConfigFromViper unmarshals, normalizes and validates a populated viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials are commonly injected through the environment only.
	_ = v.BindEnv("scenario.email", "SIGNUPGUARD_EMAIL")
	_ = v.BindEnv("scenario.password", "SIGNUPGUARD_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Scenario.normalize()
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Report.Output, &c.Tracing.Output, &c.Browser.ExecutablePath} {
		if *p == "" || *p == "-" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Browser.Driver) {
	case "playwright", "chromedp":
	default:
		return fmt.Errorf("browser.driver must be one of playwright, chromedp (got %q)", c.Browser.Driver)
	}
	switch c.Browser.IPCMode {
	case "default", "host":
	default:
		return fmt.Errorf("browser.ipc_mode must be one of default, host (got %q)", c.Browser.IPCMode)
	}
	switch c.Browser.ProcessModel {
	case "default", "single", "per-site":
	default:
		return fmt.Errorf("browser.process_model must be one of default, single, per-site (got %q)", c.Browser.ProcessModel)
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive integers")
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts configuration invalid: %w", err)
	}
	if c.Navigation.MaxAttempts < 1 {
		return fmt.Errorf("navigation.max_attempts must be at least 1")
	}
	switch c.Navigation.WaitUntil {
	case "commit", "domcontentloaded", "load":
	default:
		return fmt.Errorf("navigation.wait_until must be one of commit, domcontentloaded, load (got %q)", c.Navigation.WaitUntil)
	}
	switch c.Navigation.StabilizeState {
	case "domcontentloaded", "load":
	default:
		return fmt.Errorf("navigation.stabilize_state must be one of domcontentloaded, load (got %q)", c.Navigation.StabilizeState)
	}
	if c.Interaction.PollInterval <= 0 {
		return fmt.Errorf("interaction.poll_interval must be a positive duration")
	}
	if c.Interaction.PreFillDelay < 0 || c.Interaction.SettleDelay < 0 {
		return fmt.Errorf("interaction delays must not be negative")
	}
	if err := c.Scenario.Validate(); err != nil {
		return fmt.Errorf("scenario configuration invalid: %w", err)
	}
	switch c.Report.Format {
	case "json", "sarif", "text":
	default:
		return fmt.Errorf("report.format must be one of json, sarif, text (got %q)", c.Report.Format)
	}
	if c.Fixture.MinPasswordLength < 1 {
		return fmt.Errorf("fixture.min_password_length must be a positive integer")
	}
	if c.Fixture.FlakyLoads < 0 {
		return fmt.Errorf("fixture.flaky_loads must not be negative")
	}
	return nil
}

// Validate checks that every suspension point has a usable budget.
func (t *TimeoutsConfig) Validate() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"context_default", t.ContextDefault},
		{"navigation_commit", t.NavigationCommit},
		{"stabilize", t.Stabilize},
		{"route_ready", t.RouteReady},
		{"scenario", t.Scenario},
		{"release", t.Release},
	}
	for _, c := range checks {
		if c.d <= 0 {
			return fmt.Errorf("%s must be a positive duration", c.name)
		}
	}
	return nil
}

// normalize fills the confirmation from the password when it is not set, wherever
// the password came from.
func (s *ScenarioConfig) normalize() {
	if s.ConfirmPassword == "" {
		s.ConfirmPassword = s.Password
	}
}

// Validate checks the scenario target and expectation.
func (s *ScenarioConfig) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL (got %q)", s.BaseURL)
	}
	if !strings.HasPrefix(s.Route, "/") || !strings.HasPrefix(s.ParentRoute, "/") {
		return fmt.Errorf("route and parent_route must start with '/'")
	}
	switch s.Expect {
	case "rejected", "accepted":
	default:
		return fmt.Errorf("expect must be one of rejected, accepted (got %q)", s.Expect)
	}
	if s.Email == "" {
		return fmt.Errorf("email is required")
	}
	return nil
}
