// internal/scenario/build.go
package scenario

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/config"
	"github.com/xkilldash9x/signupguard/internal/frames"
	"github.com/xkilldash9x/signupguard/internal/interaction"
	"github.com/xkilldash9x/signupguard/internal/lifecycle"
	"github.com/xkilldash9x/signupguard/internal/navigation"
)

// LaunchOptionsFromConfig maps the browser section onto launch options.
func LaunchOptionsFromConfig(cfg config.BrowserConfig) browser.LaunchOptions {
	return browser.LaunchOptions{
		Headless:            cfg.Headless,
		WindowWidth:         cfg.WindowWidth,
		WindowHeight:        cfg.WindowHeight,
		DisableSharedMemory: cfg.DisableSharedMemory,
		IPCMode:             browser.IPCMode(cfg.IPCMode),
		ProcessModel:        browser.ProcessModel(cfg.ProcessModel),
		NoSandbox:           cfg.NoSandbox,
		ExecutablePath:      cfg.ExecutablePath,
		ExtraArgs:           cfg.Args,
	}
}

// New assembles the signup scenario driver for bd from the run configuration.
func New(cfg *config.Config, bd browser.Driver, logger *zap.Logger) (*Driver, error) {
	def, err := SignupDefinition(cfg.Scenario)
	if err != nil {
		return nil, err
	}

	launch := LaunchOptionsFromConfig(cfg.Browser)
	if err := launch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid browser configuration: %w", err)
	}
	lc := lifecycle.NewManager(bd, lifecycle.Options{
		Launch: launch,
		Context: browser.ContextOptions{
			DefaultTimeout: cfg.Timeouts.ContextDefault,
			ViewportWidth:  cfg.Browser.WindowWidth,
			ViewportHeight: cfg.Browser.WindowHeight,
		},
		ReleaseTimeout: cfg.Timeouts.Release,
	}, logger)

	navOpts, err := navigation.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid navigation configuration: %w", err)
	}
	nav, err := navigation.NewController(cfg.Scenario.BaseURL, navOpts, logger)
	if err != nil {
		return nil, err
	}

	return NewDriver(Components{
		Lifecycle:   lc,
		Navigation:  nav,
		Frames:      frames.NewTraversal(nav, navOpts.StabilizeState, logger),
		Interaction: interaction.NewUnit(interaction.OptionsFromConfig(cfg.Interaction), logger),
	}, def, Options{
		Timeout:      cfg.Timeouts.Scenario,
		SettleDelay:  cfg.Interaction.SettleDelay,
		FrameTimeout: cfg.Timeouts.Stabilize,
		RouteReady:   cfg.Timeouts.RouteReady,
	}, logger), nil
}
