// File: cmd/root_test.go
package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/signupguard/internal/config"
	"github.com/xkilldash9x/signupguard/internal/reporting"
)

func TestRootCmd_VersionFlag(t *testing.T) {
	out, _, err := executeCommand(t, NewRootCommand(), "--version")
	require.NoError(t, err)
	assert.Equal(t, "signupguard version "+Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, _, err := executeCommand(t, NewRootCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "signupguard checks that a signup form rejects weak passwords.")
	for _, sub := range []string{"run", "fixture", "install", "config"} {
		assert.Contains(t, out, sub)
	}
}

func decodeEffectiveConfig(t *testing.T, out string) config.Config {
	t.Helper()
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	return cfg
}

func TestConfigCmd_Defaults(t *testing.T) {
	out, _, err := executeCommand(t, NewRootCommand(), "config")
	require.NoError(t, err)

	cfg := decodeEffectiveConfig(t, out)
	assert.Equal(t, "http://localhost:5173", cfg.Scenario.BaseURL)
	assert.Equal(t, "/signup", cfg.Scenario.Route)
	assert.Equal(t, "rejected", cfg.Scenario.Expect)
	assert.Equal(t, reporting.Redacted, cfg.Scenario.Password)
	assert.Equal(t, reporting.Redacted, cfg.Scenario.ConfirmPassword)
	assert.NotContains(t, out, "Ab1")
}

func TestConfigFlagOverride(t *testing.T) {
	path := createTempConfig(t, `
scenario:
  base_url: http://from-file.test
  route: /register
browser:
  driver: chromedp
`)

	t.Run("config file", func(t *testing.T) {
		out, _, err := executeCommand(t, NewRootCommand(), "config", "--config", path)
		require.NoError(t, err)
		cfg := decodeEffectiveConfig(t, out)
		assert.Equal(t, "http://from-file.test", cfg.Scenario.BaseURL)
		assert.Equal(t, "/register", cfg.Scenario.Route)
		assert.Equal(t, "chromedp", cfg.Browser.Driver)
	})

	t.Run("environment beats config file", func(t *testing.T) {
		t.Setenv("SIGNUPGUARD_SCENARIO_BASE_URL", "http://from-env.test")
		t.Setenv("SIGNUPGUARD_PASSWORD", "from-env-secret")
		out, _, err := executeCommand(t, NewRootCommand(), "config", "-c", path)
		require.NoError(t, err)
		cfg := decodeEffectiveConfig(t, out)
		assert.Equal(t, "http://from-env.test", cfg.Scenario.BaseURL)
		assert.Equal(t, "/register", cfg.Scenario.Route)
		assert.NotContains(t, out, "from-env-secret")
	})

	t.Run("log level flag", func(t *testing.T) {
		out, _, err := executeCommand(t, NewRootCommand(), "config", "--log-level", "debug")
		require.NoError(t, err)
		assert.Equal(t, "debug", decodeEffectiveConfig(t, out).Logger.Level)
	})
}

func TestRootCmd_ConfigErrors(t *testing.T) {
	t.Run("missing explicit config file", func(t *testing.T) {
		_, _, err := executeCommand(t, NewRootCommand(), "config", "--config", "/nonexistent/signupguard.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize configuration")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := createTempConfig(t, "scenario:\n  expect: maybe\n")
		_, _, err := executeCommand(t, NewRootCommand(), "config", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load or validate config")
		assert.Contains(t, err.Error(), "expect must be one of rejected, accepted")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := createTempConfig(t, "scenario: [unterminated\n")
		_, _, err := executeCommand(t, NewRootCommand(), "config", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.EqualError(t, err, "configuration not found in command context")

	want := config.NewDefaultConfig()
	got, err := getConfigFromContext(contextWithConfig(want))
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestInstallCmd(t *testing.T) {
	original := installFunc
	t.Cleanup(func() { installFunc = original })

	called := false
	installFunc = func(ctx context.Context, _ *zap.Logger) error {
		called = true
		return nil
	}
	_, _, err := executeCommand(t, NewRootCommand(), "install")
	require.NoError(t, err)
	assert.True(t, called)

	installFunc = func(context.Context, *zap.Logger) error { return assert.AnError }
	_, _, err = executeCommand(t, NewRootCommand(), "install")
	assert.ErrorIs(t, err, assert.AnError)
}
