// cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/signupguard/internal/config"
	"github.com/xkilldash9x/signupguard/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// envPrefix namespaces every environment override, e.g. SIGNUPGUARD_SCENARIO_BASE_URL.
const envPrefix = "SIGNUPGUARD"

// flagKeys maps command-line flags onto the configuration keys they override.
var flagKeys = map[string]string{
	"base-url":         "scenario.base_url",
	"route":            "scenario.route",
	"email":            "scenario.email",
	"password":         "scenario.password",
	"confirm-password": "scenario.confirm_password",
	"expect":           "scenario.expect",
	"driver":           "browser.driver",
	"headless":         "browser.headless",
	"install":          "browser.install",
	"max-attempts":     "navigation.max_attempts",
	"format":           "report.format",
	"output":           "report.output",
	"addr":             "fixture.addr",
	"flaky-loads":      "fixture.flaky_loads",
	"log-level":        "logger.level",
}

// NewRootCommand builds a fresh command tree. Each call returns independent
// flag state, so tests can execute it repeatedly.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultDriverFactory)
}

func newRootCommand(newDriver driverFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "signupguard",
		Short:         "signupguard checks that a signup form rejects weak passwords.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			// Reports may go to stdout, so logs always go to stderr.
			observability.Initialize(cfg.Logger, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
			observability.GetLogger().Debug("Starting signupguard", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./signupguard.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "signupguard version %s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd(newDriver))
	rootCmd.AddCommand(newFixtureCmd())
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errScenarioFailed) {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		observability.Sync()
		return err
	}
	observability.Sync()
	return nil
}

// initializeConfig layers the optional .env file, the config file, the
// environment and the changed flags of cmd onto v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("signupguard")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment only.
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	return bindErr
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in command context")
	}
	return cfg, nil
}
