// cmd/fixture.go
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/fixture"
	"github.com/xkilldash9x/signupguard/internal/observability"
)

// newFixtureCmd creates the `fixture` command, which serves the bundled signup
// application until interrupted.
func newFixtureCmd() *cobra.Command {
	fixtureCmd := &cobra.Command{
		Use:   "fixture",
		Short: "Serves the bundled signup application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			srv, err := fixture.New(fixture.OptionsFromConfig(cfg.Fixture, cfg.Scenario.SessionStorageKey), logger)
			if err != nil {
				return err
			}
			logger.Info("Serving fixture application. Press Ctrl+C to stop.",
				zap.String("addr", cfg.Fixture.Addr),
				zap.Int("min_password_length", cfg.Fixture.MinPasswordLength))

			err = srv.ListenAndServe(cmd.Context(), cfg.Fixture.Addr)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	fixtureCmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:5173)")
	fixtureCmd.Flags().Int("flaky-loads", 0, "Number of loads that never render the form")
	return fixtureCmd
}
