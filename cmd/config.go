// cmd/config.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/signupguard/internal/reporting"
)

// newConfigCmd creates the `config` command, which prints the effective
// configuration after file, environment and flag layering.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			effective := *cfg
			if effective.Scenario.Password != "" {
				effective.Scenario.Password = reporting.Redacted
			}
			if effective.Scenario.ConfirmPassword != "" {
				effective.Scenario.ConfirmPassword = reporting.Redacted
			}

			out, err := yaml.Marshal(&effective)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
