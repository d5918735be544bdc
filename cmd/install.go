// cmd/install.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/signupguard/internal/browser/pwengine"
	"github.com/xkilldash9x/signupguard/internal/observability"
)

// installFunc is swapped in tests.
var installFunc = pwengine.EnsureInstallation

// newInstallCmd creates the `install` command.
func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Downloads the Playwright driver and Chromium",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			if err := installFunc(cmd.Context(), logger); err != nil {
				return err
			}
			logger.Info("Playwright driver and Chromium are installed.")
			return nil
		},
	}
}
