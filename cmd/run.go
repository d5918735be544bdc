// cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/browser/cdpengine"
	"github.com/xkilldash9x/signupguard/internal/browser/pwengine"
	"github.com/xkilldash9x/signupguard/internal/config"
	"github.com/xkilldash9x/signupguard/internal/fixture"
	"github.com/xkilldash9x/signupguard/internal/observability"
	"github.com/xkilldash9x/signupguard/internal/reporting"
	"github.com/xkilldash9x/signupguard/internal/scenario"
)

// errScenarioFailed is returned when the run finished but did not pass. The
// report already carries the details.
var errScenarioFailed = errors.New("signup scenario failed")

// driverFactory selects the browser automation backend.
type driverFactory func(cfg *config.Config, logger *zap.Logger) (browser.Driver, error)

func defaultDriverFactory(cfg *config.Config, logger *zap.Logger) (browser.Driver, error) {
	switch strings.ToLower(cfg.Browser.Driver) {
	case "playwright":
		return pwengine.NewDriver(cfg.Browser.Install, logger), nil
	case "chromedp":
		return cdpengine.NewDriver(logger), nil
	default:
		return nil, fmt.Errorf("unsupported browser driver: %s", cfg.Browser.Driver)
	}
}

type runOptions struct {
	// WithFixture serves the stand-in application and points the scenario at it.
	WithFixture bool
	// Stdout receives the report when no output file is configured.
	Stdout io.Writer
	// TraceOut receives exported spans when tracing has no output file.
	TraceOut io.Writer
}

// newRunCmd creates the `run` command.
func newRunCmd(newDriver driverFactory) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submits the signup form once and checks the outcome",
		Long: `Launches a browser, opens the signup route, fills the configured email and
password, submits the form and verifies the expected outcome. With the default
credentials the weak password must be rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			withFixture, _ := cmd.Flags().GetBool("with-fixture")
			return runScenario(cmd.Context(), cfg, runOptions{
				WithFixture: withFixture,
				Stdout:      cmd.OutOrStdout(),
				TraceOut:    cmd.ErrOrStderr(),
			}, newDriver, observability.GetLogger())
		},
	}

	runCmd.Flags().String("base-url", "", "Origin of the application under test")
	runCmd.Flags().String("route", "", "Route of the signup form")
	runCmd.Flags().String("email", "", "Email address to submit")
	runCmd.Flags().String("password", "", "Password to submit")
	runCmd.Flags().String("confirm-password", "", "Confirmation password to submit (defaults to --password)")
	runCmd.Flags().String("expect", "", "Expected outcome: rejected or accepted")
	runCmd.Flags().String("driver", "", "Browser automation backend: playwright or chromedp")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window")
	runCmd.Flags().Bool("install", false, "Install the Playwright driver and Chromium before running")
	runCmd.Flags().Int("max-attempts", 0, "Navigation attempts before the route is considered unreachable")
	runCmd.Flags().StringP("format", "f", "", "Report format: json, sarif or text")
	runCmd.Flags().StringP("output", "o", "", "Report file (default stdout)")
	runCmd.Flags().Bool("with-fixture", false, "Serve the bundled signup application and run against it")
	runCmd.Flags().String("addr", "", "Listen address of the bundled application (with --with-fixture)")
	runCmd.Flags().Int("flaky-loads", 0, "Number of bundled application loads that never render the form")
	return runCmd
}

// runScenario executes one scenario run and writes its report. It returns
// errScenarioFailed when the run completed its lifecycle but did not pass.
func runScenario(ctx context.Context, cfg *config.Config, opts runOptions, newDriver driverFactory, logger *zap.Logger) error {
	tp, traceOut, err := initTracing(cfg, opts.TraceOut)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeouts.Release)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("Failed to flush traces.", zap.Error(shutdownErr))
		}
		if closeErr := traceOut.Close(); closeErr != nil {
			logger.Warn("Failed to close trace output.", zap.Error(closeErr))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	fixtureCtx, stopFixture := context.WithCancel(gctx)
	defer stopFixture()

	if opts.WithFixture {
		srv, err := fixture.New(fixture.OptionsFromConfig(cfg.Fixture, cfg.Scenario.SessionStorageKey), logger)
		if err != nil {
			return fmt.Errorf("failed to build fixture application: %w", err)
		}
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", cfg.Fixture.Addr)
		if err != nil {
			return fmt.Errorf("fixture listen on %s: %w", cfg.Fixture.Addr, err)
		}
		cfg.Scenario.BaseURL = "http://" + ln.Addr().String()
		g.Go(func() error { return srv.Serve(fixtureCtx, ln) })
	}

	var result *scenario.Result
	var runErr error
	g.Go(func() error {
		defer stopFixture()

		bd, err := newDriver(cfg, logger)
		if err != nil {
			return err
		}
		d, err := scenario.New(cfg, bd, logger)
		if err != nil {
			return err
		}
		result, runErr = d.Run(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := writeReport(cfg, result, opts.Stdout); err != nil {
		return err
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
			return fmt.Errorf("run aborted: %w", ctx.Err())
		}
		logger.Error("Signup scenario did not pass.", zap.String("run_id", result.RunID), zap.String("state", string(result.State)), zap.Error(runErr))
		return fmt.Errorf("%w: %w", errScenarioFailed, runErr)
	}
	logger.Info("Signup scenario passed.", zap.String("run_id", result.RunID), zap.String("expect", string(result.Expect)))
	return nil
}

// initTracing returns the provider and the closer for its output, which must be
// closed after the provider shuts down.
func initTracing(cfg *config.Config, fallback io.Writer) (*observability.TracerProvider, io.Closer, error) {
	if fallback == nil {
		fallback = os.Stdout
	}
	var out io.WriteCloser = nopCloser{fallback}
	if cfg.Tracing.Enabled && cfg.Tracing.Output != "" {
		f, err := os.Create(cfg.Tracing.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace output %s: %w", cfg.Tracing.Output, err)
		}
		out = f
	}
	tp, err := observability.InitTracing(cfg.Tracing, cfg.Logger.ServiceName, out)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	return tp, out, nil
}

// nopCloser keeps the command's stdout and stderr open after a writer is closed.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeReport(cfg *config.Config, result *scenario.Result, stdout io.Writer) error {
	opts := reporting.Options{
		Format:      cfg.Report.Format,
		Output:      cfg.Report.Output,
		Pretty:      cfg.Report.Pretty,
		ToolVersion: Version,
	}

	var (
		reporter reporting.Reporter
		err      error
	)
	if (opts.Output == "" || opts.Output == "stdout") && stdout != nil {
		reporter, err = reporting.NewWithWriter(opts, nopCloser{stdout})
	} else {
		reporter, err = reporting.New(opts)
	}
	if err != nil {
		return fmt.Errorf("failed to create reporter: %w", err)
	}

	writeErr := reporter.Write(result)
	closeErr := reporter.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write report: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalize report: %w", closeErr)
	}
	return nil
}
