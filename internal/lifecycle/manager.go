// internal/lifecycle/manager.go
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/browser"
)

// Step names, shared by acquisition errors and release reports.
const (
	StepStart        = "engine.start"
	StepLaunch       = "browser.launch"
	StepNewContext   = "context.new"
	StepNewPage      = "page.new"
	StepClosePage    = "page.close"
	StepCloseContext = "context.close"
	StepCloseBrowser = "browser.close"
	StepStop         = "engine.stop"
)

// DefaultReleaseTimeout bounds each individual release step.
const DefaultReleaseTimeout = 15 * time.Second

// Resources is the ownership tree of one run. Any suffix of it may be nil when
// acquisition stopped part way.
type Resources struct {
	Engine  browser.Engine
	Browser browser.Browser
	Context browser.Context
	Page    browser.Page
}

// Options fixes what Acquire asks the driver for.
type Options struct {
	Launch  browser.LaunchOptions
	Context browser.ContextOptions
	// ReleaseTimeout bounds each release step. Zero means DefaultReleaseTimeout.
	ReleaseTimeout time.Duration
}

// Manager acquires the Engine → Browser → Context → Page tree and releases it in
// reverse.
type Manager struct {
	driver browser.Driver
	opts   Options
	logger *zap.Logger
}

// NewManager creates a lifecycle manager for driver.
func NewManager(driver browser.Driver, opts Options, logger *zap.Logger) *Manager {
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = DefaultReleaseTimeout
	}
	return &Manager{
		driver: driver,
		opts:   opts,
		logger: logger.Named("lifecycle").With(zap.String("driver", driver.Name())),
	}
}

// DriverName names the automation backend the manager acquires from.
func (m *Manager) DriverName() string { return m.driver.Name() }

// Acquire builds the resource tree. On failure it returns the partially filled
// Resources together with a *browser.StepError naming the step; the caller must
// still hand the partial tree to Release.
func (m *Manager) Acquire(ctx context.Context) (*Resources, error) {
	res := &Resources{}

	eng, err := m.driver.Start(ctx)
	if err != nil {
		return res, m.failed(StepStart, err)
	}
	res.Engine = eng

	b, err := eng.Launch(ctx, m.opts.Launch)
	if err != nil {
		return res, m.failed(StepLaunch, err)
	}
	res.Browser = b

	bctx, err := b.NewContext(ctx, m.opts.Context)
	if err != nil {
		return res, m.failed(StepNewContext, err)
	}
	res.Context = bctx

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return res, m.failed(StepNewPage, err)
	}
	res.Page = page

	m.logger.Debug("Browser resources acquired.",
		zap.String("browser_version", b.Version()),
		zap.Duration("default_timeout", bctx.DefaultTimeout()))
	return res, nil
}

func (m *Manager) failed(step string, err error) error {
	m.logger.Error("Failed to acquire browser resource.", zap.String("step", step), zap.Error(err))
	return &browser.StepError{Step: step, Err: err}
}

// ReleaseStep records one attempted close.
type ReleaseStep struct {
	Step    string        `json:"step"`
	Elapsed time.Duration `json:"elapsed"`
	Error   string        `json:"error,omitempty"`
}

// ReleaseReport lists every close attempted, in order. Err aggregates the
// failures; it is informational and never aborts a release.
type ReleaseReport struct {
	Steps []ReleaseStep `json:"steps"`
	Err   error         `json:"-"`
}

// OK reports whether every attempted close succeeded.
func (r ReleaseReport) OK() bool { return r.Err == nil }

// Release closes pages, then the context, the browser and finally the engine.
// Nil handles are skipped and every failure is logged and swallowed so a broken
// later handle never keeps an earlier one alive. Each step runs detached from
// ctx's cancellation under its own timeout, so a run that ended by timeout or
// signal is still fully released.
func (m *Manager) Release(ctx context.Context, res *Resources) ReleaseReport {
	var report ReleaseReport
	if res == nil {
		return report
	}
	base := context.WithoutCancel(ctx)

	closeStep := func(step string, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(base, m.opts.ReleaseTimeout)
		defer cancel()

		start := time.Now()
		err := fn(stepCtx)
		rs := ReleaseStep{Step: step, Elapsed: time.Since(start)}
		if err != nil {
			rs.Error = err.Error()
			multierr.AppendInto(&report.Err, fmt.Errorf("%s: %w", step, err))
			m.logger.Warn("Error during resource release.", zap.String("step", step), zap.Error(err))
		}
		report.Steps = append(report.Steps, rs)
	}

	for _, p := range m.pages(res) {
		closeStep(StepClosePage, p.Close)
	}
	if res.Context != nil {
		closeStep(StepCloseContext, res.Context.Close)
	}
	if res.Browser != nil {
		closeStep(StepCloseBrowser, res.Browser.Close)
	}
	if res.Engine != nil {
		closeStep(StepStop, res.Engine.Stop)
	}

	if report.OK() {
		m.logger.Debug("Browser resources released.", zap.Int("steps", len(report.Steps)))
	}
	return report
}

// pages returns every page the context opened, the run's page included.
func (m *Manager) pages(res *Resources) []browser.Page {
	if res.Context == nil {
		if res.Page != nil {
			return []browser.Page{res.Page}
		}
		return nil
	}
	pages := res.Context.Pages()
	if res.Page == nil {
		return pages
	}
	for _, p := range pages {
		if p == res.Page {
			return pages
		}
	}
	return append([]browser.Page{res.Page}, pages...)
}
