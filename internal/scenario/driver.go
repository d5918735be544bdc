// internal/scenario/driver.go
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/browser"
	"github.com/xkilldash9x/signupguard/internal/frames"
	"github.com/xkilldash9x/signupguard/internal/interaction"
	"github.com/xkilldash9x/signupguard/internal/lifecycle"
	"github.com/xkilldash9x/signupguard/internal/navigation"
	"github.com/xkilldash9x/signupguard/internal/observability"
)

// State is a step of the scenario state machine.
type State string

const (
	StateInit            State = "init"
	StateLaunched        State = "launched"
	StateNavigated       State = "navigated"
	StateFrameStabilized State = "frame_stabilized"
	StateFilled          State = "filled"
	StateSubmitted       State = "submitted"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Terminal reports whether no transition can follow s.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Transition is one entry of a run's state trail.
type Transition struct {
	State  State     `json:"state"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// FieldResult records one fill.
type FieldResult struct {
	Name    string        `json:"name"`
	Locator string        `json:"locator"`
	Value   string        `json:"value"`
	Secret  bool          `json:"secret,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Result is everything a run observed. It is returned even when the run fails.
type Result struct {
	RunID    string       `json:"run_id"`
	Driver   string       `json:"driver"`
	Scenario string       `json:"scenario"`
	BaseURL  string       `json:"base_url"`
	Route    string       `json:"route"`
	Expect   Expectation  `json:"expect"`
	State    State        `json:"state"`
	Trail    []Transition `json:"trail"`

	Entry   *navigation.ReachResult    `json:"entry,omitempty"`
	Reach   *navigation.ReachResult    `json:"reach,omitempty"`
	Frames  []browser.StabilizeOutcome `json:"frames,omitempty"`
	Fields  []FieldResult              `json:"fields,omitempty"`
	Submit  string                     `json:"submit,omitempty"`
	Eval    *Evaluation                `json:"evaluation,omitempty"`
	Release lifecycle.ReleaseReport    `json:"release"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
}

func (r *Result) transition(logger *zap.Logger, s State, detail string) {
	r.State = s
	r.Trail = append(r.Trail, Transition{State: s, Detail: detail, At: time.Now()})
	logger.Debug("Scenario state changed.", zap.String("state", string(s)), zap.String("detail", detail))
}

// Options bounds the phases of a run.
type Options struct {
	// Timeout is the overall scenario budget. Zero means unbounded.
	Timeout time.Duration
	// SettleDelay is how long the page may react to the submission before it is evaluated.
	SettleDelay time.Duration
	// FrameTimeout bounds each per-frame stabilization.
	FrameTimeout time.Duration
	// RouteReady bounds how long a navigated route may take to render the form.
	RouteReady time.Duration
}

// Components are the collaborators a Driver sequences.
type Components struct {
	Lifecycle   *lifecycle.Manager
	Navigation  *navigation.Controller
	Frames      *frames.Traversal
	Interaction *interaction.Unit
}

// Driver runs one Definition from browser launch to teardown.
type Driver struct {
	c      Components
	def    *Definition
	opts   Options
	logger *zap.Logger
}

// NewDriver wires a scenario driver.
func NewDriver(c Components, def *Definition, opts Options, logger *zap.Logger) *Driver {
	return &Driver{c: c, def: def, opts: opts, logger: logger.Named("scenario")}
}

// Definition is the scenario the driver runs.
func (d *Driver) Definition() *Definition { return d.def }

// Run executes the scenario once. Browser resources are always released before
// Run returns; a fatal error is returned together with the partial Result.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Driver:    d.c.Lifecycle.DriverName(),
		Scenario:  d.def.Name,
		BaseURL:   d.c.Navigation.BaseURL(),
		Route:     d.def.Route,
		Expect:    d.def.Expect,
		StartedAt: time.Now(),
	}
	logger := d.logger.With(zap.String("run_id", res.RunID), zap.String("driver", res.Driver))
	res.transition(logger, StateInit, "")

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "scenario.run",
		observability.AttrRunID.String(res.RunID), observability.AttrDriver.String(res.Driver))

	logger.Info("Starting scenario.", zap.String("scenario", d.def.Name),
		zap.String("base_url", res.BaseURL), zap.String("route", d.def.Route), zap.String("expect", string(d.def.Expect)))

	var resources *lifecycle.Resources
	err := phase(ctx, "acquire", func(ctx context.Context) error {
		var err error
		resources, err = d.c.Lifecycle.Acquire(ctx)
		return err
	})
	if err == nil {
		res.transition(logger, StateLaunched, resources.Browser.Version())
		err = d.execute(ctx, logger, resources, res)
	}

	_ = phase(ctx, "release", func(ctx context.Context) error {
		res.Release = d.c.Lifecycle.Release(ctx, resources)
		return res.Release.Err
	})

	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		res.transition(logger, StateFailed, err.Error())
		logger.Error("Scenario failed.", zap.Error(err), zap.Duration("duration", res.Duration))
	} else {
		res.transition(logger, StateCompleted, "")
		logger.Info("Scenario completed.", zap.Duration("duration", res.Duration))
	}
	span.SetAttributes(observability.AttrOutcome.String(string(res.State)))
	observability.EndSpan(span, err)
	return res, err
}

func (d *Driver) execute(ctx context.Context, logger *zap.Logger, resources *lifecycle.Resources, res *Result) error {
	page, bctx := resources.Page, resources.Context

	if d.def.EntryRoute != "" && d.def.EntryRoute != d.def.Route {
		entry, err := d.c.Navigation.Reach(ctx, page, d.def.EntryRoute, nil)
		res.Entry = entry
		if err != nil {
			return err
		}
		res.transition(logger, StateNavigated, d.def.EntryRoute)
		if err := d.stabilizeFrames(ctx, logger, page, res); err != nil {
			return err
		}
	}

	ready := d.def.ReadyChain()
	probe := func(ctx context.Context) (bool, error) {
		current, err := interaction.CurrentPage(bctx)
		if err != nil {
			return false, err
		}
		return d.c.Interaction.WaitPresent(ctx, current, ready, d.opts.RouteReady)
	}
	reach, err := d.c.Navigation.Reach(ctx, page, d.def.Route, probe)
	res.Reach = reach
	if err != nil {
		return err
	}
	res.transition(logger, StateNavigated, d.def.Route)
	if err := d.stabilizeFrames(ctx, logger, page, res); err != nil {
		return err
	}

	for _, f := range d.def.Fields {
		err := phase(ctx, "fill", func(ctx context.Context) error {
			return d.fill(ctx, bctx, f, res)
		}, observability.AttrField.String(f.Name))
		if err != nil {
			return fmt.Errorf("filling %s: %w", f.Name, err)
		}
		res.transition(logger, StateFilled, f.Name)
	}

	err = phase(ctx, "submit", func(ctx context.Context) error {
		loc, err := d.c.Interaction.Locate(ctx, bctx, d.def.Submit, 0)
		if err != nil {
			return err
		}
		res.Submit = loc.String()
		return d.c.Interaction.Click(ctx, bctx, loc)
	})
	if err != nil {
		return fmt.Errorf("submitting: %w", err)
	}
	res.transition(logger, StateSubmitted, res.Submit)

	if err := phase(ctx, "settle", func(ctx context.Context) error { return wait(ctx, d.opts.SettleDelay) }); err != nil {
		return err
	}

	return phase(ctx, "evaluate", func(ctx context.Context) error {
		current, err := interaction.CurrentPage(bctx)
		if err != nil {
			return err
		}
		ev, err := Evaluate(ctx, current, d.def)
		if err != nil {
			return err
		}
		res.Eval = ev
		logger.Info("Submission evaluated.",
			zap.Bool("met", ev.Met),
			zap.Bool("authenticated", ev.Authenticated),
			zap.Int("form_count", ev.FormCount),
			zap.Strings("diagnostics", ev.Diagnostics))
		return ev.Err()
	})
}

func (d *Driver) stabilizeFrames(ctx context.Context, logger *zap.Logger, page browser.Page, res *Result) error {
	outcomes, err := d.c.Frames.StabilizeAll(ctx, page, d.opts.FrameTimeout)
	res.Frames = append(res.Frames, outcomes...)
	if err != nil {
		return err
	}
	stable := 0
	for _, o := range outcomes {
		if o.OK() {
			stable++
		}
	}
	res.transition(logger, StateFrameStabilized, fmt.Sprintf("%d/%d frames", stable, len(outcomes)))
	return nil
}

func (d *Driver) fill(ctx context.Context, bctx browser.Context, f Field, res *Result) error {
	start := time.Now()
	loc, err := d.c.Interaction.Locate(ctx, bctx, f.Chain, f.Index)
	if err != nil {
		return err
	}
	if err := d.c.Interaction.Fill(ctx, bctx, loc, f.Value); err != nil {
		return err
	}
	value := zap.String("value", f.Value)
	if f.Secret {
		value = observability.Secret("value", f.Value)
	}
	d.logger.Debug("Filled field", zap.String("field", f.Name), zap.String("locator", loc.String()), value)
	res.Fields = append(res.Fields, FieldResult{
		Name:    f.Name,
		Locator: loc.String(),
		Value:   f.Value,
		Secret:  f.Secret,
		Elapsed: time.Since(start),
	})
	return nil
}

// phase runs fn inside a span named after one scenario phase.
func phase(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := observability.StartSpan(ctx, "scenario."+name, attrs...)
	err := fn(ctx)
	observability.EndSpan(span, err)
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
