package engine

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ctag/platformio-atom-ide/pkg/activation"
	"github.com/ctag/platformio-atom-ide/pkg/resolver"
	"github.com/ctag/platformio-atom-ide/pkg/stores"
	"github.com/ctag/platformio-atom-ide/pkg/telemetry"
)

// run is the mutable context of a single Engine.Run.
type run struct {
	engine *Engine
	id     string
	logger zerolog.Logger

	state    *State
	canceled atomic.Bool
	view     ProgressView
	env      activation.EnvironmentContext
	phases   []Phase
	err      *EngineError

	// done is closed when the run's context ends.
	done <-chan struct{}

	// createsEnv is set when this run builds the isolated environment.
	// Only then may cleanup remove it.
	createsEnv bool
}

func (r *run) enter(p Phase) {
	r.phases = append(r.phases, p)
	r.logger.Debug().Str("phase", string(p)).Msg("entering phase")
}

// stopped reports whether the run is canceled, marking it canceled first if
// its context ended.
func (r *run) stopped() bool {
	if r.done != nil {
		select {
		case <-r.done:
			r.cancel("interrupted")
		default:
		}
	}
	return r.canceled.Load()
}

// cancel marks the run canceled. It never reverts.
func (r *run) cancel(reason string) {
	if r.canceled.CompareAndSwap(false, true) {
		r.logger.Info().Str("reason", reason).Msg("run canceled")
	}
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	e := r.engine
	ctx = telemetry.WrapLogger(e.logger).WithContext(ctx)
	ctx = telemetry.WithRunContext(ctx, r.id)
	r.logger = telemetry.FromContext(ctx).Zerolog()
	start := time.Now()
	r.recordRunStart(ctx, start)

	r.enter(PhaseInitializing)
	r.initialize(ctx)

	if r.err == nil {
		r.enter(PhaseComputingNeeds)
		r.computeNeeds()
	}

	if r.err == nil {
		r.enter(PhaseAwaitingDisplay)
		r.initializeView()

		r.enter(PhaseRunning)
		r.drive(ctx)
	}

	if r.err == nil {
		if r.canceled.Load() {
			r.enter(PhaseCanceled)
		} else {
			r.enter(PhaseCompleted)
			if r.view != nil {
				e.deps.Notifier.NotifySuccess("PlatformIO IDE has been successfully installed! " +
					"Some of its components become available after the IDE is restarted.")
			}
		}
	}

	r.enter(PhaseFinalizing)
	saveErr := r.finalize(ctx)

	status := stores.RunStatusSucceeded
	var runErr error
	switch {
	case r.err != nil:
		status = stores.RunStatusFailed
		runErr = r.err
	case r.canceled.Load():
		status = stores.RunStatusCancelled
	}
	if saveErr != nil {
		if status == stores.RunStatusSucceeded {
			status = stores.RunStatusFailed
		}
		if runErr == nil {
			runErr = saveErr
		}
	}

	r.recordRunEnd(ctx, status, runErr)
	telemetry.EndRunContext(ctx, string(status), runErr)
	r.enter(PhaseTerminal)

	r.logger.Info().
		Str("status", string(status)).
		Dur("duration", time.Since(start)).
		Int("step", r.state.Step).
		Int("total", r.state.Total).
		Msg("provisioning run finished")

	return &Report{
		RunID:       r.id,
		Status:      status,
		State:       *r.state,
		Phases:      r.phases,
		Environment: r.env,
		Err:         runErr,
	}, runErr
}

// initialize restores the persisted state or starts fresh, and makes sure
// the cache directory exists.
func (r *run) initialize(ctx context.Context) {
	e := r.engine

	r.state = &State{}
	data, ok, err := e.deps.Store.LoadState(ctx, StateKey)
	switch {
	case err != nil:
		e.metrics.RecordError(string(ErrorClassPersistence))
		r.logger.Warn().Err(err).Msg("failed to load state, starting fresh")
	case ok:
		restored, decodeErr := DecodeState(data)
		if decodeErr != nil {
			e.metrics.RecordError(string(ErrorClassPersistence))
			r.logger.Warn().Err(decodeErr).Msg("discarding corrupt state, starting fresh")
			break
		}
		r.state = restored
		r.state.Restored = true
	}

	r.state.Step = 0
	r.state.Total = len(r.pipeline())
	r.state.Canceled = false

	if err := e.deps.Cache.Init(); err != nil {
		r.fail("", NewFatalError("Cannot create cache directory", err).WithCode(ErrCodeArtifact))
	}
}

// computeNeeds inspects the environment and resolves the package sets.
func (r *run) computeNeeds() {
	e := r.engine
	s := r.state

	_, statErr := os.Stat(e.opts.EnvBinDir)
	s.EnvShouldBeCreated = e.opts.UseBuiltin && statErr != nil
	r.createsEnv = s.EnvShouldBeCreated
	if s.EnvShouldBeCreated {
		s.PlatformIOInstalled = false
	}

	installed, err := e.deps.Host.AvailableNames()
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to list installed packages")
		installed = nil
	}

	plan := resolver.Resolve(e.required, installed, e.opts.Stale, e.deps.Host.InstalledVersion)
	s.PackagesToRemove = plan.ToRemove
	s.PackagesToInstall = plan.ToInstall
	s.PackagesToUpgrade = plan.ToUpgrade
	s.PackageManagementIsNecessary = plan.Necessary()

	r.logger.Info().
		Bool("restored", s.Restored).
		Bool("env_should_be_created", s.EnvShouldBeCreated).
		Strs("to_remove", s.PackagesToRemove).
		Strs("to_install", s.PackagesToInstall).
		Strs("to_upgrade", s.PackagesToUpgrade).
		Msg("computed provisioning needs")
}

func (r *run) initializeView() {
	views := r.engine.deps.Views
	if views == nil || !r.state.ViewShouldBeDisplayed() {
		return
	}
	r.view = views.NewView("Installing PlatformIO IDE")
	r.view.OnCancel(func() { r.cancel("user") })
}

// drive runs the pipeline. Every step consumes its progress slot; once the
// run is canceled the remaining steps do no work, and steps that are not
// idempotent only do work on a fresh run. A fatal error stops the pipeline.
func (r *run) drive(ctx context.Context) {
	// Steps run detached from ctx. An interrupt marks the run canceled,
	// which loops inside a step observe through stopped.
	r.done = ctx.Done()

	steps := r.pipeline()
	for i, step := range steps {
		r.stopped()

		r.state.Step++
		if r.view != nil {
			r.view.SetProgress(r.state.Percent())
		}

		span := telemetry.StartStep(ctx, step.Name, i+1, len(steps))
		logger := span.Logger.Zerolog()
		if r.canceled.Load() {
			span.End("skipped", nil)
			r.recordEvent(ctx, step.Name, stores.EventLevelInfo, "step skipped", nil)
			continue
		}
		if !step.Idempotent && r.state.Restored {
			logger.Debug().Msg("first-run step skipped on a restored run")
			span.End("skipped", nil)
			r.recordEvent(ctx, step.Name, stores.EventLevelInfo, "step skipped", nil)
			continue
		}

		stepCtx := context.WithoutCancel(span.Ctx)
		logger.Debug().Int("index", r.state.Step).Int("total", r.state.Total).Msg("running step")

		if err := step.Run(stepCtx, r); err != nil {
			ee := asEngineError(err)
			span.End("failed", ee)
			r.fail(step.Name, ee)
			return
		}

		span.End("succeeded", nil)
		r.recordEvent(ctx, step.Name, stores.EventLevelInfo, "step succeeded", nil)
	}
	r.state.Canceled = r.canceled.Load()
}

// fail handles a fatal error: a partially built environment is removed,
// the error is logged and the user is notified.
func (r *run) fail(step string, err *EngineError) {
	e := r.engine
	if step != "" {
		err.WithStep(step)
	}
	r.err = err

	r.cleanup()
	e.metrics.RecordError(string(err.Class))
	r.logger.Error().Err(err).Str("detail", err.Detail).Msg(err.Message)
	e.deps.Notifier.NotifyError(err.Message, err.Detail)

	detail := err.Error()
	r.recordEvent(context.Background(), step, stores.EventLevelError, err.Message, &detail)
}

// finalize cleans up after a cancellation, disposes the view and persists
// the state. It runs on every exit path.
func (r *run) finalize(ctx context.Context) error {
	e := r.engine

	if r.canceled.Load() {
		r.state.Canceled = true
		r.cleanup()
		r.state.Canceled = false
	}

	if r.view != nil {
		r.view.Close()
	}

	data, err := r.state.Encode()
	if err == nil {
		err = e.deps.Store.SaveState(context.WithoutCancel(ctx), StateKey, data)
	}
	if err != nil {
		e.metrics.RecordError(string(ErrorClassPersistence))
		r.logger.Error().Err(err).Msg("failed to save state")
		return NewPersistenceError("failed to save state", err).WithCode(ErrCodeState)
	}
	return nil
}

// cleanup removes the isolated environment directory if this run was
// creating it. An environment that existed before the run is kept.
func (r *run) cleanup() {
	dir := r.engine.opts.EnvDir
	if dir == "" || !r.createsEnv {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove environment directory")
	}
}

func (r *run) recordRunStart(ctx context.Context, start time.Time) {
	runs := r.engine.deps.Runs
	if runs == nil {
		return
	}
	now := start.UTC()
	run := &stores.Run{
		ID:        r.id,
		Kind:      "install",
		Status:    stores.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := runs.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record run")
	}
}

func (r *run) recordRunEnd(ctx context.Context, status stores.RunStatus, err error) {
	runs := r.engine.deps.Runs
	if runs == nil {
		return
	}
	var msg *string
	if err != nil {
		s := err.Error()
		msg = &s
	}
	if err := runs.UpdateRunStatus(context.WithoutCancel(ctx), r.id, status, msg); err != nil {
		r.logger.Warn().Err(err).Msg("failed to update run status")
	}
}

func (r *run) recordEvent(ctx context.Context, step string, level stores.EventLevel, message string, details *string) {
	runs := r.engine.deps.Runs
	if runs == nil {
		return
	}
	ev := &stores.Event{
		RunID:   r.id,
		Level:   level,
		Message: message,
		Details: details,
	}
	if step != "" {
		ev.Step = &step
	}
	if err := runs.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn().Err(err).Msg("failed to record event")
	}
}

// asEngineError classifies err, treating unclassified errors as fatal.
func asEngineError(err error) *EngineError {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return NewFatalError(err.Error(), err)
}
