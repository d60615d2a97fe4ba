// Package sequence runs the staged GL7 cooldown: a linear state machine of
// stages that combine a sensor snapshot, a threshold check, operator
// confirmation gates and an actuation script.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/safety"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

var (
	ErrAborted      = errors.New("sequence aborted")
	ErrRunFinished  = errors.New("run already finished")
	ErrUnknownStage = errors.New("unknown stage")
	// ErrTransport means no sensor of a stage snapshot responded.
	ErrTransport = errors.New("no sensor responded")
)

// AbortError is returned when a run ended in Aborted. It matches
// ErrAborted with errors.Is and unwraps to the cause.
type AbortError struct {
	Reason string
	Cause  error
}

func (e *AbortError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v: %s", ErrAborted, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", ErrAborted, e.Reason, e.Cause)
}

func (e *AbortError) Is(target error) bool { return target == ErrAborted }

func (e *AbortError) Unwrap() error { return e.Cause }

// Confirmer asks the operator to acknowledge a prompt. It blocks without
// timeout until the operator answers or ctx is cancelled. false means the
// operator declined, which aborts the run.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Observer is told about progress. Calls are made synchronously from the
// goroutine running the sequence and must not block.
type Observer interface {
	StageStarted(run *Run, stage Stage)
	SnapshotTaken(run *Run, stage Stage, snap sensor.Snapshot)
	StageFinished(run *Run, stage Stage, outcome Outcome)
	RunAborted(run *Run, reason string, report safety.Report)
}

type nopObserver struct{}

func (nopObserver) StageStarted(*Run, Stage)                   {}
func (nopObserver) SnapshotTaken(*Run, Stage, sensor.Snapshot) {}
func (nopObserver) StageFinished(*Run, Stage, Outcome)         {}
func (nopObserver) RunAborted(*Run, string, safety.Report)     {}

// Stopper shuts every heater down.
type Stopper interface {
	EmergencyStop() (bool, safety.Report)
}

// Hardware names the actuators the cooldown drives.
type Hardware struct {
	Pump4Heater *actuator.Heater
	Pump3Heater *actuator.Heater
	Switch4     *actuator.Switch
	Switch3     *actuator.Switch
}

// Roles maps the thermometers the stages reason about to channel names.
type Roles struct {
	Head3 string
	Head4 string
}

// Options configures a Controller.
type Options struct {
	Budget   RetryBudget
	Observer Observer
}

// Controller runs stages against the hardware. It holds no per-run state;
// everything mutable lives in the Run.
type Controller struct {
	sensors   *sensor.Service
	hw        Hardware
	roles     Roles
	guard     Stopper
	confirmer Confirmer
	observer  Observer
	budget    RetryBudget
	stages    map[StageID]Stage

	// sleep waits between threshold checks; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController returns a Controller for the GL7 stage set.
func NewController(sensors *sensor.Service, hw Hardware, roles Roles, guard Stopper, confirmer Confirmer, opts Options) *Controller {
	c := &Controller{
		sensors:   sensors,
		hw:        hw,
		roles:     roles,
		guard:     guard,
		confirmer: confirmer,
		observer:  opts.Observer,
		budget:    opts.Budget,
		sleep:     sleepCtx,
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.budget.Checks < 1 {
		c.budget.Checks = 1
	}
	c.stages = map[StageID]Stage{}
	for _, st := range c.gl7Stages() {
		c.stages[st.ID] = st
	}
	return c
}

// Stage returns the descriptor of id.
func (c *Controller) Stage(id StageID) (Stage, bool) {
	st, ok := c.stages[id]
	return st, ok
}

// Stages returns every stage descriptor in order.
func (c *Controller) Stages() []Stage {
	ret := make([]Stage, 0, len(c.stages))
	for _, st := range c.stages {
		ret = append(ret, st)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// ValidateParams checks run parameters before a run is created.
func ValidateParams(p Params) error {
	for name, v := range map[string]float64{"pump4Level": p.Pump4Level, "pump3Level": p.Pump3Level} {
		if !(v >= 0 && v <= 100) {
			return fmt.Errorf("%s: %w: got %v", name, actuator.ErrLevelOutOfRange, v)
		}
	}
	if p.From != StageNone && !p.From.Runnable() {
		return fmt.Errorf("%w: %d", ErrUnknownStage, p.From)
	}
	return nil
}

// Run runs stages from the run's current stage until it is Complete or
// Aborted, or after one stage if the run was started with Only.
func (c *Controller) Run(ctx context.Context, run *Run) error {
	for !run.Done() {
		if err := c.RunStage(ctx, run, run.Stage()); err != nil {
			return err
		}
		if run.Params().Only {
			break
		}
	}
	if !run.Done() && run.AbortRequested() {
		return c.abort(run, run.abortReason(), nil)
	}
	return nil
}

// RunStage runs exactly one stage and advances run to its successor.
func (c *Controller) RunStage(ctx context.Context, run *Run, id StageID) error {
	if run.Done() {
		return ErrRunFinished
	}
	st, ok := c.stages[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStage, id)
	}
	if reason, ok := c.abortRequested(ctx, run); ok {
		return c.abort(run, reason, nil)
	}

	logger := logrus.WithFields(logrus.Fields{
		"run":   run.ID(),
		"stage": st.ID,
		"name":  st.Name,
	})
	logger.Infof("stage %d: %s", st.ID, st.Name)
	run.enter(st.ID, st.Name)
	c.observer.StageStarted(run, st)

	snap, err := c.snapshot(run, st)
	if err != nil {
		return c.abort(run, "sensor failure", err)
	}

	outcome := OutcomeDone
	if st.Threshold != nil && !st.ThresholdAfterScript {
		outcome, snap, err = c.await(ctx, run, st, snap)
		if err != nil {
			return c.abortFor(ctx, run, err)
		}
	}

	for _, step := range st.Script {
		if err := c.runStep(ctx, run, st, step); err != nil {
			return c.abortFor(ctx, run, err)
		}
	}

	if st.Threshold != nil && st.ThresholdAfterScript {
		snap, err = c.snapshot(run, st)
		if err != nil {
			return c.abort(run, "sensor failure", err)
		}
		outcome, snap, err = c.await(ctx, run, st, snap)
		if err != nil {
			return c.abortFor(ctx, run, err)
		}
	}

	if reason, ok := c.abortRequested(ctx, run); ok {
		return c.abort(run, reason, nil)
	}

	if st.Report != nil {
		v := st.Report(run, snap)
		run.setVerdict(v)
		run.note(v)
		logger.Info(v)
	}

	run.leave(outcome, st.Next)
	c.observer.StageFinished(run, st, outcome)
	logger.WithField("outcome", outcome).Infof("stage %d finished, next %s", st.ID, st.Next)
	return nil
}

// errAbortRequested is an internal marker for a cooperative abort.
var errAbortRequested = errors.New("abort requested")

func (c *Controller) abortRequested(ctx context.Context, run *Run) (string, bool) {
	if run.AbortRequested() {
		return run.abortReason(), true
	}
	if ctx.Err() != nil {
		return "cancelled", true
	}
	return "", false
}

// abortFor aborts the run with a reason derived from err.
func (c *Controller) abortFor(ctx context.Context, run *Run, err error) error {
	if reason, ok := c.abortRequested(ctx, run); ok {
		if errors.Is(err, errAbortRequested) || errors.Is(err, context.Canceled) {
			err = nil
		}
		return c.abort(run, reason, err)
	}
	var cerr *actuator.ActuatorCommandError
	if errors.As(err, &cerr) {
		return c.abort(run, "actuator command failed", err)
	}
	var derr *declinedError
	if errors.As(err, &derr) {
		return c.abort(run, "operator declined: "+derr.prompt, nil)
	}
	return c.abort(run, "stage failed", err)
}

// abort shuts every heater down and only then marks the run Aborted.
func (c *Controller) abort(run *Run, reason string, cause error) error {
	logger := logrus.WithFields(logrus.Fields{
		"run":    run.ID(),
		"stage":  run.Stage(),
		"reason": reason,
	})
	if cause != nil {
		logger = logger.WithError(cause)
	}
	logger.Warn("aborting cooldown, shutting down heaters")

	ok, rep := c.guard.EmergencyStop()
	if !ok {
		logger.Error("heater shutdown incomplete after abort")
	}

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	run.markAborted(reason, errMsg, &rep)
	c.observer.RunAborted(run, reason, rep)

	return &AbortError{Reason: reason, Cause: cause}
}

type declinedError struct{ prompt string }

func (e *declinedError) Error() string { return "operator declined: " + e.prompt }

func (c *Controller) runStep(ctx context.Context, run *Run, st Stage, step Step) error {
	if step.Prompt != nil {
		if _, ok := c.abortRequested(ctx, run); ok {
			return errAbortRequested
		}
		prompt := step.Prompt(run)
		run.setAwaiting(prompt)
		logrus.WithField("stage", st.ID).Infof("waiting for operator: %s", prompt)

		ok, err := c.confirmer.Confirm(ctx, prompt)
		run.setAwaiting("")
		if _, aborted := c.abortRequested(ctx, run); aborted {
			return errAbortRequested
		}
		if err != nil {
			return err
		}
		if !ok {
			return &declinedError{prompt: prompt}
		}
	}

	logrus.WithField("stage", st.ID).Infof("step: %s", step.Description)
	if err := step.Do(ctx, run); err != nil {
		return err
	}
	run.note(step.Description)
	return nil
}

// await polls the stage threshold on the retry budget, starting with
// first. Running out of budget is not an error.
func (c *Controller) await(ctx context.Context, run *Run, st Stage, first sensor.Snapshot) (Outcome, sensor.Snapshot, error) {
	th := st.Threshold
	snap := first
	logger := logrus.WithFields(logrus.Fields{
		"stage":     st.ID,
		"threshold": th.Description,
	})

	for check := 1; ; check++ {
		if th.Met(snap) {
			logger.Infof("threshold met on check %d/%d", check, c.budget.Checks)
			return OutcomeThresholdMet, snap, nil
		}
		if check >= c.budget.Checks {
			msg := fmt.Sprintf("threshold %s not met after %d checks (%s), advancing without confirmation",
				th.Description, c.budget.Checks, th.Shortfall(snap))
			logger.Warn(msg)
			run.note(msg)
			return OutcomeAdvancedWithoutConfirmation, snap, nil
		}

		logger.Infof("check %d/%d: %s, waiting %s", check, c.budget.Checks, th.Shortfall(snap), c.budget.Interval)
		if err := c.sleep(ctx, c.budget.Interval); err != nil {
			return "", snap, err
		}
		if run.AbortRequested() {
			return "", snap, errAbortRequested
		}

		var err error
		snap, err = c.snapshot(run, st)
		if err != nil {
			return "", snap, err
		}
	}
}

// snapshot reads the stage sensors, records and reports every reading
// (sentinels included) before anything is decided from them.
func (c *Controller) snapshot(run *Run, st Stage) (sensor.Snapshot, error) {
	snap, err := c.sensors.Snapshot(st.Sensors...)
	if err != nil {
		return snap, err
	}

	responded := false
	for _, e := range snap.Entries {
		logrus.WithFields(logrus.Fields{
			"stage":   st.ID,
			"channel": e.Channel,
			"raw":     e.Raw.String(),
		}).Infof("%s: %s", e.Channel, e.Reading)
		if e.Raw.Status != sensor.StatusNoResponse {
			responded = true
		}
	}
	run.addSnapshot(snap)
	c.observer.SnapshotTaken(run, st, snap)

	if len(snap.Entries) > 0 && !responded {
		return snap, ErrTransport
	}
	return snap, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
