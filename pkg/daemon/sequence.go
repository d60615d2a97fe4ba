package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/events"
	"github.com/gl7cryo/gl7ctl/pkg/safety"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
	"github.com/gl7cryo/gl7ctl/pkg/sequence"
)

var (
	ErrRunInProgress = errors.New("a cooldown is already running")
	ErrNoRun         = errors.New("no cooldown has been started")
	ErrNotAwaiting   = errors.New("cooldown is not waiting for confirmation")
)

// remoteConfirmer parks a prompt until an HTTP client answers it.
type remoteConfirmer struct {
	mu      sync.Mutex
	pending chan bool
	prompt  string

	// notify is told about new prompts and, with "", answered ones.
	notify func(prompt string)
}

func (r *remoteConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	ch := make(chan bool, 1)
	r.mu.Lock()
	r.pending = ch
	r.prompt = prompt
	r.mu.Unlock()
	r.publish(prompt)

	defer func() {
		r.mu.Lock()
		if r.pending == ch {
			r.pending = nil
			r.prompt = ""
		}
		r.mu.Unlock()
		r.publish("")
	}()

	select {
	case ok := <-ch:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (r *remoteConfirmer) publish(prompt string) {
	if r.notify != nil {
		r.notify(prompt)
	}
}

// Answer delivers the operator's answer to the pending prompt.
func (r *remoteConfirmer) Answer(ok bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return "", ErrNotAwaiting
	}
	prompt := r.prompt
	r.pending <- ok
	r.pending = nil
	r.prompt = ""
	return prompt, nil
}

// sequenceManager owns at most one running cooldown.
type sequenceManager struct {
	mu        sync.Mutex
	ctrl      *sequence.Controller
	confirmer *remoteConfirmer
	run       *sequence.Run
	cancel    context.CancelFunc
	done      chan struct{}
}

func newSequenceManager(newController func(sequence.Confirmer, sequence.Observer) *sequence.Controller) *sequenceManager {
	m := &sequenceManager{}
	m.confirmer = &remoteConfirmer{notify: m.awaiting}
	m.ctrl = newController(m.confirmer, sequenceObserver{})
	return m
}

// Start validates params and runs a new cooldown in the background.
func (m *sequenceManager) Start(p sequence.Params) (sequence.Status, error) {
	if err := sequence.ValidateParams(p); err != nil {
		return sequence.Status{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runningLocked() {
		return sequence.Status{}, ErrRunInProgress
	}

	run := sequence.NewRun(p)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.run, m.cancel, m.done = run, cancel, done
	sequenceStage.Set(float64(run.Stage()))

	logrus.WithFields(logrus.Fields{
		"run":        run.ID(),
		"from":       run.Stage(),
		"only":       p.Only,
		"pump4Level": p.Pump4Level,
		"pump3Level": p.Pump3Level,
	}).Info("cooldown started")

	go func() {
		defer close(done)
		defer cancel()
		err := m.ctrl.Run(ctx, run)
		switch {
		case err == nil:
			logrus.WithField("run", run.ID()).Infof("cooldown stopped at %s", run.Stage())
		case errors.Is(err, sequence.ErrAborted):
			logrus.WithField("run", run.ID()).Warnf("cooldown ended: %v", err)
		default:
			logrus.WithField("run", run.ID()).Errorf("cooldown failed: %v", err)
		}
		sequenceStage.Set(float64(run.Stage()))
	}()

	return run.Status(), nil
}

// Status returns the current or last run.
func (m *sequenceManager) Status() (sequence.Status, error) {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run == nil {
		return sequence.Status{}, ErrNoRun
	}
	return run.Status(), nil
}

// runningLocked reports whether the run goroutine is still going. A run
// started with Only stops before reaching a terminal stage.
func (m *sequenceManager) runningLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// CurrentID returns the id of the run in progress, or "".
func (m *sequenceManager) CurrentID() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.runningLocked() || m.run == nil {
		return ""
	}
	return m.run.ID()
}

// Active reports whether a run is in progress.
func (m *sequenceManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

// Confirm answers the pending prompt.
func (m *sequenceManager) Confirm(ok bool) (string, error) {
	if !m.Active() {
		return "", ErrNotAwaiting
	}
	return m.confirmer.Answer(ok)
}

// Abort requests the running cooldown to stop. The controller shuts the
// heaters down before the run reads as Aborted.
func (m *sequenceManager) Abort(reason string) error {
	m.mu.Lock()
	run, cancel, running := m.run, m.cancel, m.runningLocked()
	m.mu.Unlock()
	if !running {
		return ErrNoRun
	}
	run.Abort(reason)
	cancel()
	return nil
}

// Wait blocks until the current run goroutine exits or timeout passes.
func (m *sequenceManager) Wait(timeout time.Duration) bool {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *sequenceManager) awaiting(prompt string) {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run == nil {
		return
	}
	sseHub.Publish(events.Awaiting, events.AwaitingEvent{
		RunID:  run.ID(),
		Stage:  int(run.Stage()),
		Prompt: prompt,
		Ts:     time.Now().Unix(),
	})
}

// sequenceObserver forwards progress to SSE subscribers and metrics.
type sequenceObserver struct{}

func (sequenceObserver) StageStarted(run *sequence.Run, st sequence.Stage) {
	sequenceStage.Set(float64(st.ID))
	sseHub.Publish(events.StageStarted, events.StageEvent{
		RunID: run.ID(),
		Stage: int(st.ID),
		Name:  st.Name,
		Ts:    time.Now().Unix(),
	})
}

func (sequenceObserver) SnapshotTaken(_ *sequence.Run, _ sequence.Stage, snap sensor.Snapshot) {
	observeSnapshot(snap)
	sseHub.Publish(events.Snapshot, snap)
}

func (sequenceObserver) StageFinished(run *sequence.Run, st sequence.Stage, outcome sequence.Outcome) {
	sequenceOutcomes.WithLabelValues(st.ID.String(), string(outcome)).Inc()
	sseHub.Publish(events.StageFinished, events.StageEvent{
		RunID:   run.ID(),
		Stage:   int(st.ID),
		Name:    st.Name,
		Outcome: string(outcome),
		Next:    st.Next.String(),
		Ts:      time.Now().Unix(),
	})
}

func (sequenceObserver) RunAborted(run *sequence.Run, reason string, rep safety.Report) {
	sequenceStage.Set(float64(sequence.StageAborted))
	observeEmergencyStop(rep.OK)
	sseHub.Publish(events.RunAborted, events.AbortEvent{
		RunID:     run.ID(),
		Reason:    reason,
		HeatersOK: rep.OK,
		Ts:        time.Now().Unix(),
	})
}
