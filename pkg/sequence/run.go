package sequence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gl7cryo/gl7ctl/pkg/safety"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

// Run is one cooldown invocation. It is the only mutable state of the
// sequence and is safe for concurrent use: the controller advances it
// while observers read its Status.
type Run struct {
	mu sync.Mutex

	id         string
	params     Params
	stage      StageID
	startedAt  time.Time
	finishedAt time.Time
	awaiting   string
	history    []StageRecord
	aborted    bool
	reason     string
	err        string
	safetyStop *safety.Report
	verdict    string
}

// NewRun returns a run positioned at params.From (Stage1 by default).
func NewRun(params Params) *Run {
	if params.From == StageNone {
		params.From = Stage1
	}
	return &Run{
		id:        uuid.NewString(),
		params:    params,
		stage:     params.From,
		startedAt: time.Now(),
	}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Params returns the run parameters.
func (r *Run) Params() Params { return r.params }

// Stage returns the current stage.
func (r *Run) Stage() StageID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Abort requests cancellation. The controller notices it at the next
// stage boundary or confirmation gate.
func (r *Run) Abort(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted || r.stage.Terminal() {
		return
	}
	r.aborted = true
	r.reason = reason
}

// AbortRequested reports whether Abort was called.
func (r *Run) AbortRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

func (r *Run) abortReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Done reports whether the run reached Complete or Aborted.
func (r *Run) Done() bool {
	return r.Stage().Terminal()
}

// Status returns a copy of the run state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	hist := make([]StageRecord, len(r.history))
	for i, h := range r.history {
		h.Snapshots = append([]sensor.Snapshot(nil), h.Snapshots...)
		h.Notes = append([]string(nil), h.Notes...)
		hist[i] = h
	}
	return Status{
		ID:          r.id,
		Stage:       r.stage,
		StageName:   r.stage.String(),
		Params:      r.params,
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
		Awaiting:    r.awaiting,
		Aborted:     r.stage == StageAborted,
		AbortReason: r.reason,
		Error:       r.err,
		History:     hist,
		SafetyStop:  r.safetyStop,
		Verdict:     r.verdict,
	}
}

func (r *Run) enter(id StageID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = id
	r.history = append(r.history, StageRecord{Stage: id, Name: name, StartedAt: time.Now()})
}

func (r *Run) current() *StageRecord {
	if len(r.history) == 0 {
		return nil
	}
	return &r.history[len(r.history)-1]
}

func (r *Run) addSnapshot(s sensor.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.current(); rec != nil {
		rec.Snapshots = append(rec.Snapshots, s)
	}
}

func (r *Run) note(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.current(); rec != nil {
		rec.Notes = append(rec.Notes, msg)
	}
}

func (r *Run) setAwaiting(prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awaiting = prompt
}

func (r *Run) setVerdict(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdict = v
}

// leave closes the current stage record and moves to next.
func (r *Run) leave(outcome Outcome, next StageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.current(); rec != nil {
		rec.Outcome = outcome
		rec.FinishedAt = time.Now()
	}
	r.stage = next
	if next == StageComplete {
		r.finishedAt = time.Now()
	}
}

func (r *Run) markAborted(reason string, errMsg string, rep *safety.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.current(); rec != nil && rec.FinishedAt.IsZero() {
		rec.Outcome = OutcomeAborted
		rec.FinishedAt = time.Now()
	}
	r.aborted = true
	if r.reason == "" {
		r.reason = reason
	}
	r.err = errMsg
	r.awaiting = ""
	r.safetyStop = rep
	r.stage = StageAborted
	r.finishedAt = time.Now()
}
