package sequence

import (
	"fmt"
	"time"

	"github.com/gl7cryo/gl7ctl/pkg/safety"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

// StageID identifies a stage of the cooldown.
type StageID int

const (
	StageAborted  StageID = -1
	StageNone     StageID = 0
	Stage1        StageID = 1
	Stage2        StageID = 2
	Stage3        StageID = 3
	Stage4        StageID = 4
	Stage5        StageID = 5
	Stage6        StageID = 6
	Stage7        StageID = 7
	StageComplete StageID = 8
)

var stageNames = map[StageID]string{
	StageAborted:  "Aborted",
	StageNone:     "Idle",
	Stage1:        "InitialStatus",
	Stage2:        "PreCooling",
	Stage3:        "PumpHeating",
	Stage4:        "FirstTransition",
	Stage5:        "SecondTransition",
	Stage6:        "FinalMonitoring",
	Stage7:        "FinalStatus",
	StageComplete: "Complete",
}

func (s StageID) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Runnable reports whether s is one of Stage1..Stage7.
func (s StageID) Runnable() bool {
	return s >= Stage1 && s <= Stage7
}

// Terminal reports whether s is Complete or Aborted.
func (s StageID) Terminal() bool {
	return s == StageComplete || s == StageAborted
}

// Confirmation is the confirmation requirement of a stage.
type Confirmation string

const (
	ConfirmNone     Confirmation = "none"
	ConfirmOperator Confirmation = "operator"
)

// Outcome is how a stage ended.
type Outcome string

const (
	// OutcomeDone is a stage without a threshold that ran its script.
	OutcomeDone Outcome = "done"
	// OutcomeThresholdMet is a threshold satisfied within the budget.
	OutcomeThresholdMet Outcome = "threshold-met"
	// OutcomeAdvancedWithoutConfirmation is a threshold still unmet when
	// the retry budget ran out. The stage advanced regardless.
	OutcomeAdvancedWithoutConfirmation Outcome = "advanced-without-confirmation"
	OutcomeAborted                     Outcome = "aborted"
)

// Action is a user action on a run.
type Action string

const (
	ActionStart   Action = "Start"
	ActionConfirm Action = "Confirm"
	ActionDecline Action = "Decline"
	ActionAbort   Action = "Abort"
)

// Params are the operator-chosen values of a run.
type Params struct {
	// Pump4Level and Pump3Level are the pump heater levels in percent
	// applied during pump heating.
	Pump4Level float64 `json:"pump4Level"`
	Pump3Level float64 `json:"pump3Level"`
	// From is the first stage to run, Stage1 if zero.
	From StageID `json:"from,omitempty"`
	// Only runs the From stage alone.
	Only bool `json:"only,omitempty"`
}

// StageRecord is the history of one stage of a run.
type StageRecord struct {
	Stage      StageID           `json:"stage"`
	Name       string            `json:"name"`
	Outcome    Outcome           `json:"outcome,omitempty"`
	Snapshots  []sensor.Snapshot `json:"snapshots"`
	Notes      []string          `json:"notes,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt,omitempty"`
}

// Status is a copy of a run's state, safe to hand out.
type Status struct {
	ID          string         `json:"id"`
	Stage       StageID        `json:"stage"`
	StageName   string         `json:"stageName"`
	Params      Params         `json:"params"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt,omitempty"`
	Awaiting    string         `json:"awaiting,omitempty"`
	Aborted     bool           `json:"aborted"`
	AbortReason string         `json:"abortReason,omitempty"`
	Error       string         `json:"error,omitempty"`
	History     []StageRecord  `json:"history"`
	SafetyStop  *safety.Report `json:"safetyStop,omitempty"`
	Verdict     string         `json:"verdict,omitempty"`
}
