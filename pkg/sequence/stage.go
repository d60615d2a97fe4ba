package sequence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

// Threshold is a predicate over a snapshot that gates a stage.
type Threshold struct {
	// Description is shown to the operator, e.g. "both heads <= 4 K".
	Description string
	// Channels are the channels the predicate looks at.
	Channels []string
	Met      func(sensor.Snapshot) bool
}

// AllAtMost returns a threshold that holds when every channel has a usable
// calibrated reading not above limit kelvin. Uncalibrated channels report
// ohms or volts and never hold.
func AllAtMost(limit float64, channels ...string) Threshold {
	chs := append([]string(nil), channels...)
	return Threshold{
		Description: fmt.Sprintf("%s <= %g K", strings.Join(chs, ", "), limit),
		Channels:    chs,
		Met: func(s sensor.Snapshot) bool {
			for _, ch := range chs {
				if !s.Reading(ch).KelvinAtMost(limit) {
					return false
				}
			}
			return true
		},
	}
}

// Shortfall describes which channels of t are not satisfied in s.
func (t Threshold) Shortfall(s sensor.Snapshot) string {
	parts := make([]string, 0, len(t.Channels))
	for _, ch := range t.Channels {
		r := s.Reading(ch)
		part := ch + "=" + r.String()
		if r.IsValue() && r.Unit != sensor.UnitKelvin {
			part += " (not calibrated)"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// Step is one entry of a stage's actuation script.
type Step struct {
	Description string
	// Prompt, when set, returns the question the operator must
	// acknowledge before Do runs.
	Prompt func(run *Run) string
	// Do performs the step. Levels are absolute so running it twice is
	// harmless.
	Do func(ctx context.Context, run *Run) error
}

// Stage is a static descriptor of one cooldown stage.
type Stage struct {
	ID   StageID
	Name string
	// Sensors is the snapshot taken on entry; all channels when empty.
	Sensors []string
	// Threshold, if set, is polled on the retry budget. It is checked
	// before Script unless ThresholdAfterScript is set.
	Threshold            *Threshold
	ThresholdAfterScript bool
	Script               []Step
	// Report produces the stage verdict from the last snapshot.
	Report func(run *Run, snap sensor.Snapshot) string
	Next   StageID
}

// Confirmation returns ConfirmOperator if any step needs acknowledgment.
func (s Stage) Confirmation() Confirmation {
	for _, st := range s.Script {
		if st.Prompt != nil {
			return ConfirmOperator
		}
	}
	return ConfirmNone
}

// RetryBudget bounds how long a threshold is polled.
type RetryBudget struct {
	// Checks is the number of evaluations, including the first.
	Checks   int           `json:"checks"`
	Interval time.Duration `json:"interval"`
}

// DefaultRetryBudget checks 5 times, 2 seconds apart.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{Checks: 5, Interval: 2 * time.Second}
}
