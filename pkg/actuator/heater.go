// Package actuator drives the heater outputs and heat-switch analog
// outputs of the Lake Shore 350.
package actuator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/ls350"
)

// ErrLevelOutOfRange is returned when a level is not within [0, 100].
var ErrLevelOutOfRange = errors.New("heater level must be between 0 and 100 percent")

// ErrRangeOutOfRange is returned for an unknown heater range.
var ErrRangeOutOfRange = errors.New("heater range must be between 0 (off) and 3 (high)")

// ActuatorCommandError is returned when a command to an output failed.
// Ambiguous is set when an earlier command of the same operation already
// took effect, so the output is in a state nobody asked for. Such errors
// must be shown to the operator, never retried automatically.
type ActuatorCommandError struct {
	Output    int
	Step      string
	Ambiguous bool
	Err       error
}

func (e *ActuatorCommandError) Error() string {
	msg := fmt.Sprintf("output %d: %s failed: %v", e.Output, e.Step, e.Err)
	if e.Ambiguous {
		msg += " (output state is ambiguous, check it manually)"
	}
	return msg
}

func (e *ActuatorCommandError) Unwrap() error {
	return e.Err
}

// Mode is the control mode of an output.
type Mode string

const (
	ModeOff        Mode = "off"
	ModeManual     Mode = "manual"
	ModeClosedLoop Mode = "closed-loop"
	ModeUnknown    Mode = "unknown"
)

// ModeFromCode maps an OUTMODE code to a Mode.
func ModeFromCode(code ls350.OutputMode) Mode {
	switch code {
	case ls350.ModeOff:
		return ModeOff
	case ls350.ModeOpenLoop:
		return ModeManual
	case ls350.ModeClosedLoop, ls350.ModeZone, ls350.ModeWarmUp:
		return ModeClosedLoop
	}
	return ModeUnknown
}

// Instrument is the subset of the Lake Shore command set used for outputs.
type Instrument interface {
	SetOutputMode(output int, mode ls350.OutputMode, input int, powerUp int) error
	OutputMode(output int) (string, error)
	SetManualOutput(output int, percent float64) error
	ManualOutput(output int) (string, error)
	HeaterOutput(output int) (string, error)
	SetHeaterRange(output int, r ls350.HeaterRange) error
	HeaterRange(output int) (string, error)
	SetAnalogHigh(output int, volts float64) error
	SetAnalogOff(output int) error
	AnalogConfig(output int) (string, error)
}

// HeaterStatus is the queried state of a heater output. Levels that could
// not be read are NaN.
type HeaterStatus struct {
	Output int    `json:"output"`
	Name   string `json:"name"`
	Mode   Mode   `json:"mode"`
	// Commanded is the manual output level reported by MOUT?.
	Commanded float64 `json:"commanded"`
	// Actual is the heater output reported by HTR?.
	Actual float64 `json:"actual"`
	// LastCommanded is the last level this process set, NaN if none.
	LastCommanded float64 `json:"lastCommanded"`
}

// Heater is one heater output driven in manual (open loop) mode.
type Heater struct {
	inst   Instrument
	output int
	name   string

	mu            sync.Mutex
	lastCommanded float64
}

// NewHeater returns a Heater for output.
func NewHeater(inst Instrument, output int, name string) *Heater {
	return &Heater{
		inst:          inst,
		output:        output,
		name:          name,
		lastCommanded: math.NaN(),
	}
}

// Output returns the output number.
func (h *Heater) Output() int { return h.output }

// Name returns the heater name.
func (h *Heater) Name() string { return h.name }

// SetLevel puts the output in manual mode and sets its level. The level
// is validated before anything is sent.
func (h *Heater) SetLevel(percent float64) error {
	logrus.Tracef("SetLevel(%d, %v) called", h.output, percent)

	if math.IsNaN(percent) || math.IsInf(percent, 0) || percent < 0 || percent > 100 {
		return fmt.Errorf("%w: got %v", ErrLevelOutOfRange, percent)
	}

	if err := h.inst.SetOutputMode(h.output, ls350.ModeOpenLoop, 0, 0); err != nil {
		return &ActuatorCommandError{Output: h.output, Step: "set manual mode", Err: err}
	}
	if err := h.inst.SetManualOutput(h.output, percent); err != nil {
		return &ActuatorCommandError{Output: h.output, Step: "set level", Ambiguous: true, Err: err}
	}

	h.mu.Lock()
	h.lastCommanded = percent
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"output": h.output,
		"heater": h.name,
		"level":  percent,
	}).Info("heater level set")
	return nil
}

// TurnOff sets the level to 0. It touches only this output.
func (h *Heater) TurnOff() error {
	return h.SetLevel(0)
}

// QueryStatus reads back the mode and levels of the output.
func (h *Heater) QueryStatus() HeaterStatus {
	logrus.Tracef("QueryStatus(%d) called", h.output)

	h.mu.Lock()
	last := h.lastCommanded
	h.mu.Unlock()

	st := HeaterStatus{
		Output:        h.output,
		Name:          h.name,
		Mode:          ModeUnknown,
		Commanded:     math.NaN(),
		Actual:        math.NaN(),
		LastCommanded: last,
	}

	if v, err := h.inst.OutputMode(h.output); err == nil {
		first, _, _ := strings.Cut(v, ",")
		if code, err := strconv.Atoi(strings.TrimSpace(first)); err == nil {
			st.Mode = ModeFromCode(ls350.OutputMode(code))
		}
	}
	if v, err := h.inst.ManualOutput(h.output); err == nil {
		st.Commanded = ParseLevel(v)
	}
	if v, err := h.inst.HeaterOutput(h.output); err == nil {
		st.Actual = ParseLevel(v)
	}

	logrus.WithFields(logrus.Fields{
		"output":    st.Output,
		"mode":      st.Mode,
		"commanded": st.Commanded,
		"actual":    st.Actual,
	}).Trace("QueryStatus returned")
	return st
}

// SetRange sets the heater range.
func (h *Heater) SetRange(r ls350.HeaterRange) error {
	logrus.Tracef("SetRange(%d, %v) called", h.output, r)

	if r < ls350.RangeOff || r > ls350.RangeHigh {
		return fmt.Errorf("%w: got %d", ErrRangeOutOfRange, r)
	}
	if err := h.inst.SetHeaterRange(h.output, r); err != nil {
		return &ActuatorCommandError{Output: h.output, Step: "set range", Err: err}
	}
	return nil
}

// Range returns the heater range, or -1 if it could not be read.
func (h *Heater) Range() ls350.HeaterRange {
	v, err := h.inst.HeaterRange(h.output)
	if err != nil {
		return -1
	}
	r, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return -1
	}
	return ls350.HeaterRange(r)
}

// ParseLevel parses a percentage response, returning NaN when it is not
// a finite number.
func ParseLevel(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
