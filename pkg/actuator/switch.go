package actuator

import (
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/ls350"
)

// SwitchState is the state of a heat switch.
type SwitchState string

const (
	SwitchOn      SwitchState = "on"
	SwitchOff     SwitchState = "off"
	SwitchUnknown SwitchState = "unknown"
)

// SwitchStatus is the queried state of a heat switch output.
type SwitchStatus struct {
	Output int
	Name   string
	State  SwitchState
	// Volts is the configured high value, NaN if not reported.
	Volts float64
	// Raw is the ANALOG? response when it could not be parsed.
	Raw string
}

// Switch is a heat switch on an analog output. It is either fully on
// (fixed high voltage) or off (0 V).
type Switch struct {
	inst   Instrument
	output int
	name   string
}

// NewSwitch returns a Switch for analog output.
func NewSwitch(inst Instrument, output int, name string) *Switch {
	return &Switch{inst: inst, output: output, name: name}
}

// Output returns the analog output number.
func (s *Switch) Output() int { return s.output }

// Name returns the switch name.
func (s *Switch) Name() string { return s.name }

// On closes the switch.
func (s *Switch) On() error {
	logrus.Tracef("Switch.On(%d) called", s.output)

	if err := s.inst.SetAnalogHigh(s.output, ls350.SwitchHighVolts); err != nil {
		return &ActuatorCommandError{Output: s.output, Step: "switch on", Err: err}
	}
	logrus.WithFields(logrus.Fields{
		"output": s.output,
		"switch": s.name,
	}).Info("heat switch on")
	return nil
}

// Off opens the switch.
func (s *Switch) Off() error {
	logrus.Tracef("Switch.Off(%d) called", s.output)

	if err := s.inst.SetAnalogOff(s.output); err != nil {
		return &ActuatorCommandError{Output: s.output, Step: "switch off", Err: err}
	}
	logrus.WithFields(logrus.Fields{
		"output": s.output,
		"switch": s.name,
	}).Info("heat switch off")
	return nil
}

// Set turns the switch on or off.
func (s *Switch) Set(on bool) error {
	if on {
		return s.On()
	}
	return s.Off()
}

// Query reads the switch state from ANALOG?.
func (s *Switch) Query() SwitchStatus {
	logrus.Tracef("Switch.Query(%d) called", s.output)

	st := SwitchStatus{Output: s.output, Name: s.name, State: SwitchUnknown, Volts: math.NaN()}
	v, err := s.inst.AnalogConfig(s.output)
	if err != nil {
		return st
	}
	st.State, st.Volts = ParseAnalog(v)
	if st.State == SwitchUnknown {
		st.Raw = v
	}
	return st
}

// ParseAnalog interprets an ANALOG? response "input,units,high,low,polarity".
// A non-zero input means the output is driven, i.e. the switch is on.
func ParseAnalog(v string) (SwitchState, float64) {
	parts := strings.Split(v, ",")
	input, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return SwitchUnknown, math.NaN()
	}
	volts := math.NaN()
	if len(parts) >= 3 {
		volts = ParseLevel(parts[2])
	}
	if input == 0 {
		return SwitchOff, 0
	}
	return SwitchOn, volts
}
