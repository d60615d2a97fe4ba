package sequence

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

// Temperatures of the GL7 procedure, in kelvin.
const (
	PreCoolLimit    = 10.0
	PumpHeatLimit   = 4.0
	TransitionLimit = 2.0
	BaseTemperature = 0.3
	NearBase        = 0.5
)

// gl7Stages describes the GL7 cooldown. Thresholds use calibrated head
// temperatures.
func (c *Controller) gl7Stages() []Stage {
	heads := func(limit float64) *Threshold {
		t := AllAtMost(limit, c.roles.Head3, c.roles.Head4)
		return &t
	}
	base := AllAtMost(BaseTemperature, c.roles.Head4)

	return []Stage{
		{
			ID:     Stage1,
			Name:   "Initial Status",
			Script: []Step{c.outputStatusStep(nil)},
			Next:   Stage2,
		},
		{
			ID:        Stage2,
			Name:      "Pre-cooling and Heat-Switch Verification",
			Threshold: heads(PreCoolLimit),
			Script: []Step{
				c.switchVerifyStep(actuator.SwitchOff),
			},
			Next: Stage3,
		},
		{
			ID:   Stage3,
			Name: "Pump Heating",
			Script: []Step{
				{
					Description: "4-pump heater on",
					Prompt: func(run *Run) string {
						return fmt.Sprintf("Fridge near %g K with both switches off? Start the 4-pump heater (output %d) at %g%%",
							PreCoolLimit, c.hw.Pump4Heater.Output(), run.Params().Pump4Level)
					},
					Do: func(_ context.Context, run *Run) error {
						return c.hw.Pump4Heater.SetLevel(run.Params().Pump4Level)
					},
				},
				{
					Description: "3-pump heater on",
					Prompt: func(run *Run) string {
						return fmt.Sprintf("Start the 3-pump heater (output %d) at %g%%",
							c.hw.Pump3Heater.Output(), run.Params().Pump3Level)
					},
					Do: func(_ context.Context, run *Run) error {
						return c.hw.Pump3Heater.SetLevel(run.Params().Pump3Level)
					},
				},
				c.outputStatusStep(nil),
			},
			Threshold:            heads(PumpHeatLimit),
			ThresholdAfterScript: true,
			Next:                 Stage4,
		},
		{
			ID:   Stage4,
			Name: "4-pump Transition",
			Script: []Step{
				{
					Description: "4-pump heater off",
					Prompt: func(*Run) string {
						return fmt.Sprintf("Heads near %g K? Turn off the 4-pump heater (output %d)",
							PumpHeatLimit, c.hw.Pump4Heater.Output())
					},
					Do: func(context.Context, *Run) error {
						return c.hw.Pump4Heater.TurnOff()
					},
				},
				{
					Description: "4-switch on",
					Prompt: func(*Run) string {
						return fmt.Sprintf("Turn on the 4-switch (analog output %d)", c.hw.Switch4.Output())
					},
					Do: func(context.Context, *Run) error {
						return c.hw.Switch4.On()
					},
				},
			},
			Next: Stage5,
		},
		{
			ID:        Stage5,
			Name:      "3-pump Transition",
			Threshold: heads(TransitionLimit),
			Script: []Step{
				{
					Description: "3-pump heater off",
					Prompt: func(*Run) string {
						return fmt.Sprintf("Turn off the 3-pump heater (output %d)", c.hw.Pump3Heater.Output())
					},
					Do: func(context.Context, *Run) error {
						return c.hw.Pump3Heater.TurnOff()
					},
				},
				{
					Description: "3-switch on",
					Prompt: func(*Run) string {
						return fmt.Sprintf("Heads near %g K? Turn on the 3-switch (analog output %d)",
							TransitionLimit, c.hw.Switch3.Output())
					},
					Do: func(context.Context, *Run) error {
						return c.hw.Switch3.On()
					},
				},
			},
			Next: Stage6,
		},
		{
			ID:        Stage6,
			Name:      "Final Cooldown",
			Threshold: &base,
			Next:      Stage7,
		},
		{
			ID:   Stage7,
			Name: "Final Status",
			Script: []Step{
				c.outputStatusStep(&outputExpectation{heaterLevel: 0, switches: actuator.SwitchOn}),
			},
			Report: c.finalVerdict,
			Next:   StageComplete,
		},
	}
}

type outputExpectation struct {
	heaterLevel float64
	switches    actuator.SwitchState
}

func (c *Controller) heaters() []*actuator.Heater {
	return []*actuator.Heater{c.hw.Pump4Heater, c.hw.Pump3Heater}
}

func (c *Controller) switches() []*actuator.Switch {
	return []*actuator.Switch{c.hw.Switch4, c.hw.Switch3}
}

// outputStatusStep queries every heater and switch and records what it
// finds. With an expectation, mismatches are logged as warnings; they
// never fail the stage.
func (c *Controller) outputStatusStep(want *outputExpectation) Step {
	return Step{
		Description: "heater and switch status",
		Do: func(_ context.Context, run *Run) error {
			for _, h := range c.heaters() {
				st := h.QueryStatus()
				msg := fmt.Sprintf("%s (output %d): mode=%s level=%s", h.Name(), h.Output(), st.Mode, formatLevel(st.Commanded))
				if want != nil {
					msg += fmt.Sprintf(" (should be %s)", formatLevel(want.heaterLevel))
				}
				if want != nil && st.Commanded != want.heaterLevel {
					logrus.Warn(msg)
				} else {
					logrus.Info(msg)
				}
				run.note(msg)
			}
			for _, s := range c.switches() {
				st := s.Query()
				msg := fmt.Sprintf("%s (analog %d): %s", s.Name(), s.Output(), st.State)
				if want != nil {
					msg += fmt.Sprintf(" (should be %s)", want.switches)
				}
				if want != nil && st.State != want.switches {
					logrus.Warn(msg)
				} else {
					logrus.Info(msg)
				}
				run.note(msg)
			}
			return nil
		},
	}
}

func (c *Controller) switchVerifyStep(want actuator.SwitchState) Step {
	return Step{
		Description: "heat switch verification",
		Do: func(_ context.Context, run *Run) error {
			for _, s := range c.switches() {
				st := s.Query()
				msg := fmt.Sprintf("%s (analog %d): %s, expected %s", s.Name(), s.Output(), st.State, want)
				if st.State != want {
					logrus.Warn(msg)
				} else {
					logrus.Info(msg)
				}
				run.note(msg)
			}
			return nil
		},
	}
}

// finalVerdict classifies the 4He head temperature.
func (c *Controller) finalVerdict(_ *Run, snap sensor.Snapshot) string {
	r := snap.Reading(c.roles.Head4)
	switch {
	case r.KelvinAtMost(BaseTemperature):
		return fmt.Sprintf("GL7 operating: %s at %s", c.roles.Head4, r)
	case r.KelvinAtMost(NearBase):
		return fmt.Sprintf("GL7 approaching base temperature: %s at %s", c.roles.Head4, r)
	case r.Usable() && r.Unit == sensor.UnitKelvin:
		return fmt.Sprintf("GL7 not at base temperature: %s at %s", c.roles.Head4, r)
	}
	return fmt.Sprintf("GL7 state unknown: %s reads %s", c.roles.Head4, r)
}

func formatLevel(v float64) string {
	if math.IsNaN(v) {
		return "?"
	}
	return fmt.Sprintf("%g%%", v)
}
