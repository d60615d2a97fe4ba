// Package safety implements the emergency shutdown of every heater.
//
// The Guard holds no reference to any running cooldown, so it can be
// invoked at any time, including when nothing else is running or when the
// cooldown itself is wedged.
package safety

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

// OutputResult is the shutdown outcome of one heater.
type OutputResult struct {
	Output int    `json:"output"`
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	// Confirmed is the read-back status after shutdown, if requested.
	Confirmed *actuator.HeaterStatus `json:"confirmed,omitempty"`
}

// Report is the outcome of an emergency stop.
type Report struct {
	// OK is true only when every heater accepted the shutdown and, if
	// confirmation was requested, reads back 0%.
	OK       bool             `json:"ok"`
	Outputs  []OutputResult   `json:"outputs"`
	Snapshot *sensor.Snapshot `json:"snapshot,omitempty"`
	Time     time.Time        `json:"time"`
}

// Options tunes EmergencyStop.
type Options struct {
	// Confirm re-queries every heater after the shutdown commands.
	Confirm bool
	// ConfirmDelay is waited before the read-back.
	ConfirmDelay time.Duration
	// Snapshot records every sensor after the shutdown.
	Snapshot bool
}

// Guard turns heaters off.
type Guard struct {
	heaters []*actuator.Heater
	sensors *sensor.Service
	opts    Options

	// sleep is replaced in tests.
	sleep func(time.Duration)
}

// NewGuard returns a Guard over heaters. sensors may be nil, in which case
// no post-shutdown snapshot is taken.
func NewGuard(heaters []*actuator.Heater, sensors *sensor.Service, opts Options) *Guard {
	return &Guard{
		heaters: heaters,
		sensors: sensors,
		opts:    opts,
		sleep:   time.Sleep,
	}
}

// EmergencyStop forces every heater to 0%, carrying on past failures. The
// returned boolean aggregates all outputs; false means someone needs to
// check the hardware by hand.
func (g *Guard) EmergencyStop() (bool, Report) {
	logrus.Warn("emergency heater stop initiated")

	rep := Report{OK: true, Time: time.Now()}
	for _, h := range g.heaters {
		res := OutputResult{Output: h.Output(), Name: h.Name(), OK: true}
		if err := h.TurnOff(); err != nil {
			res.OK = false
			res.Error = err.Error()
			rep.OK = false
			logrus.WithFields(logrus.Fields{
				"output": h.Output(),
				"heater": h.Name(),
			}).Errorf("failed to shut down heater: %v", err)
		} else {
			logrus.WithFields(logrus.Fields{
				"output": h.Output(),
				"heater": h.Name(),
			}).Warn("heater shut down")
		}
		rep.Outputs = append(rep.Outputs, res)
	}

	if g.opts.Confirm {
		if g.opts.ConfirmDelay > 0 {
			g.sleep(g.opts.ConfirmDelay)
		}
		for i, h := range g.heaters {
			st := h.QueryStatus()
			rep.Outputs[i].Confirmed = &st
			if math.IsNaN(st.Commanded) || st.Commanded != 0 {
				rep.Outputs[i].OK = false
				rep.OK = false
				logrus.WithFields(logrus.Fields{
					"output":    h.Output(),
					"commanded": st.Commanded,
				}).Error("heater does not read back 0% after shutdown")
			}
		}
	}

	if g.opts.Snapshot && g.sensors != nil {
		snap, err := g.sensors.Snapshot()
		if err == nil {
			rep.Snapshot = &snap
		}
	}

	if rep.OK {
		logrus.Warn("emergency heater stop complete: all heaters off")
	} else {
		logrus.Error("emergency heater stop incomplete: manual intervention required")
	}
	return rep.OK, rep
}
