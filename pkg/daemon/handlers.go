package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/config"
	"github.com/gl7cryo/gl7ctl/pkg/events"
	"github.com/gl7cryo/gl7ctl/pkg/ls350"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
	"github.com/gl7cryo/gl7ctl/pkg/sequence"
	"github.com/gl7cryo/gl7ctl/pkg/version"
)

var errManualWhileRunning = errors.New("a cooldown is running, abort it before changing outputs by hand")

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getIdentity(c *gin.Context) {
	id, err := sensors.Identify()
	if err != nil {
		abortWithError(c, http.StatusBadGateway, err)
		return
	}
	c.IndentedJSON(http.StatusOK, id)
}

// rawOnly replaces calibrated readings with the raw ones.
func rawOnly(snap sensor.Snapshot) sensor.Snapshot {
	entries := make([]sensor.Entry, len(snap.Entries))
	for i, e := range snap.Entries {
		e.Reading = e.Raw
		entries[i] = e
	}
	snap.Entries = entries
	return snap
}

func getReadings(c *gin.Context) {
	snap, err := sensors.Snapshot()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	observeSnapshot(snap)

	if c.Query("calibrated") == "0" || c.Query("calibrated") == "false" {
		snap = rawOnly(snap)
	}
	c.IndentedJSON(http.StatusOK, snap)
}

func getReading(c *gin.Context) {
	name := c.Param("channel")
	snap, err := sensors.Snapshot(name)
	if err != nil {
		if errors.Is(err, sensor.ErrUnknownChannel) {
			abortWithError(c, http.StatusNotFound, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	e, _ := snap.Get(name)
	c.IndentedJSON(http.StatusOK, e)
}

func getHistory(c *gin.Context) {
	n := 0
	if s := c.Query("last"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid last %q", s))
			return
		}
		n = v
	}
	c.IndentedJSON(http.StatusOK, history.GetRecords(n))
}

func getHeaters(c *gin.Context) {
	heaters := allHeaters()
	ret := make([]actuator.HeaterStatus, 0, len(heaters))
	for _, h := range heaters {
		st := h.QueryStatus()
		observeHeater(st)
		ret = append(ret, st)
	}
	c.IndentedJSON(http.StatusOK, ret)
}

func heaterFromParam(c *gin.Context) (*actuator.Heater, bool) {
	out, err := strconv.Atoi(c.Param("output"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid output %q", c.Param("output")))
		return nil, false
	}
	for _, h := range allHeaters() {
		if h.Output() == out {
			return h, true
		}
	}
	abortWithError(c, http.StatusNotFound, fmt.Errorf("no heater on output %d", out))
	return nil, false
}

// actuatorErrorCode maps actuator errors to a status code: rejected
// arguments are the client's fault, failed commands the instrument's.
func actuatorErrorCode(err error) int {
	var cmdErr *actuator.ActuatorCommandError
	switch {
	case errors.Is(err, actuator.ErrLevelOutOfRange), errors.Is(err, actuator.ErrRangeOutOfRange):
		return http.StatusBadRequest
	case errors.As(err, &cmdErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func setHeaterLevel(c *gin.Context) {
	h, ok := heaterFromParam(c)
	if !ok {
		return
	}
	if seq.Active() {
		abortWithError(c, http.StatusConflict, errManualWhileRunning)
		return
	}

	var level float64
	if err := c.BindJSON(&level); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.SetLevel(level); err != nil {
		abortWithError(c, actuatorErrorCode(err), err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"output": h.Output(),
		"heater": h.Name(),
	}).Infof("heater set to %g%% by hand", level)

	st := h.QueryStatus()
	observeHeater(st)
	c.IndentedJSON(http.StatusCreated, st)
}

func setHeaterRange(c *gin.Context) {
	h, ok := heaterFromParam(c)
	if !ok {
		return
	}
	if seq.Active() {
		abortWithError(c, http.StatusConflict, errManualWhileRunning)
		return
	}

	var r int
	if err := c.BindJSON(&r); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.SetRange(ls350.HeaterRange(r)); err != nil {
		abortWithError(c, actuatorErrorCode(err), err)
		return
	}

	logrus.Infof("heater %s range set to %s", h.Name(), ls350.HeaterRange(r))
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("heater %s (output %d) range set to %s", h.Name(), h.Output(), h.Range()))
}

func getSwitches(c *gin.Context) {
	switches := allSwitches()
	ret := make([]actuator.SwitchStatus, 0, len(switches))
	for _, s := range switches {
		ret = append(ret, s.Query())
	}
	c.IndentedJSON(http.StatusOK, ret)
}

func setSwitch(c *gin.Context) {
	out, err := strconv.Atoi(c.Param("output"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid output %q", c.Param("output")))
		return
	}
	var sw *actuator.Switch
	for _, s := range allSwitches() {
		if s.Output() == out {
			sw = s
		}
	}
	if sw == nil {
		abortWithError(c, http.StatusNotFound, fmt.Errorf("no switch on output %d", out))
		return
	}
	if seq.Active() {
		abortWithError(c, http.StatusConflict, errManualWhileRunning)
		return
	}

	var on bool
	if err := c.BindJSON(&on); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := sw.Set(on); err != nil {
		abortWithError(c, actuatorErrorCode(err), err)
		return
	}

	logrus.WithField("output", out).Infof("switch %s turned %s by hand", sw.Name(), onOff(on))
	c.IndentedJSON(http.StatusCreated, sw.Query())
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func emergencyStop(c *gin.Context) {
	logrus.Warn("emergency stop requested")

	if err := seq.Abort("emergency stop requested"); err == nil {
		seq.Wait(10 * time.Second)
	}

	ok, rep := guard.EmergencyStop()
	observeEmergencyStop(ok)
	sseHub.Publish(events.SafetyStop, rep)
	if !ok {
		logrus.Error("emergency stop incomplete, check the heaters by hand")
	}
	c.IndentedJSON(http.StatusOK, rep)
}

func getSequence(c *gin.Context) {
	st, err := seq.Status()
	if err != nil {
		abortWithError(c, http.StatusNotFound, err)
		return
	}
	c.IndentedJSON(http.StatusOK, st)
}

// startRequest is the body of POST /sequence/start. Missing levels fall
// back to the configured defaults.
type startRequest struct {
	Pump4Level *float64         `json:"pump4Level,omitempty"`
	Pump3Level *float64         `json:"pump3Level,omitempty"`
	From       sequence.StageID `json:"from,omitempty"`
	Only       bool             `json:"only,omitempty"`
}

func startSequence(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.BindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
	}

	defaults := conf.Sequence()
	p := sequence.Params{
		Pump4Level: defaults.Pump4Level,
		Pump3Level: defaults.Pump3Level,
		From:       req.From,
		Only:       req.Only,
	}
	if req.Pump4Level != nil {
		p.Pump4Level = *req.Pump4Level
	}
	if req.Pump3Level != nil {
		p.Pump3Level = *req.Pump3Level
	}

	st, err := seq.Start(p)
	switch {
	case errors.Is(err, ErrRunInProgress):
		abortWithError(c, http.StatusConflict, err)
		return
	case err != nil:
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, st)
}

func confirmSequence(c *gin.Context) {
	var ok bool
	if err := c.BindJSON(&ok); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	prompt, err := seq.Confirm(ok)
	if err != nil {
		abortWithError(c, http.StatusConflict, err)
		return
	}

	answer := "confirmed"
	if !ok {
		answer = "declined"
	}
	logrus.WithField("prompt", prompt).Infof("operator %s", answer)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("%s: %s", answer, prompt))
}

func abortSequence(c *gin.Context) {
	reason := "aborted by operator"
	if c.Request.ContentLength != 0 {
		var r string
		if err := c.BindJSON(&r); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		if r != "" {
			reason = r
		}
	}

	if err := seq.Abort(reason); err != nil {
		abortWithError(c, http.StatusConflict, err)
		return
	}
	seq.Wait(10 * time.Second)

	st, err := seq.Status()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, st)
}
