package ls350

import (
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Identify returns the *IDN? identification string.
func (c *LakeShore) Identify() (string, error) {
	logrus.Tracef("Identify called")

	return c.Query(CmdIdentify)
}

// KelvinReading returns the raw KRDG? response for input.
func (c *LakeShore) KelvinReading(input string) (string, error) {
	logrus.Tracef("KelvinReading(%s) called", input)

	return c.Query(CmdKelvinReading + " " + input)
}

// SensorReading returns the raw SRDG? response for input, in sensor
// units (Ohm for resistors).
func (c *LakeShore) SensorReading(input string) (string, error) {
	logrus.Tracef("SensorReading(%s) called", input)

	return c.Query(CmdSensorReading + " " + input)
}

// VoltageReading returns the raw VRDG? response for input.
func (c *LakeShore) VoltageReading(input string) (string, error) {
	logrus.Tracef("VoltageReading(%s) called", input)

	return c.Query(CmdVoltageReading + " " + input)
}

// ReadingStatus returns the RDGST? bit field for input.
func (c *LakeShore) ReadingStatus(input string) (int, error) {
	logrus.Tracef("ReadingStatus(%s) called", input)

	v, err := c.Query(CmdReadingStatus + " " + input)
	if err != nil {
		return 0, err
	}
	status, err := strconv.Atoi(v)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to parse reading status %q", v)
	}

	logrus.Tracef("ReadingStatus returned %d", status)
	return status, nil
}
