package ls350

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SetAnalogHigh drives analog output to a fixed high voltage. The
// parameters are input 1, units 1, high value, low value 0 and
// polarity 0.
func (c *LakeShore) SetAnalogHigh(output int, volts float64) error {
	logrus.Tracef("SetAnalogHigh(%d, %v) called", output, volts)

	return c.Command(fmt.Sprintf("%s %d,1,1,%.1f,0.0,0", CmdAnalog, output, volts))
}

// SetAnalogOff drives analog output to 0 V.
func (c *LakeShore) SetAnalogOff(output int) error {
	logrus.Tracef("SetAnalogOff(%d) called", output)

	return c.Command(fmt.Sprintf("%s %d,0", CmdAnalog, output))
}

// AnalogConfig returns the raw ANALOG? response,
// "input,units,high,low,polarity".
func (c *LakeShore) AnalogConfig(output int) (string, error) {
	logrus.Tracef("AnalogConfig(%d) called", output)

	return c.Query(fmt.Sprintf("%s? %d", CmdAnalog, output))
}
