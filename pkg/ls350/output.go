package ls350

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
)

// FormatPercent renders a level the way MOUT expects it.
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// SetOutputMode sends OUTMODE output,mode,input,powerUp. Manual (open
// loop) operation uses input 0 and powerUp 0.
func (c *LakeShore) SetOutputMode(output int, mode OutputMode, input int, powerUp int) error {
	logrus.Tracef("SetOutputMode(%d, %d) called", output, mode)

	return c.Command(fmt.Sprintf("%s %d,%d,%d,%d", CmdOutputMode, output, mode, input, powerUp))
}

// OutputMode returns the raw OUTMODE? response, "mode,input,powerup".
func (c *LakeShore) OutputMode(output int) (string, error) {
	logrus.Tracef("OutputMode(%d) called", output)

	return c.Query(fmt.Sprintf("%s? %d", CmdOutputMode, output))
}

// SetManualOutput sends MOUT output,percent.
func (c *LakeShore) SetManualOutput(output int, percent float64) error {
	logrus.Tracef("SetManualOutput(%d, %v) called", output, percent)

	return c.Command(fmt.Sprintf("%s %d,%s", CmdManualOutput, output, FormatPercent(percent)))
}

// ManualOutput returns the raw MOUT? response.
func (c *LakeShore) ManualOutput(output int) (string, error) {
	logrus.Tracef("ManualOutput(%d) called", output)

	return c.Query(fmt.Sprintf("%s? %d", CmdManualOutput, output))
}

// HeaterOutput returns the raw HTR? response, the actual heater output in
// percent.
func (c *LakeShore) HeaterOutput(output int) (string, error) {
	logrus.Tracef("HeaterOutput(%d) called", output)

	return c.Query(fmt.Sprintf("%s %d", CmdHeaterOutput, output))
}

// SetHeaterRange sends RANGE output,r.
func (c *LakeShore) SetHeaterRange(output int, r HeaterRange) error {
	logrus.Tracef("SetHeaterRange(%d, %s) called", output, r)

	return c.Command(fmt.Sprintf("%s %d,%d", CmdHeaterRange, output, r))
}

// HeaterRange returns the RANGE? setting of output.
func (c *LakeShore) HeaterRange(output int) (string, error) {
	logrus.Tracef("HeaterRange(%d) called", output)

	return c.Query(fmt.Sprintf("%s? %d", CmdHeaterRange, output))
}
