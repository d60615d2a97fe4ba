package ls350

// Terminator ends every command and response line.
const Terminator = "\n"

// Command mnemonics of the Lake Shore 350.
const (
	CmdIdentify       = "*IDN?"
	CmdKelvinReading  = "KRDG?"
	CmdSensorReading  = "SRDG?"
	CmdVoltageReading = "VRDG?"
	CmdReadingStatus  = "RDGST?"
	CmdOutputMode     = "OUTMODE"
	CmdManualOutput   = "MOUT"
	CmdHeaterOutput   = "HTR?"
	CmdHeaterRange    = "RANGE"
	CmdAnalog         = "ANALOG"
)

// OutputMode is the control mode code used by OUTMODE.
type OutputMode int

// Representation of OutputMode.
const (
	ModeOff        OutputMode = 0
	ModeClosedLoop OutputMode = 1
	ModeZone       OutputMode = 2
	ModeOpenLoop   OutputMode = 3
	ModeMonitorOut OutputMode = 4
	ModeWarmUp     OutputMode = 5
)

// RDGST? status bits.
const (
	StatusInvalid       = 1
	StatusTempUnder     = 16
	StatusTempOver      = 32
	StatusUnitsZero     = 64
	StatusUnitsOver     = 128
)

// HeaterRange is the RANGE setting of outputs 1 and 2.
type HeaterRange int

// Representation of HeaterRange.
const (
	RangeOff    HeaterRange = 0
	RangeLow    HeaterRange = 1
	RangeMedium HeaterRange = 2
	RangeHigh   HeaterRange = 3
)

func (r HeaterRange) String() string {
	switch r {
	case RangeOff:
		return "off"
	case RangeLow:
		return "low"
	case RangeMedium:
		return "medium"
	case RangeHigh:
		return "high"
	}
	return "unknown"
}

// SwitchHighVolts is the analog output voltage that closes a heat switch.
const SwitchHighVolts = 5.0
