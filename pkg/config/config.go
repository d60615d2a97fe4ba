package config

import (
	"time"
)

// Config is the daemon configuration.
type Config interface {
	Serial() SerialConfig
	Calibrations() []CalibrationSource
	Channels() []ChannelConfig
	Outputs() OutputConfig
	Roles() RoleConfig
	Sequence() SequenceConfig
	Poll() PollConfig
	Emergency() EmergencyConfig
	AllowNonRootAccess() bool

	SetAllowNonRootAccess(bool)
	SetDefaultPumpLevels(pump4, pump3 float64)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

// SerialConfig describes the link to the Lake Shore 350.
type SerialConfig struct {
	Device      string        `yaml:"device,omitempty" json:"device"`
	BaudRate    int           `yaml:"baudRate,omitempty" json:"baudRate"`
	DataBits    int           `yaml:"dataBits,omitempty" json:"dataBits"`
	Parity      string        `yaml:"parity,omitempty" json:"parity"`
	StopBits    int           `yaml:"stopBits,omitempty" json:"stopBits"`
	ReadTimeout time.Duration `yaml:"readTimeout,omitempty" json:"readTimeout"`
	// Settle is the pause between writing a command and reading the
	// response.
	Settle time.Duration `yaml:"settle,omitempty" json:"settle"`
}

// CalibrationSource names a calibration CSV file.
type CalibrationSource struct {
	Name   string `yaml:"name" json:"name"`
	Path   string `yaml:"path" json:"path"`
	Policy string `yaml:"policy,omitempty" json:"policy"`
}

// ChannelConfig maps a channel name to an instrument input.
type ChannelConfig struct {
	Name        string  `yaml:"name" json:"name"`
	Label       string  `yaml:"label,omitempty" json:"label,omitempty"`
	Input       string  `yaml:"input" json:"input"`
	Kind        string  `yaml:"kind" json:"kind"`
	ZeroIsFault bool    `yaml:"zeroIsFault,omitempty" json:"zeroIsFault,omitempty"`
	Offset      float64 `yaml:"offset,omitempty" json:"offset,omitempty"`
	// Calibration is the name of a calibration source.
	Calibration string `yaml:"calibration,omitempty" json:"calibration,omitempty"`
}

// OutputConfig holds the instrument output numbers of the GL7 actuators.
type OutputConfig struct {
	Pump4Heater int `yaml:"pump4Heater,omitempty" json:"pump4Heater"`
	Pump3Heater int `yaml:"pump3Heater,omitempty" json:"pump3Heater"`
	Switch4     int `yaml:"switch4,omitempty" json:"switch4"`
	Switch3     int `yaml:"switch3,omitempty" json:"switch3"`
}

// RoleConfig names the head thermometer channels.
type RoleConfig struct {
	Head3 string `yaml:"head3,omitempty" json:"head3"`
	Head4 string `yaml:"head4,omitempty" json:"head4"`
}

// SequenceConfig holds cooldown defaults.
type SequenceConfig struct {
	Checks     int           `yaml:"checks,omitempty" json:"checks"`
	Interval   time.Duration `yaml:"interval,omitempty" json:"interval"`
	Pump4Level float64       `yaml:"pump4Level,omitempty" json:"pump4Level"`
	Pump3Level float64       `yaml:"pump3Level,omitempty" json:"pump3Level"`
}

// PollConfig controls the background snapshot poller.
type PollConfig struct {
	// Schedule is a cron spec, e.g. "@every 10s". Empty disables polling.
	Schedule    string `yaml:"schedule,omitempty" json:"schedule"`
	HistorySize int    `yaml:"historySize,omitempty" json:"historySize"`
}

// EmergencyConfig controls the heater shutdown read-back.
type EmergencyConfig struct {
	Confirm      *bool         `yaml:"confirm,omitempty" json:"confirm"`
	ConfirmDelay time.Duration `yaml:"confirmDelay,omitempty" json:"confirmDelay"`
}
