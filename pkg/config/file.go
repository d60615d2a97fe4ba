package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gl7cryo/gl7ctl/pkg/calibration"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
	"github.com/gl7cryo/gl7ctl/pkg/utils/ptr"
)

const DefaultCalibrationDir = "/etc/gl7ctl/calibration"

var (
	defaultFileConfig = &RawFileConfig{
		Serial: &SerialConfig{
			Device:      "/dev/ttyUSB0",
			BaudRate:    57600,
			DataBits:    7,
			Parity:      "odd",
			StopBits:    1,
			ReadTimeout: 2 * time.Second,
			Settle:      300 * time.Millisecond,
		},
		Calibrations: []CalibrationSource{
			{Name: "head3", Path: filepath.Join(DefaultCalibrationDir, "3_head_cal.csv"), Policy: string(calibration.PolicyClamp)},
			{Name: "head4", Path: filepath.Join(DefaultCalibrationDir, "4_head_cal.csv"), Policy: string(calibration.PolicyClamp)},
			{Name: "pumps", Path: filepath.Join(DefaultCalibrationDir, "pumps_switches_cal.csv"), Policy: string(calibration.PolicyExtrapolate)},
		},
		Channels: []ChannelConfig{
			{Name: "head3", Label: "3He head", Input: "A", Kind: string(sensor.KindResistance), Calibration: "head3"},
			// The 4He head reads low by the resistance of its leads.
			{Name: "head4", Label: "4He head", Input: "C", Kind: string(sensor.KindResistance), Offset: 34.56, Calibration: "head4"},
			{Name: "device", Label: "Device stage", Input: "B", Kind: string(sensor.KindTemperature)},
			{Name: "pump3", Label: "3He pump", Input: "4", Kind: string(sensor.KindTemperature)},
			{Name: "pump4", Label: "4He pump", Input: "5", Kind: string(sensor.KindTemperature)},
			{Name: "stage4k", Label: "4K stage", Input: "D2", Kind: string(sensor.KindTemperature), ZeroIsFault: true},
			{Name: "stage50k", Label: "50K stage", Input: "D3", Kind: string(sensor.KindTemperature), ZeroIsFault: true},
			{Name: "pump3diode", Label: "3He pump diode", Input: "D4", Kind: string(sensor.KindVoltage), ZeroIsFault: true, Calibration: "pumps"},
			{Name: "pump4diode", Label: "4He pump diode", Input: "D5", Kind: string(sensor.KindVoltage), ZeroIsFault: true, Calibration: "pumps"},
		},
		Outputs: &OutputConfig{
			Pump4Heater: 1,
			Pump3Heater: 2,
			Switch4:     3,
			Switch3:     4,
		},
		Roles: &RoleConfig{
			Head3: "head3",
			Head4: "head4",
		},
		Sequence: &SequenceConfig{
			Checks:     5,
			Interval:   2 * time.Second,
			Pump4Level: 50,
			Pump3Level: 50,
		},
		Poll: &PollConfig{
			Schedule:    "@every 10s",
			HistorySize: 360,
		},
		Emergency: &EmergencyConfig{
			Confirm:      ptr.To(true),
			ConfirmDelay: time.Second,
		},
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Missing sections take their defaults;
// a present section is merged field by field over the default.
type RawFileConfig struct {
	Serial             *SerialConfig       `yaml:"serial,omitempty"`
	Calibrations       []CalibrationSource `yaml:"calibrations,omitempty"`
	Channels           []ChannelConfig     `yaml:"channels,omitempty"`
	Outputs            *OutputConfig       `yaml:"outputs,omitempty"`
	Roles              *RoleConfig         `yaml:"roles,omitempty"`
	Sequence           *SequenceConfig     `yaml:"sequence,omitempty"`
	Poll               *PollConfig         `yaml:"poll,omitempty"`
	Emergency          *EmergencyConfig    `yaml:"emergency,omitempty"`
	AllowNonRootAccess *bool               `yaml:"allowNonRootAccess,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	serial := c.Serial()
	outputs := c.Outputs()
	roles := c.Roles()
	seq := c.Sequence()
	poll := c.Poll()
	emergency := c.Emergency()

	rawConfig := &RawFileConfig{
		Serial:             &serial,
		Calibrations:       c.Calibrations(),
		Channels:           c.Channels(),
		Outputs:            &outputs,
		Roles:              &roles,
		Sequence:           &seq,
		Poll:               &poll,
		Emergency:          &emergency,
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

func (f *File) Serial() SerialConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ret := *defaultFileConfig.Serial
	if s := f.c.Serial; s != nil {
		if s.Device != "" {
			ret.Device = s.Device
		}
		if s.BaudRate != 0 {
			ret.BaudRate = s.BaudRate
		}
		if s.DataBits != 0 {
			ret.DataBits = s.DataBits
		}
		if s.Parity != "" {
			ret.Parity = s.Parity
		}
		if s.StopBits != 0 {
			ret.StopBits = s.StopBits
		}
		if s.ReadTimeout != 0 {
			ret.ReadTimeout = s.ReadTimeout
		}
		if s.Settle != 0 {
			ret.Settle = s.Settle
		}
	}

	return ret
}

func (f *File) Calibrations() []CalibrationSource {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	src := f.c.Calibrations
	if len(src) == 0 {
		src = defaultFileConfig.Calibrations
	}

	ret := make([]CalibrationSource, len(src))
	for i, s := range src {
		if s.Policy == "" {
			s.Policy = string(calibration.PolicyClamp)
		}
		ret[i] = s
	}
	return ret
}

func (f *File) Channels() []ChannelConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	src := f.c.Channels
	if len(src) == 0 {
		src = defaultFileConfig.Channels
	}
	return append([]ChannelConfig(nil), src...)
}

func (f *File) Outputs() OutputConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ret := *defaultFileConfig.Outputs
	if o := f.c.Outputs; o != nil {
		if o.Pump4Heater != 0 {
			ret.Pump4Heater = o.Pump4Heater
		}
		if o.Pump3Heater != 0 {
			ret.Pump3Heater = o.Pump3Heater
		}
		if o.Switch4 != 0 {
			ret.Switch4 = o.Switch4
		}
		if o.Switch3 != 0 {
			ret.Switch3 = o.Switch3
		}
	}

	return ret
}

func (f *File) Roles() RoleConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ret := *defaultFileConfig.Roles
	if r := f.c.Roles; r != nil {
		if r.Head3 != "" {
			ret.Head3 = r.Head3
		}
		if r.Head4 != "" {
			ret.Head4 = r.Head4
		}
	}

	return ret
}

func (f *File) Sequence() SequenceConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ret := *defaultFileConfig.Sequence
	if s := f.c.Sequence; s != nil {
		if s.Checks != 0 {
			ret.Checks = s.Checks
		}
		if s.Interval != 0 {
			ret.Interval = s.Interval
		}
		if s.Pump4Level != 0 {
			ret.Pump4Level = s.Pump4Level
		}
		if s.Pump3Level != 0 {
			ret.Pump3Level = s.Pump3Level
		}
	}

	return ret
}

func (f *File) Poll() PollConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ret := *defaultFileConfig.Poll
	if p := f.c.Poll; p != nil {
		if p.Schedule != "" {
			ret.Schedule = p.Schedule
		}
		if p.HistorySize != 0 {
			ret.HistorySize = p.HistorySize
		}
	}

	return ret
}

func (f *File) Emergency() EmergencyConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ret := *defaultFileConfig.Emergency
	if e := f.c.Emergency; e != nil {
		if e.Confirm != nil {
			ret.Confirm = ptr.To(*e.Confirm)
		}
		if e.ConfirmDelay != 0 {
			ret.ConfirmDelay = e.ConfirmDelay
		}
	}

	return ret
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var allowNonRootAccess bool

	if f.c.AllowNonRootAccess != nil {
		allowNonRootAccess = *f.c.AllowNonRootAccess
	} else {
		allowNonRootAccess = *defaultFileConfig.AllowNonRootAccess
	}

	return allowNonRootAccess
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) SetDefaultPumpLevels(pump4, pump3 float64) {
	if f.c == nil {
		panic("config is nil")
	}

	if pump4 < 0 || pump4 > 100 || pump3 < 0 || pump3 > 100 {
		panic("pump levels must be between 0 and 100")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c.Sequence == nil {
		f.c.Sequence = &SequenceConfig{}
	}
	f.c.Sequence.Pump4Level = pump4
	f.c.Sequence.Pump3Level = pump3
}

// Validate checks the resolved configuration for references that cannot
// be wired up.
func Validate(c Config) error {
	tables := map[string]bool{}
	for _, s := range c.Calibrations() {
		if s.Name == "" || s.Path == "" {
			return fmt.Errorf("calibration source needs a name and a path: %+v", s)
		}
		if !calibration.Policy(s.Policy).Valid() {
			return fmt.Errorf("calibration %s: unknown policy %q", s.Name, s.Policy)
		}
		tables[s.Name] = true
	}

	channels := map[string]bool{}
	for _, ch := range c.Channels() {
		if ch.Name == "" || ch.Input == "" {
			return fmt.Errorf("channel needs a name and an input: %+v", ch)
		}
		if channels[ch.Name] {
			return fmt.Errorf("duplicate channel %s", ch.Name)
		}
		channels[ch.Name] = true
		if !sensor.Kind(ch.Kind).Valid() {
			return fmt.Errorf("channel %s: unknown kind %q", ch.Name, ch.Kind)
		}
		if ch.Calibration != "" && !tables[ch.Calibration] {
			return fmt.Errorf("channel %s: unknown calibration %q", ch.Name, ch.Calibration)
		}
	}

	roles := c.Roles()
	for _, r := range []string{roles.Head3, roles.Head4} {
		if !channels[r] {
			return fmt.Errorf("head role refers to unknown channel %q", r)
		}
	}

	o := c.Outputs()
	for name, n := range map[string]int{"pump4Heater": o.Pump4Heater, "pump3Heater": o.Pump3Heater} {
		if n < 1 || n > 2 {
			return fmt.Errorf("%s: heater output must be 1 or 2, got %d", name, n)
		}
	}
	for name, n := range map[string]int{"switch4": o.Switch4, "switch3": o.Switch3} {
		if n < 3 || n > 4 {
			return fmt.Errorf("%s: analog output must be 3 or 4, got %d", name, n)
		}
	}
	if o.Pump4Heater == o.Pump3Heater || o.Switch4 == o.Switch3 {
		return fmt.Errorf("outputs must be distinct: %+v", o)
	}

	seq := c.Sequence()
	if seq.Checks < 1 {
		return fmt.Errorf("sequence checks must be at least 1, got %d", seq.Checks)
	}
	if seq.Pump4Level < 0 || seq.Pump4Level > 100 || seq.Pump3Level < 0 || seq.Pump3Level > 100 {
		return fmt.Errorf("default pump levels must be between 0 and 100")
	}

	return nil
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = yaml.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	err := os.MkdirAll(filepath.Dir(f.filepath), 0755)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory for %s", f.filepath)
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := yaml.NewEncoder(fp)
	enc.SetIndent(2)
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return enc.Close()
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	serial := f.Serial()
	seq := f.Sequence()
	poll := f.Poll()

	return logrus.Fields{
		"device":             serial.Device,
		"baudRate":           serial.BaudRate,
		"channels":           len(f.Channels()),
		"calibrations":       len(f.Calibrations()),
		"checks":             seq.Checks,
		"interval":           seq.Interval,
		"pollSchedule":       poll.Schedule,
		"historySize":        poll.HistorySize,
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}
