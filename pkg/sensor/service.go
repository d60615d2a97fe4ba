// Package sensor reads Lake Shore inputs and turns their responses into
// Readings, applying over-range detection and calibration.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/calibration"
	"github.com/gl7cryo/gl7ctl/pkg/ls350"
)

// ErrUnknownChannel is returned for channel names that are not configured.
var ErrUnknownChannel = errors.New("unknown channel")

// overRangeMask selects the RDGST? bits that invalidate a reading.
const overRangeMask = ls350.StatusTempOver | ls350.StatusUnitsOver

// maxResponseLen is the longest well-formed reading response.
const maxResponseLen = 15

// Instrument is the subset of the Lake Shore command set used for reading
// sensors.
type Instrument interface {
	Identify() (string, error)
	KelvinReading(input string) (string, error)
	SensorReading(input string) (string, error)
	VoltageReading(input string) (string, error)
	ReadingStatus(input string) (int, error)
}

// Channel describes one named sensor.
type Channel struct {
	// Name is the canonical name, e.g. "head3".
	Name string `json:"name"`
	// Label is a human readable description.
	Label string `json:"label,omitempty"`
	// Input is the identifier placed after the query, e.g. "A" or "D2".
	Input string `json:"input"`
	Kind  Kind   `json:"kind"`
	// ZeroIsFault marks inputs where an exact 0.0 means a sensor fault.
	ZeroIsFault bool `json:"zeroIsFault,omitempty"`
	// Offset is added to every Value before it is reported.
	Offset float64 `json:"offset,omitempty"`
	// Table converts the raw value to kelvin. Nil for direct readings.
	Table *calibration.Table `json:"-"`
}

// Service polls channels. It keeps no state between calls; every read
// goes to the instrument.
type Service struct {
	inst     Instrument
	channels []Channel
	index    map[string]int
}

// NewService validates channels and returns a Service.
func NewService(inst Instrument, channels []Channel) (*Service, error) {
	s := &Service{
		inst:     inst,
		channels: make([]Channel, 0, len(channels)),
		index:    map[string]int{},
	}
	for _, ch := range channels {
		if ch.Name == "" {
			return nil, fmt.Errorf("channel with input %q has no name", ch.Input)
		}
		if ch.Input == "" {
			return nil, fmt.Errorf("channel %s has no input", ch.Name)
		}
		if !ch.Kind.Valid() {
			return nil, fmt.Errorf("channel %s has invalid kind %q", ch.Name, ch.Kind)
		}
		if _, dup := s.index[ch.Name]; dup {
			return nil, fmt.Errorf("duplicate channel %s", ch.Name)
		}
		s.index[ch.Name] = len(s.channels)
		s.channels = append(s.channels, ch)
	}
	return s, nil
}

// Channels returns the configured channels in order.
func (s *Service) Channels() []Channel {
	return append([]Channel(nil), s.channels...)
}

// Channel looks up a channel by name.
func (s *Service) Channel(name string) (Channel, bool) {
	i, ok := s.index[name]
	if !ok {
		return Channel{}, false
	}
	return s.channels[i], true
}

// Identify returns the instrument identification string.
func (s *Service) Identify() (string, error) {
	return s.inst.Identify()
}

// Read polls the named channel and returns its raw reading in the unit of
// the channel kind. The only error is ErrUnknownChannel; instrument faults
// are reported as sentinel readings.
func (s *Service) Read(name string) (Reading, error) {
	ch, ok := s.Channel(name)
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return s.ReadChannel(ch), nil
}

// ReadCalibrated polls the named channel and converts the reading to
// kelvin when the channel has a table.
func (s *Service) ReadCalibrated(name string) (Reading, error) {
	ch, ok := s.Channel(name)
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return Calibrate(ch, s.ReadChannel(ch)), nil
}

// ReadChannel polls ch.
func (s *Service) ReadChannel(ch Channel) Reading {
	logger := logrus.WithFields(logrus.Fields{
		"channel": ch.Name,
		"input":   ch.Input,
		"kind":    ch.Kind,
	})

	status, err := s.inst.ReadingStatus(ch.Input)
	switch {
	case err == nil && status&overRangeMask != 0:
		logger.WithField("status", status).Debug("reading status reports over-range")
		return OverRange()
	case err != nil && !errors.Is(err, ls350.ErrNoResponse):
		logger.Debugf("reading status unavailable: %v", err)
	}

	var resp string
	switch ch.Kind {
	case KindResistance:
		resp, err = s.inst.SensorReading(ch.Input)
	case KindVoltage:
		resp, err = s.inst.VoltageReading(ch.Input)
	default:
		resp, err = s.inst.KelvinReading(ch.Input)
	}
	if err != nil {
		if !errors.Is(err, ls350.ErrNoResponse) {
			logger.Warnf("failed to read channel: %v", err)
		}
		return NoResponse()
	}

	r := Classify(resp, ch.Kind, ch.ZeroIsFault)
	if r.IsValue() && ch.Offset != 0 {
		r.Value += ch.Offset
	}
	logger.WithField("reading", r.String()).Trace("channel read")
	return r
}

// Calibrate converts a raw reading of ch to kelvin. Only usable values
// are converted; sentinels and channels without a table pass through.
func Calibrate(ch Channel, r Reading) Reading {
	if ch.Table == nil || !r.Usable() {
		return r
	}
	return Value(ch.Table.Interpolate(r.Value), UnitKelvin)
}

// overRangeMarkers are the textual over-range indications per kind.
var overRangeMarkers = map[Kind][]string{
	KindTemperature: {"OVER", "T.", "T_"},
	KindResistance:  {"OVER", "R.", "R_"},
	KindVoltage:     {"OVER", "V.", "V_"},
}

// Classify interprets one response line of a reading query.
func Classify(resp string, kind Kind, zeroIsFault bool) Reading {
	if resp == "" {
		return NoResponse()
	}
	if len(resp) > maxResponseLen || strings.ContainsAny(resp, "`\x00") {
		return OverRange()
	}

	v, err := strconv.ParseFloat(resp, 64)
	if err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		if v == 0 && zeroIsFault {
			return OverRange()
		}
		return Value(v, kind.Unit())
	}

	upper := strings.ToUpper(resp)
	for _, m := range overRangeMarkers[kind] {
		if strings.Contains(upper, m) {
			return OverRange()
		}
	}
	return Unparsed(resp)
}

// Entry is one channel of a Snapshot.
type Entry struct {
	Channel string `json:"channel"`
	Label   string `json:"label,omitempty"`
	// Raw is the reading in the unit of the channel kind.
	Raw Reading `json:"raw"`
	// Reading is Raw converted to kelvin when the channel has a table,
	// otherwise Raw.
	Reading Reading `json:"reading"`
}

// Snapshot is a sequential poll of several channels.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Entries []Entry   `json:"entries"`
}

// Get returns the entry of the named channel.
func (s Snapshot) Get(name string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Channel == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Reading returns the calibrated reading of the named channel, or
// NoResponse if the channel is not part of the snapshot.
func (s Snapshot) Reading(name string) Reading {
	e, ok := s.Get(name)
	if !ok {
		return NoResponse()
	}
	return e.Reading
}

// Snapshot reads the named channels, or every channel when names is empty,
// one after another. Each channel is polled once and the calibrated value
// is derived from that same raw reading.
func (s *Service) Snapshot(names ...string) (Snapshot, error) {
	chs := s.channels
	if len(names) > 0 {
		chs = make([]Channel, 0, len(names))
		for _, n := range names {
			ch, ok := s.Channel(n)
			if !ok {
				return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownChannel, n)
			}
			chs = append(chs, ch)
		}
	}

	snap := Snapshot{Time: time.Now(), Entries: make([]Entry, 0, len(chs))}
	for _, ch := range chs {
		raw := s.ReadChannel(ch)
		snap.Entries = append(snap.Entries, Entry{
			Channel: ch.Name,
			Label:   ch.Label,
			Raw:     raw,
			Reading: Calibrate(ch, raw),
		})
	}
	return snap, nil
}
