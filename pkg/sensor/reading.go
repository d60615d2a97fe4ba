package sensor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind is the physical quantity a channel reports.
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindResistance  Kind = "resistance"
	KindVoltage     Kind = "voltage"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTemperature, KindResistance, KindVoltage:
		return true
	}
	return false
}

// Unit returns the unit of values of this kind.
func (k Kind) Unit() Unit {
	switch k {
	case KindResistance:
		return UnitOhm
	case KindVoltage:
		return UnitVolt
	}
	return UnitKelvin
}

// Unit of a Value reading.
type Unit string

const (
	UnitKelvin Unit = "K"
	UnitOhm    Unit = "Ohm"
	UnitVolt   Unit = "V"
)

// Status tags the variant of a Reading.
type Status string

const (
	StatusValue      Status = "value"
	StatusOverRange  Status = "over-range"
	StatusNoResponse Status = "no-response"
	StatusUnparsed   Status = "unparsed"
)

// Reading is the outcome of one sensor poll: a value with its unit, or
// one of the sentinels OverRange, NoResponse and Unparsed.
type Reading struct {
	Status Status
	Value  float64
	Unit   Unit
	// Raw is the instrument response for Unparsed readings.
	Raw string
}

// Value returns a Value reading.
func Value(v float64, u Unit) Reading {
	return Reading{Status: StatusValue, Value: v, Unit: u}
}

// OverRange returns an OverRange reading.
func OverRange() Reading {
	return Reading{Status: StatusOverRange}
}

// NoResponse returns a NoResponse reading.
func NoResponse() Reading {
	return Reading{Status: StatusNoResponse}
}

// Unparsed returns an Unparsed reading carrying the raw response.
func Unparsed(raw string) Reading {
	return Reading{Status: StatusUnparsed, Raw: raw}
}

// IsValue reports whether r carries a number.
func (r Reading) IsValue() bool {
	return r.Status == StatusValue
}

// Usable reports whether r is a finite, positive Value, the only kind of
// reading that may be calibrated or compared against a threshold.
func (r Reading) Usable() bool {
	return r.IsValue() && !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) && r.Value > 0
}

// AtMost reports whether r is a usable Value not above limit.
func (r Reading) AtMost(limit float64) bool {
	return r.Usable() && r.Value <= limit
}

// KelvinAtMost is AtMost for a temperature limit. Readings in any unit
// other than kelvin never satisfy it.
func (r Reading) KelvinAtMost(limit float64) bool {
	return r.Unit == UnitKelvin && r.AtMost(limit)
}

func (r Reading) String() string {
	switch r.Status {
	case StatusValue:
		return strconv.FormatFloat(r.Value, 'f', -1, 64) + " " + string(r.Unit)
	case StatusOverRange:
		return "OVER"
	case StatusNoResponse:
		return "NO_RESPONSE"
	case StatusUnparsed:
		return fmt.Sprintf("UNPARSED(%q)", r.Raw)
	}
	return "UNKNOWN"
}

type readingJSON struct {
	Status Status   `json:"status"`
	Value  *float64 `json:"value,omitempty"`
	Unit   Unit     `json:"unit,omitempty"`
	Raw    string   `json:"raw,omitempty"`
}

// MarshalJSON omits the number for sentinels, and for NaN values which
// JSON cannot carry.
func (r Reading) MarshalJSON() ([]byte, error) {
	out := readingJSON{Status: r.Status, Raw: r.Raw}
	if r.Status == StatusValue {
		out.Unit = r.Unit
		if !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) {
			v := r.Value
			out.Value = &v
		}
	}
	return json.Marshal(out)
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	var in readingJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = Reading{Status: in.Status, Unit: in.Unit, Raw: in.Raw}
	if in.Value != nil {
		r.Value = *in.Value
	} else if in.Status == StatusValue {
		r.Value = math.NaN()
	}
	return nil
}
