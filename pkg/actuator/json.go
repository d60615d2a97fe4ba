package actuator

import (
	"encoding/json"
	"math"
)

// JSON cannot carry NaN, so unknown levels travel as null.

func numPtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func ptrNum(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

type heaterStatusJSON struct {
	Output        int      `json:"output"`
	Name          string   `json:"name"`
	Mode          Mode     `json:"mode"`
	Commanded     *float64 `json:"commanded"`
	Actual        *float64 `json:"actual"`
	LastCommanded *float64 `json:"lastCommanded"`
}

func (s HeaterStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(heaterStatusJSON{
		Output:        s.Output,
		Name:          s.Name,
		Mode:          s.Mode,
		Commanded:     numPtr(s.Commanded),
		Actual:        numPtr(s.Actual),
		LastCommanded: numPtr(s.LastCommanded),
	})
}

func (s *HeaterStatus) UnmarshalJSON(b []byte) error {
	var in heaterStatusJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = HeaterStatus{
		Output:        in.Output,
		Name:          in.Name,
		Mode:          in.Mode,
		Commanded:     ptrNum(in.Commanded),
		Actual:        ptrNum(in.Actual),
		LastCommanded: ptrNum(in.LastCommanded),
	}
	return nil
}

type switchStatusJSON struct {
	Output int         `json:"output"`
	Name   string      `json:"name"`
	State  SwitchState `json:"state"`
	Volts  *float64    `json:"volts"`
	Raw    string      `json:"raw,omitempty"`
}

func (s SwitchStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(switchStatusJSON{
		Output: s.Output,
		Name:   s.Name,
		State:  s.State,
		Volts:  numPtr(s.Volts),
		Raw:    s.Raw,
	})
}

func (s *SwitchStatus) UnmarshalJSON(b []byte) error {
	var in switchStatusJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = SwitchStatus{
		Output: in.Output,
		Name:   in.Name,
		State:  in.State,
		Volts:  ptrNum(in.Volts),
		Raw:    in.Raw,
	}
	return nil
}
