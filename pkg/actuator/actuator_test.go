package actuator

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gl7cryo/gl7ctl/pkg/ls350"
)

func TestSetLevelRejectsOutOfRange(t *testing.T) {
	for _, pct := range []float64{-0.1, 100.01, math.NaN(), math.Inf(1)} {
		inst, m := ls350.NewMock(nil)
		h := NewHeater(inst, 1, "pump4")

		err := h.SetLevel(pct)
		assert.ErrorIs(t, err, ErrLevelOutOfRange, "level %v", pct)
		assert.Empty(t, m.Sent(), "level %v", pct)
	}
}

func TestSetLevelCommandOrder(t *testing.T) {
	inst, m := ls350.NewMock(nil)
	h := NewHeater(inst, 2, "pump3")

	require.NoError(t, h.SetLevel(25))
	assert.Equal(t, []string{"OUTMODE 2,3,0,0", "MOUT 2,25.00"}, m.Commands())

	st := h.QueryStatus()
	assert.Equal(t, ModeManual, st.Mode)
	assert.Equal(t, 25.0, st.Commanded)
	assert.Equal(t, 25.0, st.LastCommanded)
	assert.True(t, math.IsNaN(st.Actual))
}

func TestSetLevelPartialFailure(t *testing.T) {
	boom := errors.New("boom")

	inst, m := ls350.NewMock(nil)
	m.FailOn("OUTMODE", boom)
	h := NewHeater(inst, 1, "pump4")
	err := h.SetLevel(10)
	var cerr *ActuatorCommandError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, cerr.Ambiguous)
	assert.ErrorIs(t, err, boom)
	// No level command after a failed mode command.
	assert.Equal(t, []string{"OUTMODE 1,3,0,0"}, m.Sent())

	inst, m = ls350.NewMock(nil)
	m.FailOn("MOUT", boom)
	h = NewHeater(inst, 1, "pump4")
	err = h.SetLevel(10)
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.Ambiguous)
	// Sent exactly once each, never retried.
	assert.Equal(t, []string{"OUTMODE 1,3,0,0", "MOUT 1,10.00"}, m.Sent())
	assert.True(t, math.IsNaN(h.QueryStatus().LastCommanded))
}

func TestTurnOffIsIndependent(t *testing.T) {
	inst, m := ls350.NewMock(nil)
	m.FailOn("OUTMODE 2", errors.New("boom"))
	h1 := NewHeater(inst, 1, "pump4")
	h2 := NewHeater(inst, 2, "pump3")

	assert.Error(t, h2.TurnOff())
	require.NoError(t, h1.TurnOff())
	assert.Equal(t, 0.0, h1.QueryStatus().Commanded)
}

func TestQueryStatusUnparsable(t *testing.T) {
	inst, _ := ls350.NewMock(map[string]string{
		"OUTMODE? 1": "9,0,0",
		"MOUT? 1":    "???",
		"HTR? 1":     "+12.5",
	})
	st := NewHeater(inst, 1, "pump4").QueryStatus()
	assert.Equal(t, ModeUnknown, st.Mode)
	assert.True(t, math.IsNaN(st.Commanded))
	assert.Equal(t, 12.5, st.Actual)

	b, err := json.Marshal(st)
	require.NoError(t, err)
	var back HeaterStatus
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, math.IsNaN(back.Commanded))
	assert.Equal(t, 12.5, back.Actual)
}

func TestHeaterRange(t *testing.T) {
	inst, m := ls350.NewMock(nil)
	h := NewHeater(inst, 1, "pump4")

	assert.ErrorIs(t, h.SetRange(4), ErrRangeOutOfRange)
	assert.Empty(t, m.Sent())
	require.NoError(t, h.SetRange(ls350.RangeHigh))
	assert.Equal(t, ls350.RangeHigh, h.Range())
}

func TestSwitch(t *testing.T) {
	inst, m := ls350.NewMock(nil)
	s := NewSwitch(inst, 3, "switch4")

	assert.Equal(t, SwitchUnknown, s.Query().State)

	require.NoError(t, s.On())
	st := s.Query()
	assert.Equal(t, SwitchOn, st.State)
	assert.Equal(t, 5.0, st.Volts)

	require.NoError(t, s.Off())
	assert.Equal(t, SwitchOff, s.Query().State)

	assert.Equal(t, []string{"ANALOG 3,1,1,5.0,0.0,0", "ANALOG 3,0"}, m.Commands())
}

func TestParseAnalog(t *testing.T) {
	tests := []struct {
		in    string
		state SwitchState
	}{
		{"1,1,5.0,0.0,0", SwitchOn},
		{"0,1,+0.000,+0.000,0", SwitchOff},
		{"0", SwitchOff},
		{"junk", SwitchUnknown},
	}
	for _, tt := range tests {
		got, _ := ParseAnalog(tt.in)
		assert.Equal(t, tt.state, got, tt.in)
	}
}
