package sensor

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gl7cryo/gl7ctl/pkg/calibration"
	"github.com/gl7cryo/gl7ctl/pkg/ls350"
)

func testTable(t *testing.T) *calibration.Table {
	t.Helper()
	tbl, err := calibration.Load("head", strings.NewReader("T,R\n300,5000\n10,1100\n4,1050\n"), calibration.PolicyClamp)
	require.NoError(t, err)
	return tbl
}

func testChannels(t *testing.T) []Channel {
	return []Channel{
		{Name: "head3", Input: "A", Kind: KindResistance, Table: testTable(t)},
		{Name: "head4", Input: "C", Kind: KindResistance, Offset: 34.56, Table: testTable(t)},
		{Name: "device", Input: "B", Kind: KindTemperature},
		{Name: "stage4k", Input: "D2", Kind: KindTemperature, ZeroIsFault: true},
		{Name: "pump3diode", Input: "D4", Kind: KindVoltage, ZeroIsFault: true},
	}
}

func newTestService(t *testing.T, prefill map[string]string) (*Service, *ls350.MockConn) {
	t.Helper()
	inst, m := ls350.NewMock(prefill)
	s, err := NewService(inst, testChannels(t))
	require.NoError(t, err)
	return s, m
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		resp        string
		kind        Kind
		zeroIsFault bool
		want        Reading
	}{
		{"value", "+273.150", KindTemperature, false, Value(273.15, UnitKelvin)},
		{"resistance unit", "1019.35", KindResistance, false, Value(1019.35, UnitOhm)},
		{"voltage unit", "1.2", KindVoltage, false, Value(1.2, UnitVolt)},
		{"empty", "", KindTemperature, false, NoResponse()},
		{"too long", "+1234567890.123456", KindTemperature, false, OverRange()},
		{"backtick", "1`2", KindResistance, false, OverRange()},
		{"nul", "1\x002", KindResistance, false, OverRange()},
		{"text over", "T.OVER", KindTemperature, false, OverRange()},
		{"kind marker", "r_ov", KindResistance, false, OverRange()},
		{"other kind marker", "R_x", KindTemperature, false, Unparsed("R_x")},
		{"garbage", "hello", KindTemperature, false, Unparsed("hello")},
		{"nan text", "NaN", KindTemperature, false, Unparsed("NaN")},
		{"zero fault", "0.0", KindTemperature, true, OverRange()},
		{"zero allowed", "0.0", KindTemperature, false, Value(0, UnitKelvin)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.resp, tt.kind, tt.zeroIsFault))
		})
	}
}

func TestReadStatusBitWins(t *testing.T) {
	s, m := newTestService(t, map[string]string{
		"RDGST? B": "32",
		"KRDG? B":  "12.3",
	})

	r, err := s.Read("device")
	require.NoError(t, err)
	assert.Equal(t, StatusOverRange, r.Status)
	// The value query is never sent once the status bit is set.
	assert.Equal(t, []string{"RDGST? B"}, m.Sent())
}

func TestReadStatusClear(t *testing.T) {
	s, _ := newTestService(t, map[string]string{
		"RDGST? B": "0",
		"KRDG? B":  "12.3",
	})
	r, err := s.Read("device")
	require.NoError(t, err)
	assert.Equal(t, Value(12.3, UnitKelvin), r)
}

func TestReadZeroIsFault(t *testing.T) {
	s, _ := newTestService(t, map[string]string{
		"KRDG? D2": "0.0",
		"VRDG? D4": "+0.00000",
	})

	r, err := s.Read("stage4k")
	require.NoError(t, err)
	assert.Equal(t, StatusOverRange, r.Status)

	r, err = s.Read("pump3diode")
	require.NoError(t, err)
	assert.Equal(t, StatusOverRange, r.Status)
}

func TestReadDispatchesByKind(t *testing.T) {
	s, m := newTestService(t, map[string]string{
		"SRDG? A":  "1075",
		"VRDG? D4": "1.5",
	})

	r, err := s.Read("head3")
	require.NoError(t, err)
	assert.Equal(t, Value(1075, UnitOhm), r)

	r, err = s.Read("pump3diode")
	require.NoError(t, err)
	assert.Equal(t, Value(1.5, UnitVolt), r)

	assert.Equal(t, []string{"RDGST? A", "SRDG? A", "RDGST? D4", "VRDG? D4"}, m.Sent())
}

func TestReadNoResponse(t *testing.T) {
	s, m := newTestService(t, nil)
	r, err := s.Read("device")
	require.NoError(t, err)
	assert.Equal(t, NoResponse(), r)

	m.FailOn("KRDG?", errors.New("serial: write: broken pipe"))
	r, err = s.Read("device")
	require.NoError(t, err)
	assert.Equal(t, NoResponse(), r)
}

func TestReadUnknownChannel(t *testing.T) {
	s, _ := newTestService(t, nil)
	_, err := s.Read("nope")
	assert.ErrorIs(t, err, ErrUnknownChannel)
	_, err = s.Snapshot("device", "nope")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestReadCalibratedNoDoubleConversion(t *testing.T) {
	s, _ := newTestService(t, map[string]string{"SRDG? A": "1075"})

	raw, err := s.Read("head3")
	require.NoError(t, err)
	require.Equal(t, UnitOhm, raw.Unit)

	cal, err := s.ReadCalibrated("head3")
	require.NoError(t, err)
	ch, _ := s.Channel("head3")
	assert.Equal(t, UnitKelvin, cal.Unit)
	assert.InDelta(t, ch.Table.Interpolate(raw.Value), cal.Value, 1e-12)
	assert.InDelta(t, 7.0, cal.Value, 1e-9)
}

func TestReadAppliesOffset(t *testing.T) {
	s, _ := newTestService(t, map[string]string{"SRDG? C": "1040.44"})

	raw, err := s.Read("head4")
	require.NoError(t, err)
	assert.InDelta(t, 1075.0, raw.Value, 1e-9)

	cal, err := s.ReadCalibrated("head4")
	require.NoError(t, err)
	assert.InDelta(t, 7.0, cal.Value, 1e-9)
}

func TestCalibrateSentinelsPassThrough(t *testing.T) {
	ch := Channel{Name: "head3", Input: "A", Kind: KindResistance, Table: testTable(t)}
	for _, r := range []Reading{OverRange(), NoResponse(), Unparsed("x"), Value(0, UnitOhm), Value(-3, UnitOhm)} {
		assert.Equal(t, r, Calibrate(ch, r))
	}
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestService(t, map[string]string{
		"SRDG? A": "1100",
		"RDGST? C": "32",
		"KRDG? B": "1.2",
	})

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Entries, 5)
	assert.Equal(t, "head3", snap.Entries[0].Channel)
	assert.Equal(t, Value(1100, UnitOhm), snap.Entries[0].Raw)
	assert.InDelta(t, 10.0, snap.Reading("head3").Value, 1e-9)
	assert.Equal(t, StatusOverRange, snap.Reading("head4").Status)
	assert.Equal(t, NoResponse(), snap.Reading("missing"))
}

func TestReadingJSON(t *testing.T) {
	b, err := json.Marshal(Value(math.NaN(), UnitKelvin))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"value","unit":"K"}`, string(b))

	b, err = json.Marshal(OverRange())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"over-range"}`, string(b))

	var r Reading
	require.NoError(t, json.Unmarshal([]byte(`{"status":"value","value":3.5,"unit":"K"}`), &r))
	assert.Equal(t, Value(3.5, UnitKelvin), r)
}

func TestAtMost(t *testing.T) {
	head3, head4 := Value(3.9, UnitKelvin), Value(4.1, UnitKelvin)
	assert.False(t, head3.AtMost(4) && head4.AtMost(4))
	head4 = Value(3.95, UnitKelvin)
	assert.True(t, head3.AtMost(4) && head4.AtMost(4))
	assert.False(t, OverRange().AtMost(4))
}

func TestKelvinAtMost(t *testing.T) {
	assert.True(t, Value(3.5, UnitKelvin).KelvinAtMost(4))
	assert.False(t, Value(3.5, UnitOhm).KelvinAtMost(4))
	assert.False(t, Value(0.5, UnitVolt).KelvinAtMost(4))
	assert.False(t, NoResponse().KelvinAtMost(4))
}
