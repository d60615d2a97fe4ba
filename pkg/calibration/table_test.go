package calibration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const headCSV = `Temperature (K),Resistance (Ohm)
300,5000
10,1100
4,1050
`

func headTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := Load("head", strings.NewReader(headCSV), PolicyClamp)
	require.NoError(t, err)
	return tbl
}

func TestInterpolateBetweenSamples(t *testing.T) {
	tbl := headTable(t)
	assert.InDelta(t, 7.0, tbl.Interpolate(1075), 1e-9)
}

func TestInterpolateAtSamples(t *testing.T) {
	tbl := headTable(t)
	for _, s := range tbl.Samples() {
		assert.InDelta(t, s.Temperature, tbl.Interpolate(s.Raw), 1e-9, "raw %v", s.Raw)
	}
}

// ruoxCSV falls in resistance as temperature rises, like a RuOx head.
const ruoxCSV = `Temperature (K),Resistance (Ohm)
0.3,20000
1,5000
4,1500
10,1100
300,900
`

func TestInterpolateMonotonic(t *testing.T) {
	tbl, err := Load("ruox", strings.NewReader(ruoxCSV), PolicyClamp)
	require.NoError(t, err)
	lo, hi := tbl.Domain()
	prev := tbl.Interpolate(lo)
	for raw := lo; raw <= hi; raw += 7.5 {
		cur := tbl.Interpolate(raw)
		assert.LessOrEqual(t, cur, prev, "raw %v", raw)
		prev = cur
	}
}

func TestInterpolateSentinel(t *testing.T) {
	tbl := headTable(t)
	for _, raw := range []float64{0, -1, Sentinel()} {
		assert.True(t, IsSentinel(tbl.Interpolate(raw)), "raw %v", raw)
	}
}

func TestOutOfDomainPolicies(t *testing.T) {
	clamp := headTable(t)
	assert.Equal(t, 4.0, clamp.Interpolate(1000))
	assert.Equal(t, 300.0, clamp.Interpolate(9000))

	extra, err := Load("pump", strings.NewReader(headCSV), PolicyExtrapolate)
	require.NoError(t, err)
	// Slope of the low segment is 6 K / 50 Ohm.
	assert.InDelta(t, 4.0-6.0, extra.Interpolate(1000), 1e-9)
	assert.Greater(t, extra.Interpolate(6000), 300.0)
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	csv := "T,R\n" +
		"1.0,2000\n" +
		"abc,1500\n" +
		"2.0\n" +
		",\n" +
		"3.0,NaN\n" +
		"4.0,1000\n"
	tbl, err := Load("x", strings.NewReader(csv), PolicyClamp)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	lo, hi := tbl.Domain()
	assert.Equal(t, 1000.0, lo)
	assert.Equal(t, 2000.0, hi)
}

func TestLoadTooFewPoints(t *testing.T) {
	_, err := Load("x", strings.NewReader("T,R\n1.0,2000\nbad,row\n"), PolicyClamp)
	var cerr *CalibrationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "x", cerr.Source)

	_, err = Load("x", strings.NewReader("T,R\n1,5\n2,5\n"), PolicyClamp)
	require.ErrorAs(t, err, &cerr)
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	_, err := New("x", "nearest", []Sample{{1, 1}, {2, 2}})
	var cerr *CalibrationError
	assert.ErrorAs(t, err, &cerr)
}

func TestLoadSetKeepsGoodTables(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.csv")
	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(good, []byte(headCSV), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("T,R\n1,1\n"), 0o644))

	set := LoadSet([]Source{
		{Name: "good", Path: good, Policy: PolicyClamp},
		{Name: "bad", Path: bad, Policy: PolicyClamp},
		{Name: "missing", Path: filepath.Join(dir, "nope.csv"), Policy: PolicyExtrapolate},
	})

	assert.NotNil(t, set.Get("good"))
	assert.Nil(t, set.Get("bad"))
	assert.Nil(t, set.Get("missing"))
	assert.Error(t, set.Err("bad"))
	assert.Error(t, set.Err("missing"))
	assert.Equal(t, []string{"good"}, set.Names())
}
