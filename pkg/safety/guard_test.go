package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/ls350"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

func newGuard(t *testing.T, opts Options) (*Guard, *ls350.MockConn, []*actuator.Heater) {
	t.Helper()
	inst, m := ls350.NewMock(map[string]string{"KRDG? B": "3.2"})
	heaters := []*actuator.Heater{
		actuator.NewHeater(inst, 1, "pump4"),
		actuator.NewHeater(inst, 2, "pump3"),
	}
	svc, err := sensor.NewService(inst, []sensor.Channel{{Name: "device", Input: "B", Kind: sensor.KindTemperature}})
	require.NoError(t, err)
	g := NewGuard(heaters, svc, opts)
	g.sleep = func(time.Duration) {}
	return g, m, heaters
}

func TestEmergencyStopAllHeaters(t *testing.T) {
	g, m, heaters := newGuard(t, Options{Confirm: true, ConfirmDelay: time.Second, Snapshot: true})
	require.NoError(t, heaters[0].SetLevel(40))
	require.NoError(t, heaters[1].SetLevel(60))
	m.Reset()

	ok, rep := g.EmergencyStop()
	assert.True(t, ok)
	assert.True(t, rep.OK)
	require.Len(t, rep.Outputs, 2)
	for _, o := range rep.Outputs {
		require.NotNil(t, o.Confirmed)
		assert.Equal(t, 0.0, o.Confirmed.Commanded)
	}
	require.NotNil(t, rep.Snapshot)
	assert.Equal(t, sensor.Value(3.2, sensor.UnitKelvin), rep.Snapshot.Reading("device"))
	assert.Equal(t, []string{
		"OUTMODE 1,3,0,0", "MOUT 1,0.00",
		"OUTMODE 2,3,0,0", "MOUT 2,0.00",
	}, m.Commands())
}

func TestEmergencyStopContinuesPastFailure(t *testing.T) {
	g, m, _ := newGuard(t, Options{})
	m.FailOn("OUTMODE 1", errors.New("boom"))

	ok, rep := g.EmergencyStop()
	assert.False(t, ok)
	assert.False(t, rep.Outputs[0].OK)
	assert.NotEmpty(t, rep.Outputs[0].Error)
	assert.True(t, rep.Outputs[1].OK)
	assert.Contains(t, m.Commands(), "MOUT 2,0.00")
}

func TestEmergencyStopUnconfirmed(t *testing.T) {
	g, m, _ := newGuard(t, Options{Confirm: true})
	// The level command is accepted but the read-back is missing.
	m.FailOn("MOUT?", errors.New("no answer"))

	ok, rep := g.EmergencyStop()
	assert.False(t, ok)
	assert.False(t, rep.Outputs[0].OK)
}
