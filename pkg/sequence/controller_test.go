package sequence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gl7cryo/gl7ctl/pkg/actuator"
	"github.com/gl7cryo/gl7ctl/pkg/ls350"
	"github.com/gl7cryo/gl7ctl/pkg/safety"
	"github.com/gl7cryo/gl7ctl/pkg/sensor"
)

type fixture struct {
	c       *Controller
	m       *ls350.MockConn
	hw      Hardware
	prompts []string
	sleeps  int
	stops   []StageID
	run     *Run
	answer  func(prompt string) (bool, error)
}

// recordingStopper remembers the run stage at the moment the guard runs.
type recordingStopper struct {
	f     *fixture
	guard *safety.Guard
}

func (s recordingStopper) EmergencyStop() (bool, safety.Report) {
	if s.f.run != nil {
		s.f.stops = append(s.f.stops, s.f.run.Stage())
	}
	return s.guard.EmergencyStop()
}

func newFixture(t *testing.T, head3, head4 string, opts Options) *fixture {
	t.Helper()
	prefill := map[string]string{}
	if head3 != "" {
		prefill["KRDG? A"] = head3
	}
	if head4 != "" {
		prefill["KRDG? C"] = head4
	}
	return newFixtureWith(t, prefill, sensor.KindTemperature, opts)
}

// newFixtureWith reads both heads as the given kind, with no calibration.
func newFixtureWith(t *testing.T, prefill map[string]string, kind sensor.Kind, opts Options) *fixture {
	t.Helper()
	inst, m := ls350.NewMock(prefill)
	svc, err := sensor.NewService(inst, []sensor.Channel{
		{Name: "head3", Input: "A", Kind: kind},
		{Name: "head4", Input: "C", Kind: kind},
	})
	require.NoError(t, err)

	f := &fixture{m: m}
	f.hw = Hardware{
		Pump4Heater: actuator.NewHeater(inst, 1, "pump4"),
		Pump3Heater: actuator.NewHeater(inst, 2, "pump3"),
		Switch4:     actuator.NewSwitch(inst, 3, "switch4"),
		Switch3:     actuator.NewSwitch(inst, 4, "switch3"),
	}
	guard := safety.NewGuard([]*actuator.Heater{f.hw.Pump4Heater, f.hw.Pump3Heater}, nil, safety.Options{})
	confirmer := ConfirmFunc(func(_ context.Context, prompt string) (bool, error) {
		f.prompts = append(f.prompts, prompt)
		if f.answer != nil {
			return f.answer(prompt)
		}
		return true, nil
	})
	if opts.Budget.Checks == 0 {
		opts.Budget = RetryBudget{Checks: 3, Interval: time.Second}
	}
	f.c = NewController(svc, f.hw, Roles{Head3: "head3", Head4: "head4"}, recordingStopper{f: f, guard: guard}, confirmer, opts)
	f.c.sleep = func(context.Context, time.Duration) error {
		f.sleeps++
		return nil
	}
	return f
}

func (f *fixture) newRun(p Params) *Run {
	f.run = NewRun(p)
	return f.run
}

func TestRunCompleteCooldown(t *testing.T) {
	f := newFixture(t, "0.25", "0.25", Options{})
	run := f.newRun(Params{Pump4Level: 40, Pump3Level: 55.5})

	require.NoError(t, f.c.Run(context.Background(), run))

	st := run.Status()
	assert.Equal(t, StageComplete, st.Stage)
	assert.False(t, st.Aborted)
	assert.Contains(t, st.Verdict, "operating")
	require.Len(t, st.History, 7)
	for i, rec := range st.History {
		assert.Equal(t, StageID(i+1), rec.Stage)
		assert.NotEmpty(t, rec.Snapshots, "stage %d", rec.Stage)
	}
	assert.Equal(t, OutcomeThresholdMet, st.History[1].Outcome)
	assert.Equal(t, OutcomeDone, st.History[3].Outcome)

	assert.Equal(t, []string{
		"OUTMODE 1,3,0,0", "MOUT 1,40.00",
		"OUTMODE 2,3,0,0", "MOUT 2,55.50",
		"OUTMODE 1,3,0,0", "MOUT 1,0.00",
		"ANALOG 3,1,1,5.0,0.0,0",
		"OUTMODE 2,3,0,0", "MOUT 2,0.00",
		"ANALOG 4,1,1,5.0,0.0,0",
	}, f.m.Commands())
	assert.Len(t, f.prompts, 6)
	assert.Contains(t, f.prompts[0], "output 1")
	assert.Contains(t, f.prompts[0], "40%")
	assert.Contains(t, f.prompts[1], "55.5%")
	assert.Empty(t, f.stops)
}

func TestThresholdAdvancesWithoutConfirmation(t *testing.T) {
	f := newFixture(t, "5", "12", Options{})
	run := f.newRun(Params{From: Stage2})

	require.NoError(t, f.c.RunStage(context.Background(), run, Stage2))

	st := run.Status()
	assert.Equal(t, Stage3, st.Stage)
	require.Len(t, st.History, 1)
	assert.Equal(t, OutcomeAdvancedWithoutConfirmation, st.History[0].Outcome)
	assert.Len(t, st.History[0].Snapshots, 3)
	assert.Equal(t, 2, f.sleeps)
	assert.Empty(t, f.m.Commands())
}

func TestThresholdMetOnLaterCheck(t *testing.T) {
	f := newFixture(t, "12", "12", Options{})
	f.c.sleep = func(context.Context, time.Duration) error {
		f.sleeps++
		f.m.SetResponse("KRDG? A", "9.5")
		f.m.SetResponse("KRDG? C", "10")
		return nil
	}
	run := f.newRun(Params{From: Stage2})

	require.NoError(t, f.c.RunStage(context.Background(), run, Stage2))

	rec := run.Status().History[0]
	assert.Equal(t, OutcomeThresholdMet, rec.Outcome)
	assert.Len(t, rec.Snapshots, 2)
	assert.Equal(t, 1, f.sleeps)
}

func TestAbortDuringPumpHeating(t *testing.T) {
	f := newFixture(t, "8", "8", Options{})
	run := f.newRun(Params{Pump4Level: 40, Pump3Level: 50, From: Stage3})
	f.answer = func(string) (bool, error) {
		if len(f.prompts) == 2 {
			run.Abort("operator abort")
		}
		return true, nil
	}

	err := f.c.Run(context.Background(), run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)

	// The guard ran while the run was still in Stage3.
	assert.Equal(t, []StageID{Stage3}, f.stops)

	st := run.Status()
	assert.Equal(t, StageAborted, st.Stage)
	assert.True(t, st.Aborted)
	assert.Equal(t, "operator abort", st.AbortReason)
	require.NotNil(t, st.SafetyStop)
	assert.True(t, st.SafetyStop.OK)
	assert.Equal(t, OutcomeAborted, st.History[0].Outcome)

	assert.Equal(t, 0.0, f.hw.Pump4Heater.QueryStatus().Commanded)
	assert.Equal(t, 0.0, f.hw.Pump3Heater.QueryStatus().Commanded)
	assert.NotContains(t, f.m.Commands(), "MOUT 2,50.00")
}

func TestDeclineAborts(t *testing.T) {
	f := newFixture(t, "8", "8", Options{})
	f.answer = func(string) (bool, error) { return false, nil }
	run := f.newRun(Params{Pump4Level: 40, Pump3Level: 50, From: Stage3})

	err := f.c.Run(context.Background(), run)
	assert.ErrorIs(t, err, ErrAborted)

	st := run.Status()
	assert.Equal(t, StageAborted, st.Stage)
	assert.Contains(t, st.AbortReason, "declined")
	assert.Equal(t, []string{
		"OUTMODE 1,3,0,0", "MOUT 1,0.00",
		"OUTMODE 2,3,0,0", "MOUT 2,0.00",
	}, f.m.Commands())
}

func TestActuatorFailureAborts(t *testing.T) {
	f := newFixture(t, "8", "8", Options{})
	f.m.FailOn("MOUT 1", errors.New("write failed"))
	run := f.newRun(Params{Pump4Level: 40, Pump3Level: 50, From: Stage3})

	err := f.c.Run(context.Background(), run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)

	var cerr *actuator.ActuatorCommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.Output)
	assert.True(t, cerr.Ambiguous)

	st := run.Status()
	assert.Equal(t, "actuator command failed", st.AbortReason)
	assert.NotEmpty(t, st.Error)
	require.NotNil(t, st.SafetyStop)
	// Output 1 cannot be forced off through the broken link.
	assert.False(t, st.SafetyStop.OK)
	assert.Contains(t, f.m.Commands(), "MOUT 2,0.00")
}

func TestNoSensorRespondingAborts(t *testing.T) {
	f := newFixture(t, "", "", Options{})
	run := f.newRun(Params{})

	err := f.c.Run(context.Background(), run)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StageAborted, run.Stage())
	assert.Equal(t, []StageID{Stage1}, f.stops)
}

func TestCancelWhileAwaitingConfirmation(t *testing.T) {
	f := newFixture(t, "8", "8", Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.answer = func(string) (bool, error) {
		cancel()
		return false, ctx.Err()
	}
	run := f.newRun(Params{From: Stage4})

	err := f.c.Run(ctx, run)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, "cancelled", run.Status().AbortReason)
	assert.Equal(t, []StageID{Stage4}, f.stops)
}

func TestAbortBeforeStage(t *testing.T) {
	f := newFixture(t, "8", "8", Options{})
	run := f.newRun(Params{})
	run.Abort("changed my mind")

	err := f.c.Run(context.Background(), run)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Empty(t, run.Status().History)
	assert.Empty(t, f.prompts)
	assert.Len(t, f.stops, 1)
}

func TestRunOnlyOneStage(t *testing.T) {
	f := newFixture(t, "0.2", "0.2", Options{})
	run := f.newRun(Params{From: Stage6, Only: true})

	require.NoError(t, f.c.Run(context.Background(), run))
	assert.Equal(t, Stage7, run.Stage())
	assert.False(t, run.Done())
	require.Len(t, run.Status().History, 1)

	assert.ErrorIs(t, f.c.RunStage(context.Background(), run, StageID(42)), ErrUnknownStage)
}

func TestRunStageAfterFinish(t *testing.T) {
	f := newFixture(t, "0.2", "0.2", Options{})
	run := f.newRun(Params{From: Stage7})
	require.NoError(t, f.c.Run(context.Background(), run))
	assert.True(t, run.Done())
	assert.ErrorIs(t, f.c.RunStage(context.Background(), run, Stage7), ErrRunFinished)
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) StageStarted(*Run, Stage) { o.events = append(o.events, "started") }
func (o *recordingObserver) SnapshotTaken(*Run, Stage, sensor.Snapshot) {
	o.events = append(o.events, "snapshot")
}
func (o *recordingObserver) StageFinished(*Run, Stage, Outcome) {
	o.events = append(o.events, "finished")
}
func (o *recordingObserver) RunAborted(*Run, string, safety.Report) {
	o.events = append(o.events, "aborted")
}

func TestSnapshotsReportedBeforeDecision(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, "20", "20", Options{Observer: obs})
	run := f.newRun(Params{From: Stage2})

	require.NoError(t, f.c.RunStage(context.Background(), run, Stage2))
	assert.Equal(t, []string{"started", "snapshot", "snapshot", "snapshot", "finished"}, obs.events)
}

// abortingObserver requests an abort on the nth snapshot, or when a stage
// finishes if n is 0.
type abortingObserver struct {
	nopObserver
	n    int
	seen int
}

func (o *abortingObserver) SnapshotTaken(run *Run, _ Stage, _ sensor.Snapshot) {
	o.seen++
	if o.n > 0 && o.seen == o.n {
		run.Abort("operator pressed abort")
	}
}

func (o *abortingObserver) StageFinished(run *Run, _ Stage, _ Outcome) {
	if o.n == 0 {
		run.Abort("operator pressed abort")
	}
}

func TestAbortAfterThresholdMet(t *testing.T) {
	tests := []struct {
		name string
		obs  *abortingObserver
	}{
		{"post-script snapshot", &abortingObserver{n: 2}},
		{"after stage finished", &abortingObserver{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "3.0", "3.0", Options{Observer: tt.obs})
			run := f.newRun(Params{From: Stage3, Only: true, Pump4Level: 40, Pump3Level: 50})

			err := f.c.Run(context.Background(), run)
			require.ErrorIs(t, err, ErrAborted)

			st := run.Status()
			assert.True(t, st.Aborted)
			assert.Equal(t, "operator pressed abort", st.AbortReason)
			assert.NotEmpty(t, f.stops)
			require.NotNil(t, st.SafetyStop)
			cmds := f.m.Commands()
			assert.Contains(t, cmds, "MOUT 1,0.00")
			assert.Contains(t, cmds, "MOUT 2,0.00")
		})
	}
}

func TestFinalVerdict(t *testing.T) {
	tests := []struct {
		head4 string
		want  string
	}{
		{"0.29", "operating"},
		{"0.45", "approaching"},
		{"1.2", "not at base"},
	}
	for _, tt := range tests {
		t.Run(tt.head4, func(t *testing.T) {
			f := newFixture(t, "0.3", tt.head4, Options{})
			run := f.newRun(Params{From: Stage7})
			require.NoError(t, f.c.Run(context.Background(), run))
			assert.Contains(t, run.Status().Verdict, tt.want)
		})
	}
}

func TestAllAtMost(t *testing.T) {
	snap := func(h3, h4 sensor.Reading) sensor.Snapshot {
		return sensor.Snapshot{Entries: []sensor.Entry{
			{Channel: "head3", Reading: h3},
			{Channel: "head4", Reading: h4},
		}}
	}
	k := func(v float64) sensor.Reading { return sensor.Value(v, sensor.UnitKelvin) }
	th := AllAtMost(4, "head3", "head4")

	assert.False(t, th.Met(snap(k(3.9), k(4.1))))
	assert.True(t, th.Met(snap(k(3.9), k(3.95))))
	assert.True(t, th.Met(snap(k(4), k(4))))
	assert.False(t, th.Met(snap(k(3.9), sensor.OverRange())))
	assert.False(t, th.Met(snap(k(3.9), sensor.NoResponse())))
	assert.False(t, th.Met(sensor.Snapshot{}))
	assert.Contains(t, th.Shortfall(snap(k(3.9), k(4.1))), "head4=4.1")

	ohm := sensor.Value(3.5, sensor.UnitOhm)
	assert.False(t, th.Met(snap(ohm, ohm)))
	assert.Contains(t, th.Shortfall(snap(ohm, k(3.9))), "head3=3.5 Ohm (not calibrated)")
}

func TestUncalibratedHeadsNeverMeetThreshold(t *testing.T) {
	f := newFixtureWith(t, map[string]string{"SRDG? A": "3.5", "SRDG? C": "3.5"}, sensor.KindResistance, Options{})
	run := f.newRun(Params{From: Stage2, Only: true})

	require.NoError(t, f.c.Run(context.Background(), run))

	st := run.Status()
	require.Len(t, st.History, 1)
	assert.Equal(t, OutcomeAdvancedWithoutConfirmation, st.History[0].Outcome)
	assert.Equal(t, 2, f.sleeps)
}

func TestValidateParams(t *testing.T) {
	assert.NoError(t, ValidateParams(Params{Pump4Level: 0, Pump3Level: 100}))
	assert.ErrorIs(t, ValidateParams(Params{Pump4Level: 101}), actuator.ErrLevelOutOfRange)
	assert.ErrorIs(t, ValidateParams(Params{Pump3Level: -1}), actuator.ErrLevelOutOfRange)
	assert.ErrorIs(t, ValidateParams(Params{From: StageComplete}), ErrUnknownStage)
}

func TestStageConfirmation(t *testing.T) {
	f := newFixture(t, "1", "1", Options{})
	want := map[StageID]Confirmation{
		Stage1: ConfirmNone,
		Stage2: ConfirmNone,
		Stage3: ConfirmOperator,
		Stage4: ConfirmOperator,
		Stage5: ConfirmOperator,
		Stage6: ConfirmNone,
		Stage7: ConfirmNone,
	}
	stages := f.c.Stages()
	require.Len(t, stages, 7)
	for _, st := range stages {
		assert.Equal(t, want[st.ID], st.Confirmation(), st.Name)
	}
}
