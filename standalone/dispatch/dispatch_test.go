package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"resinctl/core"
	"resinctl/protocol"
	"resinctl/standalone"
	"resinctl/standalone/config"
	"resinctl/standalone/kinematics"
	"resinctl/standalone/planner"
	"resinctl/standalone/queue"
	"resinctl/standalone/stepgen"
	"resinctl/targets/sim"
)

type fixture struct {
	d     *Dispatcher
	reg   *stepgen.Registry
	store *config.Store
	rec   *sim.Recorder
}

func newFixture(t *testing.T, machine *standalone.MachineConfig) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rec := sim.NewRecorder(true)
	clock := &sim.InstantClock{}

	var steppers []*stepgen.Stepper
	for _, id := range standalone.AxisOrder {
		if ax, ok := machine.Axes[id]; ok {
			steppers = append(steppers, stepgen.NewStepper(id, ax, rec, clock))
		}
	}
	reg := stepgen.NewRegistry(steppers, 50*time.Millisecond, logger)
	if err := reg.InitPins(); err != nil {
		t.Fatalf("InitPins failed: %v", err)
	}
	reg.SetObserver(rec)
	rec.Reset()

	kin, err := kinematics.New(machine)
	if err != nil {
		t.Fatalf("kinematics: %v", err)
	}
	store := config.NewStore(config.Params(machine))
	return &fixture{
		d:     New(reg, store, kin, machine, logger),
		reg:   reg,
		store: store,
		rec:   rec,
	}
}

// fourAxis is the four-axis machine with a coarse calibration to keep
// traces short.
func fourAxis() *standalone.MachineConfig {
	m := config.DefaultFourAxisConfig()
	for id, ax := range m.Axes {
		ax.StepsPerMM = 10
		m.Axes[id] = ax
	}
	return m
}

func (f *fixture) spm(t *testing.T, id standalone.AxisID) float64 {
	t.Helper()
	s, ok := f.reg.Stepper(id)
	if !ok {
		t.Fatalf("no stepper for %s", id)
	}
	return s.StepsPerMM()
}

func TestConfigAxis(t *testing.T) {
	f := newFixture(t, fourAxis())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp := f.d.Dispatch(ctx, "CONFIG_AXIS,z,3200,1.25")
		if resp != "OK: Axis z configured." {
			t.Fatalf("Expected OK response, got %q", resp)
		}
		if got := f.spm(t, standalone.AxisZ); got != 2560 {
			t.Errorf("Expected 2560 steps/mm, got %g", got)
		}
	}

	// Upper-case axis and padded fields
	if resp := f.d.Dispatch(ctx, " config_axis , B , 400 , 2 "); resp != "OK: Axis b configured." {
		t.Errorf("Expected OK for axis b, got %q", resp)
	}
	if got := f.spm(t, standalone.AxisB); got != 200 {
		t.Errorf("Expected 200 steps/mm, got %g", got)
	}
}

func TestConfigAxisErrors(t *testing.T) {
	f := newFixture(t, fourAxis())
	ctx := context.Background()

	if resp := f.d.Dispatch(ctx, "CONFIG_AXIS,x,3200,1.25"); resp != protocol.RespInvalidAxis {
		t.Errorf("Expected invalid axis, got %q", resp)
	}

	for _, line := range []string{
		"CONFIG_AXIS,z,3200",
		"CONFIG_AXIS,z,3200,0",
		"CONFIG_AXIS,z,3200,-1",
		"CONFIG_AXIS,z,abc,1",
		"CONFIG_AXIS,z,-3200,1",
	} {
		resp := f.d.Dispatch(ctx, line)
		if !strings.HasPrefix(resp, protocol.ProcessingFailedPrefix) {
			t.Errorf("%s: expected processing error, got %q", line, resp)
		}
	}
	if got := f.spm(t, standalone.AxisZ); got != 10 {
		t.Errorf("Failed commands changed calibration to %g", got)
	}
}

func TestZeroPulsesPerRevDisablesMoves(t *testing.T) {
	f := newFixture(t, fourAxis())
	ctx := context.Background()

	if resp := f.d.Dispatch(ctx, "CONFIG_AXIS,c,0,2"); resp != "OK: Axis c configured." {
		t.Fatalf("Expected OK, got %q", resp)
	}
	if resp := f.d.Dispatch(ctx, "MOVE_REL,c,10,5,10"); resp != protocol.RespDone {
		t.Fatalf("Expected DONE, got %q", resp)
	}
	if n := f.rec.RisingEdges(17); n != 0 {
		t.Errorf("Expected no pulses on an uncalibrated axis, got %d", n)
	}
}

func TestUnknownCommandLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t, fourAxis())
	before := f.store.Get()

	for _, line := range []string{"UNKNOWNCMD", "UNKNOWNCMD,1,2", "", "   ", "G1 Z5"} {
		if resp := f.d.Dispatch(context.Background(), line); resp != protocol.RespUnknownCommand {
			t.Errorf("%q: expected unknown command, got %q", line, resp)
		}
	}
	if f.store.Get() != before {
		t.Error("Unknown command changed the parameter store")
	}
	if n := len(f.rec.Events()); n != 0 {
		t.Errorf("Unknown command produced %d trace events", n)
	}
}

func TestConfigCommands(t *testing.T) {
	f := newFixture(t, fourAxis())
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"CONFIG_Z_PEEL,6,5.9,15,25", protocol.RespZPeelConfigured},
		{"CONFIG_A_WIPE,40,60,8", protocol.RespAWipeConfigured},
		{"CONFIG_B_LEVEL,1.5,3", protocol.RespBLevelConfigured},
	}
	for _, tt := range tests {
		if resp := f.d.Dispatch(ctx, tt.line); resp != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.line, tt.want, resp)
		}
	}

	p := f.store.Get()
	if p.PeelLift != 6 || p.PeelReturn != 5.9 || p.ZSpeedDown != 15 || p.ZSpeedUp != 25 {
		t.Errorf("Z peel not applied: %+v", p)
	}
	if p.WipeDist != 40 || p.WipeFast != 60 || p.WipeSlow != 8 {
		t.Errorf("A wipe not applied: %+v", p)
	}
	if p.BSpeedDown != 1.5 || p.BSpeedUp != 3 {
		t.Errorf("B level not applied: %+v", p)
	}

	if resp := f.d.Dispatch(ctx, "CONFIG,3,2.5"); resp != protocol.RespConfigReceived {
		t.Errorf("Expected legacy config ack, got %q", resp)
	}
	p = f.store.Get()
	if p.PeelLift != 3 || p.PeelReturn != 2.5 {
		t.Errorf("Legacy config not applied: %+v", p)
	}
}

func TestConfigCommandsAreAllOrNothing(t *testing.T) {
	f := newFixture(t, fourAxis())
	ctx := context.Background()
	before := f.store.Get()

	for _, line := range []string{
		"CONFIG_Z_PEEL,1,2,3",
		"CONFIG_Z_PEEL,1,2,3,x",
		"CONFIG_Z_PEEL,1,2,3,4,5",
		"CONFIG_Z_PEEL,1,2,0,4",
		"CONFIG_A_WIPE,60,8",
		"CONFIG_A_WIPE,-1,60,8",
		"CONFIG_B_LEVEL,2",
		"CONFIG_B_LEVEL,2,NaN",
		"CONFIG,1",
		"ENABLE_LEVEL_COMP",
		"ENABLE_LEVEL_COMP,2",
		"ENABLE_LEVEL_COMP,yes",
	} {
		resp := f.d.Dispatch(ctx, line)
		if !strings.HasPrefix(resp, protocol.ProcessingFailedPrefix) {
			t.Errorf("%s: expected processing error, got %q", line, resp)
		}
	}
	if f.store.Get() != before {
		t.Errorf("Rejected commands changed the store: %+v", f.store.Get())
	}
}

func TestEnableLevelComp(t *testing.T) {
	f := newFixture(t, fourAxis())
	ctx := context.Background()

	if resp := f.d.Dispatch(ctx, "ENABLE_LEVEL_COMP,0"); resp != protocol.RespLevelCompOff {
		t.Errorf("Expected disabled ack, got %q", resp)
	}
	if f.store.Get().LevelComp {
		t.Error("Expected level compensation off")
	}
	if resp := f.d.Dispatch(ctx, "enable_level_comp,1"); resp != protocol.RespLevelCompOn {
		t.Errorf("Expected enabled ack, got %q", resp)
	}
	if !f.store.Get().LevelComp {
		t.Error("Expected level compensation on")
	}
}

func TestMoveRel(t *testing.T) {
	f := newFixture(t, fourAxis())
	ctx := context.Background()

	if resp := f.d.Dispatch(ctx, "MOVE_REL,Z,-1.5,5,10"); resp != protocol.RespDone {
		t.Fatalf("Expected DONE, got %q", resp)
	}
	if n := f.rec.RisingEdges(26); n != 15 {
		t.Errorf("Expected 15 pulses on z, got %d", n)
	}
	if f.rec.Level(25) {
		t.Error("Expected dir low for a negative move")
	}

	if resp := f.d.Dispatch(ctx, "MOVE_REL,q,1,5,10"); resp != protocol.RespInvalidAxis {
		t.Errorf("Expected invalid axis, got %q", resp)
	}
	for _, line := range []string{"MOVE_REL,z,1,0,10", "MOVE_REL,z,1,5", "MOVE_REL,z,1,x,10", "MOVE_REL"} {
		if resp := f.d.Dispatch(ctx, line); !strings.HasPrefix(resp, protocol.ProcessingFailedPrefix) {
			t.Errorf("%s: expected processing error, got %q", line, resp)
		}
	}
}

func TestLegacyJogMovesLiftAxis(t *testing.T) {
	f := newFixture(t, config.DefaultZOnlyConfig())

	if resp := f.d.Dispatch(context.Background(), "MOVE_REL,0.01"); resp != protocol.RespDone {
		t.Fatalf("Expected DONE, got %q", resp)
	}
	// 0.01 mm at 3200 steps/mm
	if n := f.rec.RisingEdges(26); n != 32 {
		t.Errorf("Expected 32 pulses, got %d", n)
	}
}

func TestNextLayerSequence(t *testing.T) {
	f := newFixture(t, fourAxis())
	p := f.store.Get()

	if resp := f.d.Dispatch(context.Background(), "NEXT_LAYER"); resp != protocol.RespDone {
		t.Fatalf("Expected DONE, got %q", resp)
	}

	plan := func(d, v float64) uint32 {
		mp, err := planner.Plan(d, v, 2*v, 10)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		return mp.TotalSteps
	}

	// Expected segments: z down, a out, z up, a back
	type segment struct {
		pin   core.GPIOPin
		steps uint32
	}
	want := []segment{
		{26, plan(-p.PeelLift, p.ZSpeedDown)},
		{23, plan(p.WipeDist, p.WipeFast)},
		{26, plan(p.PeelReturn, p.ZSpeedUp)},
		{23, plan(-p.WipeDist, p.WipeSlow)},
	}

	var got []segment
	events := f.rec.Events()
	if events[0].String() != "acquire z by dispatch" || events[1].String() != "acquire a by dispatch" {
		t.Fatalf("Expected z then a acquired first, got %v %v", events[0], events[1])
	}
	for _, e := range events {
		if e.Kind != sim.EventPin || !e.Value || (e.Pin != 26 && e.Pin != 23) {
			continue
		}
		if len(got) == 0 || got[len(got)-1].pin != e.Pin {
			got = append(got, segment{pin: e.Pin})
		}
		got[len(got)-1].steps++
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d segments, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Segment %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}

	last := events[len(events)-1]
	if last.String() != "release z by dispatch" {
		t.Errorf("Expected z released last, got %v", last)
	}
}

func TestNextLayerWithoutWipeAxis(t *testing.T) {
	m := config.DefaultZOnlyConfig()
	ax := m.Axes[standalone.AxisZ]
	ax.StepsPerMM = 10
	m.Axes[standalone.AxisZ] = ax
	f := newFixture(t, m)

	if resp := f.d.Dispatch(context.Background(), "NEXT_LAYER"); resp != protocol.RespDone {
		t.Fatalf("Expected DONE, got %q", resp)
	}
	p := f.store.Get()
	down, _ := planner.Plan(-p.PeelLift, p.ZSpeedDown, 2*p.ZSpeedDown, 10)
	up, _ := planner.Plan(p.PeelReturn, p.ZSpeedUp, 2*p.ZSpeedUp, 10)
	if n := f.rec.RisingEdges(26); uint32(n) != down.TotalSteps+up.TotalSteps {
		t.Errorf("Expected %d pulses, got %d", down.TotalSteps+up.TotalSteps, n)
	}
}

func TestNextLayerRejectsArguments(t *testing.T) {
	f := newFixture(t, fourAxis())
	if resp := f.d.Dispatch(context.Background(), "NEXT_LAYER,1"); !strings.HasPrefix(resp, protocol.ProcessingFailedPrefix) {
		t.Errorf("Expected processing error, got %q", resp)
	}
}

func TestBusyAxisFailsCommand(t *testing.T) {
	f := newFixture(t, fourAxis())

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.reg.WithAxis(context.Background(), standalone.AxisB, "level", func(*stepgen.Stepper) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	resp := f.d.Dispatch(context.Background(), "MOVE_REL,b,1,2,4")
	if !strings.HasPrefix(resp, protocol.ProcessingFailedPrefix) || !strings.Contains(resp, "axis busy") {
		t.Errorf("Expected busy failure, got %q", resp)
	}
}

func TestPanicBecomesProcessingError(t *testing.T) {
	f := newFixture(t, fourAxis())
	f.d.handlers["BOOM"] = func(context.Context, protocol.Command) (string, error) {
		panic("wiring fault")
	}

	resp := f.d.Dispatch(context.Background(), "BOOM")
	if !strings.HasPrefix(resp, protocol.ProcessingFailedPrefix) || !strings.Contains(resp, "wiring fault") {
		t.Errorf("Expected recovered panic, got %q", resp)
	}
}

type recordingObserver struct {
	keywords []string
	oks      []bool
}

func (o *recordingObserver) CommandHandled(keyword string, ok bool, _ time.Duration) {
	o.keywords = append(o.keywords, keyword)
	o.oks = append(o.oks, ok)
}

func TestObserver(t *testing.T) {
	f := newFixture(t, fourAxis())
	obs := &recordingObserver{}
	f.d.SetObserver(obs)

	f.d.Dispatch(context.Background(), "ENABLE_LEVEL_COMP,1")
	f.d.Dispatch(context.Background(), "nonsense")

	if len(obs.keywords) != 2 || obs.keywords[0] != protocol.CmdEnableLevelComp || obs.keywords[1] != "UNKNOWN" {
		t.Errorf("Unexpected keywords %v", obs.keywords)
	}
	if !obs.oks[0] || obs.oks[1] {
		t.Errorf("Unexpected results %v", obs.oks)
	}
}

func TestRunDeliversInOrderDespiteSinkFailure(t *testing.T) {
	f := newFixture(t, fourAxis())
	q := queue.New()

	var got []string
	done := make(chan struct{})
	ok := queue.SinkFunc(func(resp string) error {
		got = append(got, resp)
		if len(got) == 2 {
			close(done)
		}
		return nil
	})
	broken := queue.SinkFunc(func(string) error { return errors.New("connection reset") })

	q.Put(queue.Entry{Text: "ENABLE_LEVEL_COMP,0", Sink: ok})
	q.Put(queue.Entry{Text: "CONFIG_B_LEVEL,1,1", Sink: broken})
	q.Put(queue.Entry{Text: "ENABLE_LEVEL_COMP,1", Sink: ok})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.d.Run(ctx, q) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Responses not delivered")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run returned %v", err)
	}

	if got[0] != protocol.RespLevelCompOff || got[1] != protocol.RespLevelCompOn {
		t.Errorf("Unexpected responses %v", got)
	}
	if p := f.store.Get(); p.BSpeedDown != 1 {
		t.Error("Command with a broken sink was not executed")
	}
}
