package movement

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"stepcore/core"
	"stepcore/movement/kinematics"
)

type fakeCurrent struct {
	calls []bool
}

func (f *fakeCurrent) SetIdleCurrent(idle bool) error {
	f.calls = append(f.calls, idle)
	return nil
}

func newTestMove(t *testing.T, cfg Config) (*Move, []*core.CountingBackend) {
	t.Helper()
	core.ResetTimers()
	core.SetTime(0)
	core.ClearTimingRing()

	backends := make([]*core.CountingBackend, len(cfg.Drivers))
	outputs := make([]core.StepperBackend, len(cfg.Drivers))
	for i := range backends {
		backends[i] = &core.CountingBackend{}
		outputs[i] = backends[i]
	}

	m := New(cfg, outputs)
	if err := m.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(core.ResetTimers)
	return m, backends
}

func moveTo(x, y, z, e, feed float64) MoveRequest {
	return MoveRequest{
		Target:      [MaxDrivers]float64{x, y, z, e},
		FeedRate:    feed,
		Coordinated: true,
	}
}

// runStep spins once and services the step timer if it is armed
func runStep(m *Move) {
	m.Spin()
	if wake, ok := core.NextWakeTime(); ok {
		if core.TimeBefore(core.GetTime(), wake) {
			core.SetTime(wake)
		}
		core.ProcessTimers()
	}
}

func runUntilFinished(t *testing.T, m *Move) {
	t.Helper()
	for i := 0; i < 1000000; i++ {
		runStep(m)
		if m.AllMovesAreFinished() {
			return
		}
	}
	t.Fatal("moves did not finish")
}

func queue(t *testing.T, m *Move, reqs ...MoveRequest) {
	t.Helper()
	for i, req := range reqs {
		if err := m.QueueMove(req); err != nil {
			t.Fatalf("QueueMove %d failed: %v", i, err)
		}
	}
}

func TestMovesCompleteInOrder(t *testing.T) {
	m, backends := newTestMove(t, testConfig())
	queue(t, m,
		moveTo(10, 0, 0, 0, 50),
		moveTo(10, 10, 0, 0, 50),
		moveTo(0, 10, 0, 1, 50),
		moveTo(0, 0, 0, 1, 50),
		moveTo(5, 5, 0.5, 2, 50),
	)

	var seqs []uint32
	lastCompleted := m.GetCompletedMoves()
	for i := 0; i < 1000000 && !m.AllMovesAreFinished(); i++ {
		runStep(m)

		completed := m.GetCompletedMoves()
		if completed < lastCompleted || completed > lastCompleted+1 {
			t.Fatalf("completed jumped from %d to %d", lastCompleted, completed)
		}
		lastCompleted = completed

		if snap, ok := m.GetCurrentDDA(); ok {
			if n := len(seqs); n == 0 || seqs[n-1] != snap.Seq {
				seqs = append(seqs, snap.Seq)
			}
		}
	}

	if m.GetCompletedMoves() != 5 || m.GetScheduledMoves() != 5 {
		t.Fatalf("completed/scheduled = %d/%d, want 5/5", m.GetCompletedMoves(), m.GetScheduledMoves())
	}
	for i, s := range seqs {
		if s != uint32(i+1) {
			t.Fatalf("execution order %v, want 1..5", seqs)
		}
	}
	if len(seqs) != 5 {
		t.Fatalf("observed %d moves executing, want 5", len(seqs))
	}

	want := []int64{400, 400, 200, 200}
	for i, b := range backends {
		if b.Position != want[i] {
			t.Errorf("driver %d at %d, want %d", i, b.Position, want[i])
		}
	}
	if h := m.GetAndClearHiccups(); h != 0 {
		t.Errorf("hiccups = %d on an on-time run", h)
	}
	if m.GetStepErrors() != 0 {
		t.Errorf("step errors = %d", m.GetStepErrors())
	}
}

func TestCollinearMovesBlend(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	queue(t, m,
		moveTo(10, 0, 0, 0, 10),
		moveTo(20, 0, 0, 0, 10),
		moveTo(30, 0, 0, 0, 10),
	)
	m.plan(true)

	want := []struct{ entry, exit float64 }{{0, 10}, {10, 10}, {10, 0}}
	for i, w := range want {
		d := m.ring.Slot(i)
		if d.State() != StateFrozen {
			t.Errorf("move %d state %v, want frozen", i, d.State())
		}
		if d.EntrySpeed() != w.entry || d.ExitSpeed() != w.exit {
			t.Errorf("move %d entry/exit = %v/%v, want %v/%v",
				i, d.EntrySpeed(), d.ExitSpeed(), w.entry, w.exit)
		}
	}
}

func TestJunctionContinuity(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	queue(t, m,
		moveTo(10, 0, 0, 0, 100),
		moveTo(20, 2, 0, 0, 100),
		moveTo(25, 10, 0, 0, 100),
		moveTo(25, 30, 0, 0, 100),
		moveTo(10, 30, 0, 0, 100),
		moveTo(0, 31, 0, 0, 100),
	)
	m.plan(true)

	for i := 0; i < 5; i++ {
		a, b := m.ring.Slot(i), m.ring.Slot(i+1)
		if a.ExitSpeed() != b.EntrySpeed() {
			t.Errorf("move %d exit %v != move %d entry %v", i, a.ExitSpeed(), i+1, b.EntrySpeed())
		}
		if a.EntrySpeed() > a.PeakSpeed() || a.ExitSpeed() > a.PeakSpeed() {
			t.Errorf("move %d peak %v below entry/exit", i, a.PeakSpeed())
		}
	}
	if m.ring.Slot(0).EntrySpeed() != 0 || m.ring.Slot(5).ExitSpeed() != 0 {
		t.Error("sequence must start and end at rest")
	}
}

func TestJunctionContinuityWhileStreaming(t *testing.T) {
	cfg := testConfig()
	cfg.LookAheadWindow = 2
	cfg.MinPreparedMoves = 1
	m, _ := newTestMove(t, cfg)

	type speeds struct{ entry, exit float64 }
	frozen := make(map[uint32]speeds)
	record := func() {
		for i := 0; i < m.ring.Capacity(); i++ {
			d := m.ring.Slot(i)
			switch d.State() {
			case StateFrozen, StateExecuting:
				if _, ok := frozen[d.Seq()]; !ok {
					frozen[d.Seq()] = speeds{d.EntrySpeed(), d.ExitSpeed()}
				}
			}
		}
	}

	const total = 40
	for queued := 0; queued < total; {
		req := moveTo(float64(queued+1)*2, float64(queued%2), 0, 0, 100)
		err := m.QueueMove(req)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrRingFull):
		default:
			t.Fatalf("QueueMove %d failed: %v", queued, err)
		}
		runStep(m)
		record()
	}
	for i := 0; i < 1000000 && !m.AllMovesAreFinished(); i++ {
		runStep(m)
		record()
	}

	if m.GetCompletedMoves() != total {
		t.Fatalf("completed %d moves, want %d", m.GetCompletedMoves(), total)
	}
	if len(frozen) != total {
		t.Fatalf("observed %d frozen moves, want %d", len(frozen), total)
	}
	if frozen[1].entry != 0 || frozen[total].exit != 0 {
		t.Errorf("stream must start and end at rest: entry %v exit %v", frozen[1].entry, frozen[total].exit)
	}
	for seq := uint32(1); seq < total; seq++ {
		if a, b := frozen[seq], frozen[seq+1]; a.exit != b.entry {
			t.Errorf("move %d exit %v != move %d entry %v", seq, a.exit, seq+1, b.entry)
		}
	}
	if n := m.GetStepErrors(); n != 0 {
		t.Errorf("step errors = %d", n)
	}
}

func TestNonCoordinatedMoveStopsAtRest(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	single := moveTo(20, 0, 0, 0, 10)
	single.Coordinated = false
	queue(t, m, moveTo(10, 0, 0, 0, 10), single, moveTo(30, 0, 0, 0, 10))
	m.plan(true)

	for i := 0; i < 3; i++ {
		d := m.ring.Slot(i)
		if i > 0 && d.EntrySpeed() != 0 {
			t.Errorf("move %d entry = %v, want 0", i, d.EntrySpeed())
		}
		if i < 2 && d.ExitSpeed() != 0 {
			t.Errorf("move %d exit = %v, want 0", i, d.ExitSpeed())
		}
	}
}

func TestFullRingRejectsWithoutChange(t *testing.T) {
	cfg := testConfig()
	cfg.RingCapacity = 4
	cfg.LookAheadWindow = 2
	m, _ := newTestMove(t, cfg)

	for i := 1; i <= 4; i++ {
		queue(t, m, moveTo(float64(i), 0, 0, 0, 10))
	}

	type slotState struct {
		state DDAState
		seq   uint32
		entry float64
	}
	var before [4]slotState
	for i := range before {
		d := m.ring.Slot(i)
		before[i] = slotState{d.State(), d.Seq(), d.EntrySpeed()}
	}

	err := m.QueueMove(moveTo(5, 0, 0, 0, 10))
	if !errors.Is(err, ErrRingFull) {
		t.Fatalf("error = %v, want ErrRingFull", err)
	}
	for i := range before {
		d := m.ring.Slot(i)
		if got := (slotState{d.State(), d.Seq(), d.EntrySpeed()}); got != before[i] {
			t.Errorf("slot %d changed from %+v to %+v", i, before[i], got)
		}
	}
	if m.GetScheduledMoves() != 4 {
		t.Errorf("scheduled = %d, want 4", m.GetScheduledMoves())
	}
	if pos := m.PlannedPosition(); pos[0] != 4 {
		t.Errorf("planned X = %v, want 4", pos[0])
	}
}

func TestZeroLengthMoveRejected(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	err := m.QueueMove(moveTo(0, 0, 0, 0, 10))
	if !errors.Is(err, ErrZeroLength) {
		t.Fatalf("error = %v, want ErrZeroLength", err)
	}
	if m.Stats().Occupancy != 0 || !m.AllMovesAreFinished() {
		t.Error("zero length move changed ring occupancy")
	}
	if m.GetPlanningErrors() != 1 || m.GetScheduledMoves() != 0 {
		t.Errorf("planning errors/scheduled = %d/%d, want 1/0",
			m.GetPlanningErrors(), m.GetScheduledMoves())
	}
}

func TestInvalidFeedRateRejected(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	if err := m.QueueMove(moveTo(1, 0, 0, 0, 0)); !errors.Is(err, ErrInvalidFeedRate) {
		t.Errorf("error = %v, want ErrInvalidFeedRate", err)
	}
}

func TestUnreachableTargetRejected(t *testing.T) {
	cfg := testConfig()
	var p kinematics.Params
	p.Limits[0] = kinematics.AxisLimits{Min: 0, Max: 100}
	cfg.Kinematics = kinematics.NewCartesian(p)
	m, _ := newTestMove(t, cfg)

	err := m.QueueMove(moveTo(150, 0, 0, 0, 10))
	if !errors.Is(err, kinematics.ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
	if m.Stats().Occupancy != 0 {
		t.Error("unreachable move created a descriptor")
	}
}

func TestStopDriversMidMove(t *testing.T) {
	m, backends := newTestMove(t, testConfig())
	queue(t, m, moveTo(50, 0, 0, 0, 50), moveTo(50, 50, 0, 0, 50))

	for i := 0; i < 2000 && m.GetCompletedMoves() == 0; i++ {
		runStep(m)
		if !m.NoLiveMovement() && backends[0].Steps > 100 {
			break
		}
	}
	if m.NoLiveMovement() {
		t.Fatal("no move executing")
	}

	m.StopDrivers(0xFF)

	if !m.NoLiveMovement() {
		t.Error("current move not cleared")
	}
	for i := 0; i < m.ring.Capacity(); i++ {
		if s := m.ring.Slot(i).State(); s != StateEmpty {
			t.Errorf("slot %d state %v, want empty", i, s)
		}
	}
	if n := core.PendingTimers(); n != 0 {
		t.Errorf("%d timers still armed", n)
	}
	if !m.AllMovesAreFinished() {
		t.Error("AllMovesAreFinished false after stop")
	}
	for i, b := range backends {
		if b.Stops != 1 || b.Enabled {
			t.Errorf("driver %d stops=%d enabled=%v", i, b.Stops, b.Enabled)
		}
	}

	live := m.LivePosition()
	if planned := m.PlannedPosition(); planned != live {
		t.Errorf("planned %v not re-based to live %v", planned, live)
	}
	if float64(backends[0].Position)/80 != live[0] {
		t.Errorf("live X %v does not match driver position %d", live[0], backends[0].Position)
	}

	// Timer stays quiet
	before := backends[0].Steps
	core.AdvanceTime(core.TimerFreq)
	core.ProcessTimers()
	if backends[0].Steps != before {
		t.Error("steps after StopDrivers")
	}
}

func TestMoveAfterStopReenablesDrivers(t *testing.T) {
	m, backends := newTestMove(t, testConfig())
	queue(t, m, moveTo(20, 0, 0, 0, 50))
	for i := 0; i < 2000 && backends[0].Steps < 100; i++ {
		runStep(m)
	}
	m.StopDrivers(0xFF)
	for i, b := range backends {
		if b.Enabled {
			t.Fatalf("driver %d still enabled after stop", i)
		}
	}

	stoppedAt := backends[0].Position
	queue(t, m, moveTo(0, 0, 0, 0, 50))
	if !backends[0].Enabled {
		t.Error("X not re-enabled by a move that steps it")
	}
	for i := 1; i < len(backends); i++ {
		if backends[i].Enabled {
			t.Errorf("driver %d enabled by a move that does not step it", i)
		}
	}

	runUntilFinished(t, m)
	if backends[0].Position != 0 {
		t.Errorf("X at %d after return from %d, want 0", backends[0].Position, stoppedAt)
	}
	if live := m.LivePosition(); live[0] != 0 {
		t.Errorf("live X = %v, want 0", live[0])
	}
}

func TestAllMovesAreFinishedIdempotent(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	queue(t, m, moveTo(2, 0, 0, 0, 20))
	runUntilFinished(t, m)

	for i := 0; i < 10; i++ {
		if !m.AllMovesAreFinished() {
			t.Fatalf("call %d returned false", i)
		}
		if !m.ring.IsEmpty() {
			t.Fatalf("ring became non-empty on call %d", i)
		}
	}
}

func TestLateInterruptCountsHiccup(t *testing.T) {
	m, backends := newTestMove(t, testConfig())
	queue(t, m, moveTo(10, 0, 0, 0, 50))

	var wake uint32
	armed := false
	for i := 0; i < 100 && !armed; i++ {
		m.Spin()
		wake, armed = core.NextWakeTime()
	}
	if !armed {
		t.Fatal("step timer never armed")
	}

	core.SetTime(wake + core.TimerFromUS(5000))
	core.ProcessTimers()
	if m.Stats().Hiccups == 0 {
		t.Fatal("late interrupt not counted")
	}

	runUntilFinished(t, m)
	if backends[0].Steps != 800 {
		t.Errorf("steps = %d, want 800 (none dropped)", backends[0].Steps)
	}
	if m.GetAndClearHiccups() == 0 {
		t.Error("hiccups lost")
	}
	if m.GetAndClearHiccups() != 0 {
		t.Error("GetAndClearHiccups did not clear")
	}

	found := false
	for _, evt := range core.TimingEvents() {
		if evt.EventType == core.EvtHiccup || evt.EventType == core.EvtOverrun {
			found = true
		}
	}
	if !found {
		t.Error("no hiccup in timing ring")
	}
}

func TestIdleStateMachine(t *testing.T) {
	cfg := testConfig()
	current := &fakeCurrent{}
	cfg.Current = current
	m, _ := newTestMove(t, cfg)

	if s, _ := m.IdleState(); s != IdleStateIdle {
		t.Fatalf("initial state %v, want idle", s)
	}

	queue(t, m, moveTo(1, 0, 0, 0, 20))
	if s, _ := m.IdleState(); s != IdleStateCollecting {
		t.Fatalf("state after enqueue %v, want collecting", s)
	}

	sawExecuting := false
	for i := 0; i < 100000 && !m.AllMovesAreFinished(); i++ {
		runStep(m)
		if s, _ := m.IdleState(); s == IdleStateExecuting {
			sawExecuting = true
		}
	}
	if !sawExecuting {
		t.Error("never entered executing")
	}

	for i := 0; i < cfg.IdleSpinThreshold+1; i++ {
		m.Spin()
	}
	s, timingAt := m.IdleState()
	if s != IdleStateTiming {
		t.Fatalf("state after empty spins %v, want timing", s)
	}
	if len(current.calls) != 0 {
		t.Fatalf("holding current changed early: %v", current.calls)
	}

	core.AdvanceTime(cfg.IdleTimeout)
	m.Spin()
	s, at := m.IdleState()
	if s != IdleStateIdle {
		t.Fatalf("state after timeout %v, want idle", s)
	}
	if at != timingAt {
		t.Errorf("idle transition time %d, want timing time %d", at, timingAt)
	}
	if len(current.calls) != 1 || !current.calls[0] {
		t.Fatalf("current calls %v, want [true]", current.calls)
	}

	queue(t, m, moveTo(2, 0, 0, 0, 20))
	if s, _ := m.IdleState(); s != IdleStateCollecting {
		t.Errorf("state after new move %v, want collecting", s)
	}
	if len(current.calls) != 2 || current.calls[1] {
		t.Errorf("current calls %v, want [true false]", current.calls)
	}
}

func TestRawMotorMoveBypassesKinematics(t *testing.T) {
	cfg := testConfig()
	cfg.Kinematics = kinematics.NewCoreXY(kinematics.Params{})
	m, backends := newTestMove(t, cfg)

	queue(t, m, moveTo(10, 0, 0, 0, 50))
	runUntilFinished(t, m)
	if backends[0].Position != 800 || backends[1].Position != 800 {
		t.Fatalf("CoreXY X move stepped A/B %d/%d, want 800/800",
			backends[0].Position, backends[1].Position)
	}

	raw := moveTo(15, 10, 0, 0, 50)
	raw.Flags = MoveRawMotor
	queue(t, m, raw)
	runUntilFinished(t, m)
	if backends[0].Position != 1200 || backends[1].Position != 800 {
		t.Errorf("raw move stepped A/B to %d/%d, want 1200/800",
			backends[0].Position, backends[1].Position)
	}
	if pos := m.LivePosition(); pos[0] != 12.5 || pos[1] != 2.5 {
		t.Errorf("live position %v, want X 12.5 Y 2.5", pos)
	}
}

func TestGetStepInterval(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	if m.GetStepInterval(0) != 0 {
		t.Error("interval while idle should be 0")
	}

	queue(t, m, moveTo(20, 0, 0, 0, 50))
	for i := 0; i < 10000 && m.NoLiveMovement(); i++ {
		runStep(m)
	}
	for i := 0; i < 50; i++ {
		runStep(m)
	}
	if m.GetStepInterval(0) == 0 {
		t.Error("moving X reports zero interval")
	}
	if m.GetStepInterval(2) != 0 {
		t.Error("still Z reports an interval")
	}
	if _, ok := m.GetCurrentDDA(); !ok {
		t.Error("no current DDA while moving")
	}
}

func TestSetKinematicsKeepsPosition(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	queue(t, m, moveTo(10, 5, 0, 0, 50))
	runUntilFinished(t, m)

	if err := m.SetKinematicsType(kinematics.TypeCoreXY); err != nil {
		t.Fatalf("SetKinematicsType failed: %v", err)
	}
	if m.GetKinematics().Type() != kinematics.TypeCoreXY {
		t.Fatal("kinematics not switched")
	}
	// Motor steps 800/400 read as A/B on CoreXY
	if pos := m.PlannedPosition(); pos[0] != 7.5 || pos[1] != 2.5 {
		t.Errorf("planned position %v, want X 7.5 Y 2.5", pos)
	}
	if err := m.SetKinematicsType(kinematics.Type(42)); err == nil {
		t.Error("expected error for unknown kinematics")
	}
}

func TestSetPosition(t *testing.T) {
	m, backends := newTestMove(t, testConfig())
	if err := m.SetPosition([MaxDrivers]float64{100, 50, 0, 0}); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}
	queue(t, m, moveTo(101, 50, 0, 0, 20))
	runUntilFinished(t, m)
	if backends[0].Position != 80 {
		t.Errorf("X stepped %d, want 80", backends[0].Position)
	}
	if pos := m.LivePosition(); pos[0] != 101 {
		t.Errorf("live X %v, want 101", pos[0])
	}
}

func TestExit(t *testing.T) {
	cfg := testConfig()
	current := &fakeCurrent{}
	cfg.Current = current
	m, backends := newTestMove(t, cfg)
	queue(t, m, moveTo(10, 0, 0, 0, 50))

	if err := m.Exit(); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
	if !m.AllMovesAreFinished() {
		t.Error("moves left after Exit")
	}
	if backends[0].Enabled {
		t.Error("driver still enabled")
	}
	if len(current.calls) != 1 || !current.calls[0] {
		t.Errorf("current calls %v, want [true]", current.calls)
	}
	if err := m.QueueMove(moveTo(1, 0, 0, 0, 10)); !errors.Is(err, ErrNotInitialised) {
		t.Errorf("QueueMove after Exit = %v, want ErrNotInitialised", err)
	}
	m.Spin()
}

func TestResetMoveCounters(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	queue(t, m, moveTo(1, 0, 0, 0, 20))
	runUntilFinished(t, m)
	m.QueueMove(moveTo(1, 0, 0, 0, 20))

	m.ResetMoveCounters()
	s := m.Stats()
	if s.Scheduled != 0 || s.Completed != 0 || s.PlanningErrors != 0 || s.Hiccups != 0 {
		t.Errorf("counters not reset: %+v", s)
	}
}

func TestDiagnostics(t *testing.T) {
	m, _ := newTestMove(t, testConfig())
	queue(t, m, moveTo(5, 0, 0, 0, 20))

	var sb strings.Builder
	m.Diagnostics(&sb)
	out := sb.String()
	for _, want := range []string{"Kinematics: cartesian", "Ring: 1/8", "Current: none", "Moves: scheduled 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, out)
		}
	}
}

func TestRingCapacityBounds(t *testing.T) {
	tests := []struct {
		capacity int
		valid    bool
	}{
		{1, false},
		{2, true},
		{MaxRingCapacity, true},
		{MaxRingCapacity + 1, false},
		{1000, false},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.RingCapacity = tt.capacity
		cfg.LookAheadWindow = 1
		cfg.MinPreparedMoves = 1
		err := cfg.Validate()
		if (err == nil) != tt.valid {
			t.Errorf("capacity %d: Validate() = %v, want valid=%v", tt.capacity, err, tt.valid)
		}
	}
}

func TestInitRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Drivers[0].StepsPerMM = 0
	cfg.Drivers[1].MaxAccel = 0
	cfg.LookAheadWindow = 20

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Errorf("got %d errors, want 3: %v", n, err)
	}

	m := New(cfg, make([]core.StepperBackend, len(cfg.Drivers)))
	if err := m.Init(); err == nil {
		t.Error("Init accepted bad config")
	}
	if err := m.QueueMove(moveTo(1, 0, 0, 0, 10)); !errors.Is(err, ErrNotInitialised) {
		t.Errorf("QueueMove before Init = %v", err)
	}
}
