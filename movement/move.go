package movement

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"

	"go.uber.org/multierr"

	"stepcore/core"
	"stepcore/movement/kinematics"
)

const noDDA = -1

// StepTimer is the one-shot compare timer that calls Interrupt.
// Both methods run with interrupts disabled.
type StepTimer interface {
	ArmNextDeadline(when uint32)
	Cancel()
}

// Move owns the ring, the kinematics and the idle state machine. QueueMove,
// Spin and the accessors run in the planning task; Interrupt runs from the
// step timer.
type Move struct {
	cfg     Config
	log     *slog.Logger
	outputs []core.StepperBackend
	timer   StepTimer
	kin     kinematics.Kinematics
	ring    *Ring
	active  bool

	spm          []float64
	plannedSteps [MaxDrivers]int32
	plannedPos   [MaxDrivers]float64
	livePos      [MaxDrivers]atomic.Int32

	currentDDA  atomic.Int32
	disabled    uint32 // drivers de-energised by StopDrivers
	provisional int
	quietSpins  int // Spin calls since the last enqueue

	idle idleMachine

	scheduled      uint32
	planningErrors uint32
	completed      atomic.Uint32
	stepErrors     atomic.Uint32
	hiccups        atomic.Uint32
}

// New creates a Move driving the given outputs, one per configured driver.
// Call Init before use.
func New(cfg Config, outputs []core.StepperBackend) *Move {
	m := &Move{cfg: cfg, outputs: outputs}
	m.currentDDA.Store(noDDA)
	return m
}

// Init validates the configuration, allocates the ring, selects the default
// kinematics and attaches the step timer
func (m *Move) Init() error {
	m.cfg.applyDefaults()
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("movement config: %w", err)
	}
	if len(m.outputs) != len(m.cfg.Drivers) {
		return fmt.Errorf("movement: %d outputs for %d drivers", len(m.outputs), len(m.cfg.Drivers))
	}

	m.log = m.cfg.Logger
	m.spm = m.cfg.stepsPerMM()
	m.ring = NewRing(m.cfg.RingCapacity)
	m.kin = m.cfg.Kinematics
	if m.kin == nil {
		m.kin = kinematics.NewCartesian(m.cfg.KinematicsParams)
	}
	if m.timer == nil {
		m.timer = core.NewDeadlineTimer(m.Interrupt)
	}

	m.currentDDA.Store(noDDA)
	m.idle.reset(core.GetTime())
	m.rebase()
	for _, out := range m.outputs {
		out.Enable()
	}
	m.disabled = 0
	m.active = true

	m.log.Info("movement initialised",
		"kinematics", m.kin.GetName(),
		"drivers", len(m.outputs),
		"ring", m.cfg.RingCapacity,
		"lookahead", m.cfg.LookAheadWindow)
	return nil
}

// SetStepTimer replaces the deadline timer; used by targets with a
// dedicated compare channel. Call before Init.
func (m *Move) SetStepTimer(t StepTimer) {
	m.timer = t
}

// Exit stops all drivers, drops queued moves and reduces holding current
func (m *Move) Exit() error {
	if !m.active {
		return nil
	}
	m.StopDrivers(1<<len(m.outputs) - 1)
	m.active = false

	var err error
	if m.cfg.Current != nil {
		err = multierr.Append(err, m.cfg.Current.SetIdleCurrent(true))
	}
	for _, out := range m.outputs {
		if c, ok := out.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	m.log.Info("movement stopped", "completed", m.completed.Load(), "hiccups", m.hiccups.Load())
	return err
}

// QueueMove converts a request into a provisional descriptor
func (m *Move) QueueMove(req MoveRequest) error {
	if !m.active {
		return ErrNotInitialised
	}
	if req.FeedRate <= 0 || math.IsNaN(req.FeedRate) {
		return fmt.Errorf("%w: %v", ErrInvalidFeedRate, req.FeedRate)
	}

	n := len(m.cfg.Drivers)
	var endSteps [MaxDrivers]int32
	var endPos [MaxDrivers]float64

	if IsRawMotorMove(req.Flags) {
		for i := 0; i < n; i++ {
			endSteps[i] = int32(math.Round(req.Target[i] * m.spm[i]))
			endPos[i] = req.Target[i]
		}
	} else {
		if err := m.kin.CartesianToMotorSteps(req.Target[:kinematics.NumAxes], m.spm, endSteps[:]); err != nil {
			return fmt.Errorf("queue move: %w", err)
		}
		for i := kinematics.NumAxes; i < n; i++ {
			endSteps[i] = int32(math.Round(req.Target[i] * m.spm[i]))
		}
		endPos = req.Target
	}

	startPos := m.plannedPos
	if IsRawMotorMove(req.Flags) {
		// Plan raw moves in motor space
		for i := 0; i < n; i++ {
			startPos[i] = float64(m.plannedSteps[i]) / m.spm[i]
		}
	}

	var prev *DDA
	if p := m.ring.Slot(m.ring.prev(m.ring.add)); p.State() != StateEmpty {
		prev = p
	}

	err := m.ring.TryEnqueue(func(d *DDA, seq uint32) error {
		if err := d.init(&m.cfg, seq, &m.plannedSteps, &endSteps, &startPos, &endPos, &req); err != nil {
			return err
		}
		d.calcJunction(prev, m.cfg.JunctionDeviation)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrZeroLength) {
			m.planningErrors++
		}
		return err
	}

	if wake := m.disabled & m.movedDrivers(&endSteps); wake != 0 {
		m.enableDrivers(wake)
	}
	m.plannedSteps = endSteps
	if IsRawMotorMove(req.Flags) {
		m.updatePlannedPos()
	} else {
		m.plannedPos = endPos
	}
	m.scheduled++
	m.provisional++
	m.quietSpins = 0
	m.onEnqueue(core.GetTime())
	return nil
}

// Spin runs one planning step: replan, freeze what is due and start the
// step engine when it is idle
func (m *Move) Spin() {
	if !m.active {
		return
	}
	now := core.GetTime()
	if m.quietSpins < math.MaxInt32 {
		m.quietSpins++
	}

	m.plan(false)
	if m.currentDDA.Load() == noDDA {
		m.startIfReady(now)
	}
	m.updateIdleState(now)
}

// plan replans the provisional window and freezes descriptors that are due.
// force freezes everything.
func (m *Move) plan(force bool) {
	if m.provisional == 0 {
		return
	}
	m.ring.lookAhead(m.provisional)
	for m.provisional > 0 && (force || m.shouldFreeze()) {
		d := m.ring.freezeNext()
		m.provisional--
		m.log.Debug("move frozen",
			"seq", d.seq,
			"entry", d.entrySpeed,
			"peak", d.prof.peak,
			"exit", d.exitSpeed)
	}
}

func (m *Move) shouldFreeze() bool {
	if m.provisional > m.cfg.LookAheadWindow {
		return true
	}
	if m.quietSpins >= m.cfg.IdleSpinThreshold {
		return true
	}
	if m.currentDDA.Load() != noDDA && m.ring.prepared() < m.cfg.MinPreparedMoves {
		return true
	}
	return false
}

func (m *Move) startIfReady(now uint32) {
	defer core.EnterCritical().Exit()

	if m.currentDDA.Load() != noDDA {
		return
	}
	next := m.ring.PeekForExecution()
	if next == nil {
		return
	}
	m.startDDA(next, now+m.cfg.StartLead)
	m.timer.ArmNextDeadline(next.NextDue())
	core.RecordTiming(core.EvtArm, next.slot, now, next.NextDue(), 0)
}

// startDDA promotes a frozen descriptor. Interrupts must be disabled.
func (m *Move) startDDA(d *DDA, when uint32) {
	d.Start(when, m.outputs)
	m.currentDDA.Store(int32(d.slot))
	core.RecordTiming(core.EvtMoveStart, d.slot, when, d.seq, d.durationTicks)
}

// Interrupt is the step timer handler. It emits every step that is due,
// chains to the next frozen descriptor when a move completes and re-arms
// the timer. Runs with interrupts disabled.
func (m *Move) Interrupt() {
	idx := m.currentDDA.Load()
	if idx == noDDA {
		return
	}
	d := m.ring.Slot(int(idx))

	now := core.GetTime()
	if !core.TimeBefore(now, d.NextDue()) {
		if late := now - d.NextDue(); late > m.cfg.HiccupTolerance {
			m.hiccups.Add(1)
			core.RecordTiming(core.EvtHiccup, d.slot, now, d.NextDue(), late)
		}
	}

	for groups := 0; ; {
		if core.TimeBefore(now, d.NextDue()) {
			m.timer.ArmNextDeadline(d.NextDue())
			return
		}
		if groups >= m.cfg.MaxStepsPerInterrupt {
			// Yield and come straight back
			m.hiccups.Add(1)
			core.RecordTiming(core.EvtOverrun, d.slot, now, uint32(groups), 0)
			m.timer.ArmNextDeadline(now + 1)
			return
		}

		groups++
		if !d.Step(m.outputs, &m.livePos) {
			if d = m.finishDDA(d); d == nil {
				return
			}
		}
		now = core.GetTime()
	}
}

// finishDDA retires the executing descriptor and promotes the next one.
// Interrupt context.
func (m *Move) finishDDA(d *DDA) *DDA {
	end := d.EndTime()
	exit := d.exitSpeed
	done := m.completed.Add(1)
	core.RecordTiming(core.EvtMoveDone, d.slot, end, d.seq, done)
	m.ring.Reclaim()

	next := m.ring.PeekForExecution()
	if next == nil {
		if exit > 0 {
			// Successor not frozen in time, motion stops abruptly
			m.stepErrors.Add(1)
		}
		m.currentDDA.Store(noDDA)
		return nil
	}
	m.startDDA(next, end)
	return next
}

// StopDrivers halts the drivers in mask immediately, discards every queued
// move and re-bases the planned position on the live one. Task context.
func (m *Move) StopDrivers(mask uint32) {
	if m.ring == nil {
		return
	}

	cs := core.EnterCritical()
	m.timer.Cancel()
	m.currentDDA.Store(noDDA)
	m.ring.reset()
	for i, out := range m.outputs {
		if mask&(1<<uint(i)) != 0 {
			out.Stop()
			out.Disable()
			m.disabled |= 1 << uint(i)
		}
	}
	core.RecordTiming(core.EvtStop, 0xFF, core.GetTime(), mask, 0)
	cs.Exit()

	m.provisional = 0
	m.rebase()
	m.log.Warn("drivers stopped", "mask", mask)
}

// movedDrivers returns the mask of drivers whose target differs from the
// planned position
func (m *Move) movedDrivers(endSteps *[MaxDrivers]int32) uint32 {
	var mask uint32
	for i := range m.cfg.Drivers {
		if endSteps[i] != m.plannedSteps[i] {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// enableDrivers re-energises stopped drivers before a move steps them
func (m *Move) enableDrivers(mask uint32) {
	cs := core.EnterCritical()
	for i, out := range m.outputs {
		if mask&(1<<uint(i)) != 0 {
			out.Enable()
		}
	}
	cs.Exit()
	m.disabled &^= mask
	m.log.Info("drivers enabled", "mask", mask)
}

// rebase sets the planned position to the live motor position
func (m *Move) rebase() {
	for i := range m.cfg.Drivers {
		m.plannedSteps[i] = m.livePos[i].Load()
	}
	m.updatePlannedPos()
}

func (m *Move) updatePlannedPos() {
	m.kin.MotorStepsToCartesian(m.plannedSteps[:], m.spm, m.plannedPos[:kinematics.NumAxes])
	for i := kinematics.NumAxes; i < len(m.cfg.Drivers); i++ {
		m.plannedPos[i] = float64(m.plannedSteps[i]) / m.spm[i]
	}
}

// AllMovesAreFinished reports whether nothing is executing or queued.
// Once true it stays true until the next QueueMove.
func (m *Move) AllMovesAreFinished() bool {
	if m.currentDDA.Load() != noDDA {
		return false
	}
	return m.ring == nil || m.ring.IsEmpty()
}

// NoLiveMovement reports whether no descriptor is being stepped
func (m *Move) NoLiveMovement() bool {
	return m.currentDDA.Load() == noDDA
}

// GetCurrentDDA returns a snapshot of the executing descriptor
func (m *Move) GetCurrentDDA() (DDASnapshot, bool) {
	defer core.EnterCritical().Exit()
	idx := m.currentDDA.Load()
	if idx == noDDA {
		return DDASnapshot{}, false
	}
	return m.ring.Slot(int(idx)).snapshot(), true
}

// GetStepInterval returns the current step interval of a driver in ticks,
// 0 when it is not moving
func (m *Move) GetStepInterval(driver int) uint32 {
	defer core.EnterCritical().Exit()
	idx := m.currentDDA.Load()
	if idx == noDDA {
		return 0
	}
	return m.ring.Slot(int(idx)).stepInterval(driver)
}

// GetKinematics returns the active kinematics
func (m *Move) GetKinematics() kinematics.Kinematics { return m.kin }

// SetKinematics swaps the kinematics. The caller must ensure no move is
// queued or executing.
func (m *Move) SetKinematics(k kinematics.Kinematics) {
	m.kin = k
	if m.active {
		m.updatePlannedPos()
	}
	m.log.Info("kinematics changed", "kinematics", k.GetName())
}

// SetKinematicsType builds and installs a kinematics variant from the
// configured geometry
func (m *Move) SetKinematicsType(t kinematics.Type) error {
	k, err := kinematics.New(t, m.cfg.KinematicsParams)
	if err != nil {
		return err
	}
	m.SetKinematics(k)
	return nil
}

// LiveMotorPosition returns the motor positions in steps as stepped so far
func (m *Move) LiveMotorPosition() [MaxDrivers]int32 {
	var pos [MaxDrivers]int32
	for i := range m.cfg.Drivers {
		pos[i] = m.livePos[i].Load()
	}
	return pos
}

// LivePosition returns the machine position (XYZ then extruders) as stepped so far
func (m *Move) LivePosition() [MaxDrivers]float64 {
	steps := m.LiveMotorPosition()
	var pos [MaxDrivers]float64
	m.kin.MotorStepsToCartesian(steps[:], m.spm, pos[:kinematics.NumAxes])
	for i := kinematics.NumAxes; i < len(m.cfg.Drivers); i++ {
		pos[i] = float64(steps[i]) / m.spm[i]
	}
	return pos
}

// PlannedPosition returns the end position of the last queued move
func (m *Move) PlannedPosition() [MaxDrivers]float64 { return m.plannedPos }

// SetPosition defines the current position without moving, as G92 does.
// Only valid while all moves are finished.
func (m *Move) SetPosition(pos [MaxDrivers]float64) error {
	var steps [MaxDrivers]int32
	if err := m.kin.CartesianToMotorSteps(pos[:kinematics.NumAxes], m.spm, steps[:]); err != nil {
		return fmt.Errorf("set position: %w", err)
	}
	for i := kinematics.NumAxes; i < len(m.cfg.Drivers); i++ {
		steps[i] = int32(math.Round(pos[i] * m.spm[i]))
	}
	for i := range m.cfg.Drivers {
		m.livePos[i].Store(steps[i])
	}
	m.plannedSteps = steps
	m.plannedPos = pos
	return nil
}

// GetScheduledMoves returns the number of moves accepted since the last reset
func (m *Move) GetScheduledMoves() uint32 { return m.scheduled }

// GetCompletedMoves returns the number of moves fully stepped since the last reset
func (m *Move) GetCompletedMoves() uint32 { return m.completed.Load() }

// GetAndClearHiccups returns the hiccup count and resets it
func (m *Move) GetAndClearHiccups() uint32 { return m.hiccups.Swap(0) }

// GetStepErrors returns the number of moves that ended at speed without a successor
func (m *Move) GetStepErrors() uint32 { return m.stepErrors.Load() }

// GetPlanningErrors returns the number of rejected degenerate moves
func (m *Move) GetPlanningErrors() uint32 { return m.planningErrors }

// ResetMoveCounters zeroes the move counters
func (m *Move) ResetMoveCounters() {
	m.scheduled = 0
	m.planningErrors = 0
	m.completed.Store(0)
	m.stepErrors.Store(0)
	m.hiccups.Store(0)
}
