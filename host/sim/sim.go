package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"stepcore/core"
	"stepcore/host/gcode"
	"stepcore/movement"
)

// ErrStalled is returned when the core stops making progress
var ErrStalled = errors.New("sim: motion stalled")

// maxIdleSpins bounds how long Run spins without an armed timer
const maxIdleSpins = 1 << 20

// Simulator drives a Move with counting outputs. The core timer list and
// clock are process globals, so only one Simulator may run at a time.
type Simulator struct {
	move     *movement.Move
	backends []*core.CountingBackend
	logger   *slog.Logger

	idleSpins int
}

// Report summarises a run
type Report struct {
	RunID         string
	Moves         uint32
	Steps         []uint64
	Ticks         uint32
	Seconds       float64
	Hiccups       uint32
	StepErrors    uint32
	FinalPosition [movement.MaxDrivers]float64
}

// New resets the virtual clock and initialises a Move for cfg
func New(cfg movement.Config, logger *slog.Logger) (*Simulator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	core.ResetTimers()
	core.SetTime(0)
	core.ClearTimingRing()

	backends := make([]*core.CountingBackend, len(cfg.Drivers))
	outputs := make([]core.StepperBackend, len(cfg.Drivers))
	for i := range backends {
		backends[i] = &core.CountingBackend{Name: fmt.Sprintf("drive%d", i)}
		outputs[i] = backends[i]
	}

	cfg.Logger = logger
	m := movement.New(cfg, outputs)
	if err := m.Init(); err != nil {
		return nil, err
	}
	return &Simulator{move: m, backends: backends, logger: logger}, nil
}

// Move returns the simulated motion core
func (s *Simulator) Move() *movement.Move {
	return s.move
}

// Backends returns the counting outputs, one per driver
func (s *Simulator) Backends() []*core.CountingBackend {
	return s.backends
}

// Run feeds actions to the core, waiting for ring space when it is full,
// and returns once every move has been stepped.
func (s *Simulator) Run(ctx context.Context, actions []gcode.Action) (Report, error) {
	runID := uuid.NewString()
	start := core.GetTime()
	startMoves := s.move.GetCompletedMoves()
	s.logger.Debug("simulation started", "run_id", runID, "actions", len(actions))

	for i, a := range actions {
		switch a.Kind {
		case gcode.ActionSetPosition:
			if err := s.drain(ctx); err != nil {
				return s.report(runID, start, startMoves), err
			}
			if err := s.move.SetPosition(a.Position); err != nil {
				return s.report(runID, start, startMoves), fmt.Errorf("action %d (line %d): %w", i, a.Line, err)
			}
		case gcode.ActionMove:
			if err := s.queue(ctx, a.Request); err != nil {
				return s.report(runID, start, startMoves), fmt.Errorf("action %d (line %d): %w", i, a.Line, err)
			}
		}
	}

	err := s.drain(ctx)
	r := s.report(runID, start, startMoves)
	s.logger.Info("simulation finished",
		"run_id", r.RunID,
		"moves", r.Moves,
		"seconds", r.Seconds,
		"hiccups", r.Hiccups,
		"step_errors", r.StepErrors)
	return r, err
}

func (s *Simulator) queue(ctx context.Context, req movement.MoveRequest) error {
	for spins := 0; ; spins++ {
		err := s.move.QueueMove(req)
		if !errors.Is(err, movement.ErrRingFull) {
			if errors.Is(err, movement.ErrZeroLength) {
				return nil
			}
			return err
		}
		if err := s.step(ctx, spins); err != nil {
			return err
		}
	}
}

func (s *Simulator) drain(ctx context.Context) error {
	for spins := 0; !s.move.AllMovesAreFinished(); spins++ {
		if err := s.step(ctx, spins); err != nil {
			return err
		}
	}
	return nil
}

// step spins the core once, then jumps the clock to the next timer and runs it
func (s *Simulator) step(ctx context.Context, spins int) error {
	if spins&0xfff == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.move.Spin()
	wake, ok := core.NextWakeTime()
	if !ok {
		s.idleSpins++
		if s.idleSpins > maxIdleSpins {
			return ErrStalled
		}
		return nil
	}
	s.idleSpins = 0
	if core.TimeBefore(core.GetTime(), wake) {
		core.SetTime(wake)
	}
	core.ProcessTimers()
	return nil
}

func (s *Simulator) report(runID string, start uint32, startMoves uint32) Report {
	ticks := core.GetTime() - start
	r := Report{
		RunID:         runID,
		Moves:         s.move.GetCompletedMoves() - startMoves,
		Steps:         make([]uint64, len(s.backends)),
		Ticks:         ticks,
		Seconds:       float64(ticks) / float64(core.TimerFreq),
		Hiccups:       s.move.GetAndClearHiccups(),
		StepErrors:    s.move.GetStepErrors(),
		FinalPosition: s.move.LivePosition(),
	}
	for i, b := range s.backends {
		r.Steps[i] = b.Steps
	}
	return r
}
