// Package movement is the motion core: a fixed ring of move descriptors
// (DDAs), the look-ahead planner that blends them, and the step engine run
// from the step timer interrupt.
package movement

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/multierr"

	"stepcore/core"
	"stepcore/movement/kinematics"
)

// MaxDrivers is the number of step outputs a move can address
const MaxDrivers = 6

// MaxRingCapacity bounds the ring so slot indexes fit a byte, with 0xFF
// left free to mark events that belong to no slot
const MaxRingCapacity = 255

var (
	// ErrRingFull is returned when no free descriptor slot is available
	ErrRingFull = errors.New("move ring full")

	// ErrZeroLength is returned for a move that does not change any motor position
	ErrZeroLength = errors.New("zero length move")

	// ErrInvalidFeedRate is returned for a non-positive feed rate
	ErrInvalidFeedRate = errors.New("invalid feed rate")

	// ErrNotInitialised is returned when Move is used before Init or after Exit
	ErrNotInitialised = errors.New("movement not initialised")
)

// DriverConfig holds the limits of one step output.
// Drivers 0-2 map to X, Y and Z through the kinematics, the rest are linear.
type DriverConfig struct {
	StepsPerMM float64
	MaxSpeed   float64 // mm/s, 0 = unlimited
	MaxAccel   float64 // mm/s^2
	Invert     bool    // Invert direction output
}

// CurrentControl sets motor holding current. Implemented by smart drivers.
type CurrentControl interface {
	SetIdleCurrent(idle bool) error
}

// Config configures a Move
type Config struct {
	Drivers          []DriverConfig
	Kinematics       kinematics.Kinematics // nil selects Cartesian
	KinematicsParams kinematics.Params     // used when switching variants by type

	RingCapacity      int     // Descriptor slots
	LookAheadWindow   int     // Provisional descriptors kept open for blending
	MinPreparedMoves  int     // Frozen or executing descriptors kept ahead of the step engine
	JunctionDeviation float64 // mm

	IdleSpinThreshold    int    // Spin calls without new moves before committing/idling
	IdleTimeout          uint32 // Ticks in timing state before holding current is reduced
	HiccupTolerance      uint32 // Ticks a step may be late before it counts as a hiccup
	MaxStepsPerInterrupt int    // Step groups emitted per interrupt before yielding
	StartLead            uint32 // Ticks between promotion from idle and the first step

	Current CurrentControl // optional
	Logger  *slog.Logger
}

// DefaultConfig returns the tuning used when a field is left zero
func DefaultConfig() Config {
	return Config{
		RingCapacity:         20,
		LookAheadWindow:      8,
		MinPreparedMoves:     2,
		JunctionDeviation:    0.05,
		IdleSpinThreshold:    50,
		IdleTimeout:          30 * core.TimerFreq,
		HiccupTolerance:      core.TimerFromUS(50),
		MaxStepsPerInterrupt: 64,
		StartLead:            core.TimerFromUS(1000),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.RingCapacity == 0 {
		c.RingCapacity = def.RingCapacity
	}
	if c.LookAheadWindow == 0 {
		c.LookAheadWindow = def.LookAheadWindow
	}
	if c.MinPreparedMoves == 0 {
		c.MinPreparedMoves = def.MinPreparedMoves
	}
	if c.JunctionDeviation == 0 {
		c.JunctionDeviation = def.JunctionDeviation
	}
	if c.IdleSpinThreshold == 0 {
		c.IdleSpinThreshold = def.IdleSpinThreshold
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.HiccupTolerance == 0 {
		c.HiccupTolerance = def.HiccupTolerance
	}
	if c.MaxStepsPerInterrupt == 0 {
		c.MaxStepsPerInterrupt = def.MaxStepsPerInterrupt
	}
	if c.StartLead == 0 {
		c.StartLead = def.StartLead
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var err error
	if len(c.Drivers) < kinematics.NumAxes || len(c.Drivers) > MaxDrivers {
		err = multierr.Append(err, fmt.Errorf("need %d to %d drivers, have %d",
			kinematics.NumAxes, MaxDrivers, len(c.Drivers)))
	}
	for i, d := range c.Drivers {
		if d.StepsPerMM <= 0 {
			err = multierr.Append(err, fmt.Errorf("driver %d: steps per mm must be positive", i))
		}
		if d.MaxAccel <= 0 {
			err = multierr.Append(err, fmt.Errorf("driver %d: max accel must be positive", i))
		}
		if d.MaxSpeed < 0 {
			err = multierr.Append(err, fmt.Errorf("driver %d: max speed must not be negative", i))
		}
	}
	if c.RingCapacity < 2 || c.RingCapacity > MaxRingCapacity {
		err = multierr.Append(err, fmt.Errorf("ring capacity %d must be between 2 and %d", c.RingCapacity, MaxRingCapacity))
	}
	if c.LookAheadWindow < 1 || c.LookAheadWindow >= c.RingCapacity {
		err = multierr.Append(err, fmt.Errorf("look-ahead window %d must be between 1 and ring capacity-1", c.LookAheadWindow))
	}
	if c.MinPreparedMoves < 1 {
		err = multierr.Append(err, errors.New("min prepared moves must be at least 1"))
	}
	if c.JunctionDeviation < 0 {
		err = multierr.Append(err, errors.New("junction deviation must not be negative"))
	}
	return err
}

func (c *Config) stepsPerMM() []float64 {
	spm := make([]float64, len(c.Drivers))
	for i, d := range c.Drivers {
		spm[i] = d.StepsPerMM
	}
	return spm
}
