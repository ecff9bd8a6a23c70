// Package config loads the machine description from YAML and converts it to
// the motion core configuration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"stepcore/core"
	"stepcore/movement"
	"stepcore/movement/kinematics"
)

// EnvPrefix prefixes environment overrides, e.g. STEPCORE_MOTION_RING_CAPACITY
const EnvPrefix = "STEPCORE"

// AxisOrder maps axis names to driver indexes
var AxisOrder = []string{"x", "y", "z", "e", "e1", "e2"}

// AxisConfig describes one axis and its stepper
type AxisConfig struct {
	StepsPerMM  float64 `mapstructure:"steps_per_mm"`
	MaxVelocity float64 `mapstructure:"max_velocity"` // mm/s
	MaxAccel    float64 `mapstructure:"max_accel"`    // mm/s^2
	MinPosition float64 `mapstructure:"min_position"`
	MaxPosition float64 `mapstructure:"max_position"`
	InvertDir   bool    `mapstructure:"invert_dir"`
}

// DeltaConfig is the linear delta geometry
type DeltaConfig struct {
	Radius      float64   `mapstructure:"radius"`
	DiagonalRod float64   `mapstructure:"diagonal_rod"`
	PrintRadius float64   `mapstructure:"print_radius"`
	TowerAngles []float64 `mapstructure:"tower_angles"`
}

// MotionConfig holds the motion core tunables
type MotionConfig struct {
	RingCapacity         int `mapstructure:"ring_capacity"`
	LookAheadWindow      int `mapstructure:"lookahead_window"`
	MinPreparedMoves     int `mapstructure:"min_prepared_moves"`
	IdleSpinThreshold    int `mapstructure:"idle_spin_threshold"`
	IdleTimeoutMs        int `mapstructure:"idle_timeout_ms"`
	HiccupToleranceUs    int `mapstructure:"hiccup_tolerance_us"`
	MaxStepsPerInterrupt int `mapstructure:"max_steps_per_interrupt"`
	StartLeadUs          int `mapstructure:"start_lead_us"`
	RunCurrent           int `mapstructure:"run_current"`          // driver current scale 0-31
	IdleCurrentPercent   int `mapstructure:"idle_current_percent"` // of run current
}

// MachineConfig is the complete machine description
type MachineConfig struct {
	Kinematics        string                `mapstructure:"kinematics"`
	JunctionDeviation float64               `mapstructure:"junction_deviation"`
	Axes              map[string]AxisConfig `mapstructure:"axes"`
	Delta             DeltaConfig           `mapstructure:"delta"`
	Motion            MotionConfig          `mapstructure:"motion"`
}

func setDefaults(v *viper.Viper) {
	def := movement.DefaultConfig()
	v.SetDefault("kinematics", "cartesian")
	v.SetDefault("junction_deviation", def.JunctionDeviation)
	v.SetDefault("motion.ring_capacity", def.RingCapacity)
	v.SetDefault("motion.lookahead_window", def.LookAheadWindow)
	v.SetDefault("motion.min_prepared_moves", def.MinPreparedMoves)
	v.SetDefault("motion.idle_spin_threshold", def.IdleSpinThreshold)
	v.SetDefault("motion.idle_timeout_ms", 30000)
	v.SetDefault("motion.hiccup_tolerance_us", 50)
	v.SetDefault("motion.max_steps_per_interrupt", def.MaxStepsPerInterrupt)
	v.SetDefault("motion.start_lead_us", 1000)
	v.SetDefault("motion.run_current", 16)
	v.SetDefault("motion.idle_current_percent", 30)
}

// Load reads a YAML machine description. Environment variables with the
// STEPCORE_ prefix override file values.
func Load(path string) (*MachineConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg MachineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills in axis values left at zero
func applyDefaults(cfg *MachineConfig) {
	for name, axis := range cfg.Axes {
		if axis.MaxVelocity == 0 {
			axis.MaxVelocity = 300.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0 // Common value
		}
		cfg.Axes[name] = axis
	}
}

// Validate reports every problem in the description
func (c *MachineConfig) Validate() error {
	var err error

	if _, kerr := kinematics.ParseType(c.Kinematics); kerr != nil {
		err = multierr.Append(err, kerr)
	}
	for _, name := range AxisOrder[:kinematics.NumAxes] {
		if _, ok := c.Axes[name]; !ok {
			err = multierr.Append(err, fmt.Errorf("axis %s missing", name))
		}
	}
	for name, axis := range c.Axes {
		if !knownAxis(name) {
			err = multierr.Append(err, fmt.Errorf("unknown axis %q", name))
		}
		if axis.MinPosition > axis.MaxPosition {
			err = multierr.Append(err, fmt.Errorf("axis %s: min position above max", name))
		}
	}
	if c.Motion.IdleCurrentPercent < 0 || c.Motion.IdleCurrentPercent > 100 {
		err = multierr.Append(err, errors.New("idle current percent must be 0-100"))
	}
	if c.Motion.RunCurrent < 0 || c.Motion.RunCurrent > 31 {
		err = multierr.Append(err, errors.New("run current must be 0-31"))
	}
	if len(c.Delta.TowerAngles) != 0 && len(c.Delta.TowerAngles) != 3 {
		err = multierr.Append(err, errors.New("delta tower angles need three values"))
	}
	return err
}

func knownAxis(name string) bool {
	for _, a := range AxisOrder {
		if a == name {
			return true
		}
	}
	return false
}

// axisNames returns the configured axes in driver order.
// Extruders are taken until the first gap.
func (c *MachineConfig) axisNames() []string {
	names := make([]string, 0, len(AxisOrder))
	for i, name := range AxisOrder {
		if _, ok := c.Axes[name]; !ok && i >= kinematics.NumAxes {
			break
		}
		names = append(names, name)
	}
	return names
}

// AxisLetters returns the G-code letters of the configured axes in driver
// order. Only the first extruder is addressable as E.
func (c *MachineConfig) AxisLetters() string {
	letters := ""
	for _, name := range c.axisNames() {
		if len(name) == 1 {
			letters += strings.ToUpper(name)
		}
	}
	return letters
}

// KinematicsParams returns the geometry for the kinematics variants
func (c *MachineConfig) KinematicsParams() kinematics.Params {
	var p kinematics.Params
	for i, name := range AxisOrder[:kinematics.NumAxes] {
		axis := c.Axes[name]
		p.Limits[i] = kinematics.AxisLimits{Min: axis.MinPosition, Max: axis.MaxPosition}
	}
	p.DeltaRadius = c.Delta.Radius
	p.DiagonalRod = c.Delta.DiagonalRod
	p.PrintRadius = c.Delta.PrintRadius
	copy(p.TowerAngles[:], c.Delta.TowerAngles)
	return p
}

// BuildKinematics builds the configured kinematics variant
func (c *MachineConfig) BuildKinematics() (kinematics.Kinematics, error) {
	t, err := kinematics.ParseType(c.Kinematics)
	if err != nil {
		return nil, err
	}
	return kinematics.New(t, c.KinematicsParams())
}

// Movement converts the description into a motion core configuration
func (c *MachineConfig) Movement() (movement.Config, error) {
	kin, err := c.BuildKinematics()
	if err != nil {
		return movement.Config{}, err
	}

	m := movement.Config{
		Kinematics:           kin,
		KinematicsParams:     c.KinematicsParams(),
		RingCapacity:         c.Motion.RingCapacity,
		LookAheadWindow:      c.Motion.LookAheadWindow,
		MinPreparedMoves:     c.Motion.MinPreparedMoves,
		JunctionDeviation:    c.JunctionDeviation,
		IdleSpinThreshold:    c.Motion.IdleSpinThreshold,
		IdleTimeout:          core.TimerFromUS(uint32(c.Motion.IdleTimeoutMs)) * 1000,
		HiccupTolerance:      core.TimerFromUS(uint32(c.Motion.HiccupToleranceUs)),
		MaxStepsPerInterrupt: c.Motion.MaxStepsPerInterrupt,
		StartLead:            core.TimerFromUS(uint32(c.Motion.StartLeadUs)),
	}
	for _, name := range c.axisNames() {
		axis := c.Axes[name]
		m.Drivers = append(m.Drivers, movement.DriverConfig{
			StepsPerMM: axis.StepsPerMM,
			MaxSpeed:   axis.MaxVelocity,
			MaxAccel:   axis.MaxAccel,
			Invert:     axis.InvertDir,
		})
	}
	return m, nil
}

// Default returns a configuration for a typical Cartesian printer
func Default() *MachineConfig {
	return &MachineConfig{
		Kinematics:        "cartesian",
		JunctionDeviation: 0.05,
		Axes: map[string]AxisConfig{
			"x": {
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"y": {
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"z": {
				StepsPerMM:  400.0,
				MaxVelocity: 10.0,
				MaxAccel:    100.0,
				MinPosition: 0.0,
				MaxPosition: 250.0,
			},
			"e": {
				StepsPerMM:  96.0,
				MaxVelocity: 50.0,
				MaxAccel:    5000.0,
				MinPosition: -10000.0,
				MaxPosition: 10000.0,
			},
		},
		Motion: MotionConfig{
			RingCapacity:         20,
			LookAheadWindow:      8,
			MinPreparedMoves:     2,
			IdleSpinThreshold:    50,
			IdleTimeoutMs:        30000,
			HiccupToleranceUs:    50,
			MaxStepsPerInterrupt: 64,
			StartLeadUs:          1000,
			RunCurrent:           16,
			IdleCurrentPercent:   30,
		},
	}
}
