// Package kinematics converts between Cartesian positions and motor
// positions for the supported machine geometries.
package kinematics

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrUnreachable is returned when a position has no motor solution
	ErrUnreachable = errors.New("position unreachable")

	// ErrUnknownKinematics is returned for an unsupported kinematics name
	ErrUnknownKinematics = errors.New("unknown kinematics")
)

// NumAxes is the number of Cartesian axes (X, Y, Z) every variant maps.
// Drivers beyond these are linear (extruders) and never pass through here.
const NumAxes = 3

// Type selects a kinematics variant
type Type uint8

const (
	TypeCartesian Type = iota
	TypeCoreXY
	TypeLinearDelta
)

func (t Type) String() string {
	switch t {
	case TypeCartesian:
		return "cartesian"
	case TypeCoreXY:
		return "corexy"
	case TypeLinearDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// ParseType maps a configuration name to a Type
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cartesian", "":
		return TypeCartesian, nil
	case "corexy":
		return TypeCoreXY, nil
	case "delta", "lineardelta", "linear_delta":
		return TypeLinearDelta, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKinematics, name)
}

// Kinematics defines the coordinate transformation for one geometry.
// Implementations are stateless after construction and safe to call from
// the planning task.
type Kinematics interface {
	// GetName returns the variant name
	GetName() string

	// Type returns the variant
	Type() Type

	// CartesianToMotorSteps converts an XYZ position to motor step counts.
	// stepsPerMM and motorPos are indexed by motor; only the first NumAxes
	// entries are written.
	CartesianToMotorSteps(pos []float64, stepsPerMM []float64, motorPos []int32) error

	// MotorStepsToCartesian converts motor step counts back to XYZ
	MotorStepsToCartesian(motorPos []int32, stepsPerMM []float64, pos []float64)
}

// AxisLimits represents position limits for an axis.
// A zero value (Min == Max) disables the check.
type AxisLimits struct {
	Min float64
	Max float64
}

func (l AxisLimits) contains(v float64) bool {
	if l.Min == l.Max {
		return true
	}
	return v >= l.Min && v <= l.Max
}

// Params carries the geometry of every variant
type Params struct {
	Limits [NumAxes]AxisLimits

	// Linear delta geometry
	DeltaRadius float64    // horizontal distance from centre to each tower
	DiagonalRod float64    // effector arm length
	PrintRadius float64    // reachable radius at the bed
	TowerAngles [3]float64 // degrees; zero value means 210, 330, 90
}

// New builds the kinematics selected by t
func New(t Type, p Params) (Kinematics, error) {
	switch t {
	case TypeCartesian:
		return NewCartesian(p), nil
	case TypeCoreXY:
		return NewCoreXY(p), nil
	case TypeLinearDelta:
		return NewLinearDelta(p)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKinematics, t)
}

var axisNames = [NumAxes]string{"X", "Y", "Z"}

func checkLimits(limits *[NumAxes]AxisLimits, pos []float64) error {
	for i := 0; i < NumAxes; i++ {
		if !limits[i].contains(pos[i]) {
			return fmt.Errorf("%w: %s position %.3f out of limits", ErrUnreachable, axisNames[i], pos[i])
		}
	}
	return nil
}

func toSteps(mm, stepsPerMM float64) int32 {
	return int32(math.Round(mm * stepsPerMM))
}
