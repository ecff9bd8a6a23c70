package kinematics

import (
	"errors"
	"fmt"
	"math"
)

var defaultTowerAngles = [3]float64{210, 330, 90}

// LinearDelta maps XYZ to the heights of three carriages on vertical
// towers joined to the effector by arms of equal length
type LinearDelta struct {
	towerX, towerY [3]float64
	diagonal2      float64
	printRadius2   float64
	zLimits        AxisLimits
}

// NewLinearDelta validates the delta geometry and creates the kinematics
func NewLinearDelta(p Params) (*LinearDelta, error) {
	if p.DeltaRadius <= 0 || p.DiagonalRod <= p.DeltaRadius {
		return nil, errors.New("delta: diagonal rod must be longer than the delta radius")
	}

	angles := p.TowerAngles
	if angles == [3]float64{} {
		angles = defaultTowerAngles
	}

	k := &LinearDelta{
		diagonal2: p.DiagonalRod * p.DiagonalRod,
		zLimits:   p.Limits[2],
	}
	printRadius := p.PrintRadius
	if printRadius <= 0 {
		printRadius = p.DeltaRadius
	}
	k.printRadius2 = printRadius * printRadius

	for i, deg := range angles {
		rad := deg * math.Pi / 180
		k.towerX[i] = math.Cos(rad) * p.DeltaRadius
		k.towerY[i] = math.Sin(rad) * p.DeltaRadius
	}
	return k, nil
}

func (k *LinearDelta) GetName() string { return TypeLinearDelta.String() }
func (k *LinearDelta) Type() Type      { return TypeLinearDelta }

func (k *LinearDelta) CartesianToMotorSteps(pos []float64, stepsPerMM []float64, motorPos []int32) error {
	x, y, z := pos[0], pos[1], pos[2]
	if x*x+y*y > k.printRadius2 {
		return fmt.Errorf("%w: (%.3f, %.3f) outside print radius", ErrUnreachable, x, y)
	}
	if !k.zLimits.contains(z) {
		return fmt.Errorf("%w: Z position %.3f out of limits", ErrUnreachable, z)
	}

	var heights [3]float64
	for i := range heights {
		dx := x - k.towerX[i]
		dy := y - k.towerY[i]
		d2 := k.diagonal2 - dx*dx - dy*dy
		if d2 <= 0 {
			return fmt.Errorf("%w: tower %d arm cannot reach (%.3f, %.3f)", ErrUnreachable, i, x, y)
		}
		heights[i] = z + math.Sqrt(d2)
	}
	for i, h := range heights {
		motorPos[i] = toSteps(h, stepsPerMM[i])
	}
	return nil
}

// MotorStepsToCartesian intersects the three arm spheres centred on the
// carriages and keeps the solution below them
func (k *LinearDelta) MotorStepsToCartesian(motorPos []int32, stepsPerMM []float64, pos []float64) {
	var p [3][3]float64
	for i := range p {
		p[i] = [3]float64{k.towerX[i], k.towerY[i], float64(motorPos[i]) / stepsPerMM[i]}
	}

	s21 := sub(p[1], p[0])
	s31 := sub(p[2], p[0])
	d := norm(s21)
	ex := scale(s21, 1/d)
	i := dot(ex, s31)
	eyRaw := sub(s31, scale(ex, i))
	ey := scale(eyRaw, 1/norm(eyRaw))
	ez := cross(ex, ey)
	j := dot(ey, s31)

	x := d / 2
	y := ((i*i + j*j) - 2*i*x) / (2 * j)
	z := -math.Sqrt(math.Max(k.diagonal2-x*x-y*y, 0))
	if ez[2] < 0 {
		z = -z
	}

	for axis := 0; axis < NumAxes; axis++ {
		pos[axis] = p[0][axis] + ex[axis]*x + ey[axis]*y + ez[axis]*z
	}
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func norm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
