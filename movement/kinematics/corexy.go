package kinematics

// CoreXY drives X and Y with two belts: A = X+Y, B = X-Y
type CoreXY struct {
	limits [NumAxes]AxisLimits
}

// NewCoreXY creates a CoreXY kinematics instance
func NewCoreXY(p Params) *CoreXY {
	return &CoreXY{limits: p.Limits}
}

func (k *CoreXY) GetName() string { return TypeCoreXY.String() }
func (k *CoreXY) Type() Type      { return TypeCoreXY }

func (k *CoreXY) CartesianToMotorSteps(pos []float64, stepsPerMM []float64, motorPos []int32) error {
	if err := checkLimits(&k.limits, pos); err != nil {
		return err
	}
	motorPos[0] = toSteps(pos[0]+pos[1], stepsPerMM[0])
	motorPos[1] = toSteps(pos[0]-pos[1], stepsPerMM[1])
	motorPos[2] = toSteps(pos[2], stepsPerMM[2])
	return nil
}

func (k *CoreXY) MotorStepsToCartesian(motorPos []int32, stepsPerMM []float64, pos []float64) {
	a := float64(motorPos[0]) / stepsPerMM[0]
	b := float64(motorPos[1]) / stepsPerMM[1]
	pos[0] = 0.5 * (a + b)
	pos[1] = 0.5 * (a - b)
	pos[2] = float64(motorPos[2]) / stepsPerMM[2]
}
