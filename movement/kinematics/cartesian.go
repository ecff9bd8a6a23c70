package kinematics

// Cartesian implements basic Cartesian kinematics (XYZ 1:1 mapping)
type Cartesian struct {
	limits [NumAxes]AxisLimits
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(p Params) *Cartesian {
	return &Cartesian{limits: p.Limits}
}

func (k *Cartesian) GetName() string { return TypeCartesian.String() }
func (k *Cartesian) Type() Type      { return TypeCartesian }

func (k *Cartesian) CartesianToMotorSteps(pos []float64, stepsPerMM []float64, motorPos []int32) error {
	if err := checkLimits(&k.limits, pos); err != nil {
		return err
	}
	for i := 0; i < NumAxes; i++ {
		motorPos[i] = toSteps(pos[i], stepsPerMM[i])
	}
	return nil
}

func (k *Cartesian) MotorStepsToCartesian(motorPos []int32, stepsPerMM []float64, pos []float64) {
	for i := 0; i < NumAxes; i++ {
		pos[i] = float64(motorPos[i]) / stepsPerMM[i]
	}
}
