package movement

// MoveFlags qualify a move request
type MoveFlags uint8

const (
	// MoveRawMotor targets are per-driver carriage positions in mm and
	// bypass the kinematics
	MoveRawMotor MoveFlags = 1 << iota
)

// MoveRequest is one move handed over by the command layer
type MoveRequest struct {
	Target      [MaxDrivers]float64 // XYZ then extruders, mm
	FeedRate    float64             // mm/s along the path
	Flags       MoveFlags
	Coordinated bool // false: start and end at rest, never blended
}

// IsRawMotorMove reports whether the request bypasses the kinematics
func IsRawMotorMove(flags MoveFlags) bool {
	return flags&MoveRawMotor != 0
}
