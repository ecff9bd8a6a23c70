package movement

import (
	"math"
	"sync/atomic"

	"stepcore/core"
	"stepcore/movement/kinematics"
)

// DDAState is the lifecycle state of a descriptor
type DDAState uint32

const (
	StateEmpty       DDAState = iota // Free slot
	StateProvisional                 // Queued, speeds may still change
	StateFrozen                      // Profile final, waiting for the step engine
	StateExecuting                   // Being stepped
)

func (s DDAState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateProvisional:
		return "provisional"
	case StateFrozen:
		return "frozen"
	case StateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// driveState tracks step placement for one driver during execution.
// The k-th step of a driver with n steps falls on master step ceil(k*M/n)
// where M is the largest step count of the move.
type driveState struct {
	total   uint32
	done    uint32
	sign    int32 // +1 or -1 motor position change per step
	dirPin  bool  // direction output level
	quot    uint32
	rem     uint32
	whole   uint32 // floor(k*M/n) for the next step
	frac    uint32 // (k*M) mod n for the next step
	due     uint32 // tick of the next step
	lastDue uint32 // tick of the previous step
}

func (ds *driveState) masterIndex() uint32 {
	if ds.frac > 0 {
		return ds.whole + 1
	}
	return ds.whole
}

func (ds *driveState) advance() {
	ds.whole += ds.quot
	ds.frac += ds.rem
	if ds.frac >= ds.total {
		ds.frac -= ds.total
		ds.whole++
	}
}

// DDA is one planned segment. Fields other than state are written by the
// planning task while provisional and only read once frozen, except the
// execution fields which belong to the step engine.
type DDA struct {
	state atomic.Uint32
	slot  uint8
	seq   uint32

	numDrivers  int
	startSteps  [MaxDrivers]int32
	endSteps    [MaxDrivers]int32
	delta       [MaxDrivers]float64 // planning space displacement, mm
	unit        [MaxDrivers]float64
	length      float64
	xyzMove     bool
	coordinated bool

	requestedSpeed float64
	topSpeed       float64
	accel          float64
	maxEntrySpeed  float64
	entrySpeed     float64
	exitSpeed      float64
	prof           profile
	durationTicks  uint32

	// Execution
	startTime   uint32
	masterSteps uint32
	drives      [MaxDrivers]driveState
	nextDue     uint32
}

// State returns the lifecycle state
func (d *DDA) State() DDAState {
	return DDAState(d.state.Load())
}

func (d *DDA) setState(s DDAState) {
	d.state.Store(uint32(s))
}

// Seq returns the descriptor sequence number
func (d *DDA) Seq() uint32 { return d.seq }

// EntrySpeed returns the planned speed at the start of the move
func (d *DDA) EntrySpeed() float64 { return d.entrySpeed }

// ExitSpeed returns the planned speed at the end of the move
func (d *DDA) ExitSpeed() float64 { return d.exitSpeed }

// PeakSpeed returns the planned top speed of the profile
func (d *DDA) PeakSpeed() float64 { return d.prof.peak }

// Length returns the path length in mm
func (d *DDA) Length() float64 { return d.length }

// Acceleration returns the path acceleration in mm/s^2
func (d *DDA) Acceleration() float64 { return d.accel }

// DurationTicks returns the planned move time in timer ticks
func (d *DDA) DurationTicks() uint32 { return d.durationTicks }

// init fills a free slot from a request. startPos and endPos are planning
// space coordinates (Cartesian plus extruders, or motor mm for raw moves).
func (d *DDA) init(cfg *Config, seq uint32, startSteps, endSteps *[MaxDrivers]int32,
	startPos, endPos *[MaxDrivers]float64, req *MoveRequest) error {

	slot := d.slot
	*d = DDA{slot: slot}
	d.seq = seq
	d.numDrivers = len(cfg.Drivers)
	d.startSteps = *startSteps
	d.endSteps = *endSteps
	d.coordinated = req.Coordinated

	moving := false
	for i := 0; i < d.numDrivers; i++ {
		diff := int64(endSteps[i]) - int64(startSteps[i])
		ds := &d.drives[i]
		ds.sign = 1
		if diff < 0 {
			ds.sign = -1
			diff = -diff
		}
		ds.total = uint32(diff)
		ds.dirPin = (ds.sign < 0) != cfg.Drivers[i].Invert
		if ds.total > d.masterSteps {
			d.masterSteps = ds.total
		}
		if ds.total > 0 {
			moving = true
		}
		d.delta[i] = endPos[i] - startPos[i]
	}
	if !moving {
		return ErrZeroLength
	}

	xyz := 0.0
	for i := 0; i < kinematics.NumAxes; i++ {
		xyz += d.delta[i] * d.delta[i]
	}
	d.length = math.Sqrt(xyz)
	d.xyzMove = d.length > 1e-9
	if !d.xyzMove {
		extrude := 0.0
		for i := kinematics.NumAxes; i < d.numDrivers; i++ {
			extrude += d.delta[i] * d.delta[i]
		}
		d.length = math.Sqrt(extrude)
	}
	if d.length <= 1e-9 {
		return ErrZeroLength
	}

	d.requestedSpeed = req.FeedRate
	d.topSpeed = req.FeedRate
	d.accel = math.Inf(1)
	for i := 0; i < d.numDrivers; i++ {
		d.unit[i] = d.delta[i] / d.length
		u := math.Abs(d.unit[i])
		if u < 1e-12 {
			continue
		}
		drv := &cfg.Drivers[i]
		if drv.MaxSpeed > 0 {
			d.topSpeed = math.Min(d.topSpeed, drv.MaxSpeed/u)
		}
		d.accel = math.Min(d.accel, drv.MaxAccel/u)
	}
	return nil
}

// calcJunction limits the entry speed from the corner with prev using the
// approximated centripetal velocity of the junction deviation.
// prev is nil when the machine is known to be at rest.
func (d *DDA) calcJunction(prev *DDA, junctionDeviation float64) {
	d.maxEntrySpeed = 0
	if prev == nil || !d.coordinated || !prev.coordinated {
		return
	}

	maxV2 := math.Min(d.topSpeed*d.topSpeed, prev.topSpeed*prev.topSpeed)
	maxV2 = math.Min(maxV2, prev.maxEntrySpeed*prev.maxEntrySpeed+2*prev.accel*prev.length)

	if d.xyzMove && prev.xyzMove {
		cosTheta := 0.0
		for i := 0; i < kinematics.NumAxes; i++ {
			cosTheta -= d.unit[i] * prev.unit[i]
		}
		if cosTheta > 0.999999 {
			// Full reversal
			return
		}
		cosTheta = math.Max(cosTheta, -0.999999)
		sinHalf := math.Sqrt(0.5 * (1 - cosTheta))
		cosHalf := math.Sqrt(0.5 * (1 + cosTheta))
		if oneMinus := 1 - sinHalf; oneMinus > 0 && cosHalf > 0 {
			rjd := sinHalf / oneMinus
			quarterTan := 0.25 * sinHalf / cosHalf
			maxV2 = math.Min(maxV2, rjd*junctionDeviation*d.accel)
			maxV2 = math.Min(maxV2, rjd*junctionDeviation*prev.accel)
			maxV2 = math.Min(maxV2, 2*d.accel*d.length*quarterTan)
			maxV2 = math.Min(maxV2, 2*prev.accel*prev.length*quarterTan)
		}
	}
	d.maxEntrySpeed = math.Sqrt(math.Max(maxV2, 0))
}

// plan computes the profile for the current entry and exit speeds
func (d *DDA) plan() {
	peak := PeakSpeed(d.length, d.entrySpeed, d.exitSpeed, d.accel, d.topSpeed)
	d.prof = newProfile(d.length, d.entrySpeed, peak, d.exitSpeed, d.accel)
	d.durationTicks = core.TimerFromSeconds(d.prof.duration())
}

// stepTime returns the tick at which the path reaches master step m
func (d *DDA) stepTime(m uint32) uint32 {
	s := d.length * float64(m) / float64(d.masterSteps)
	return d.startTime + core.TimerFromSeconds(d.prof.timeAt(s))
}

// Start prepares the frozen descriptor for stepping from the given tick and
// sets the direction outputs. Interrupts must be disabled.
func (d *DDA) Start(when uint32, outputs []core.StepperBackend) {
	d.startTime = when
	first := true
	for i := 0; i < d.numDrivers; i++ {
		ds := &d.drives[i]
		ds.done = 0
		if ds.total == 0 {
			continue
		}
		outputs[i].SetDirection(ds.dirPin)
		ds.quot = d.masterSteps / ds.total
		ds.rem = d.masterSteps % ds.total
		ds.whole = ds.quot
		ds.frac = ds.rem
		ds.lastDue = when
		ds.due = d.stepTime(ds.masterIndex())
		if first || core.TimeBefore(ds.due, d.nextDue) {
			d.nextDue = ds.due
			first = false
		}
	}
	d.setState(StateExecuting)
}

// NextDue returns the tick of the earliest pending step
func (d *DDA) NextDue() uint32 { return d.nextDue }

// EndTime returns the tick at which the move finishes
func (d *DDA) EndTime() uint32 { return d.startTime + d.durationTicks }

// Step emits every step due at the earliest pending time, updates the live
// motor positions and reports whether steps remain. Interrupt context.
func (d *DDA) Step(outputs []core.StepperBackend, live *[MaxDrivers]atomic.Int32) bool {
	due := d.nextDue
	pending := false
	var next uint32

	for i := 0; i < d.numDrivers; i++ {
		ds := &d.drives[i]
		if ds.done >= ds.total {
			continue
		}
		if ds.due == due {
			outputs[i].Step()
			live[i].Add(ds.sign)
			ds.done++
			ds.lastDue = ds.due
			if ds.done < ds.total {
				ds.advance()
				ds.due = d.stepTime(ds.masterIndex())
			}
		}
		if ds.done < ds.total && (!pending || core.TimeBefore(ds.due, next)) {
			next = ds.due
			pending = true
		}
	}

	d.nextDue = next
	return pending
}

// stepInterval returns the ticks between the last and the next step of a driver
func (d *DDA) stepInterval(driver int) uint32 {
	if driver < 0 || driver >= d.numDrivers {
		return 0
	}
	ds := &d.drives[driver]
	if ds.done >= ds.total {
		return 0
	}
	return ds.due - ds.lastDue
}

// DDASnapshot is a copy of the externally interesting descriptor fields
type DDASnapshot struct {
	Slot       uint8
	Seq        uint32
	State      DDAState
	Length     float64
	EntrySpeed float64
	PeakSpeed  float64
	ExitSpeed  float64
	Accel      float64
	StartTime  uint32
	Duration   uint32
	Steps      [MaxDrivers]int32 // signed step count per driver
	StepsDone  [MaxDrivers]uint32
}

func (d *DDA) snapshot() DDASnapshot {
	s := DDASnapshot{
		Slot:       d.slot,
		Seq:        d.seq,
		State:      d.State(),
		Length:     d.length,
		EntrySpeed: d.entrySpeed,
		PeakSpeed:  d.prof.peak,
		ExitSpeed:  d.exitSpeed,
		Accel:      d.accel,
		StartTime:  d.startTime,
		Duration:   d.durationTicks,
	}
	for i := 0; i < d.numDrivers; i++ {
		s.Steps[i] = d.endSteps[i] - d.startSteps[i]
		s.StepsDone[i] = d.drives[i].done
	}
	return s
}
