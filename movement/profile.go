package movement

import "math"

// PeakSpeed returns the highest speed reachable over length with the given
// entry and exit speeds, capped at the requested top speed. A move too short
// to reach top speed gets a triangular profile instead of failing.
func PeakSpeed(length, entry, exit, accel, top float64) float64 {
	peak := math.Sqrt((2*accel*length + entry*entry + exit*exit) / 2)
	if peak > top {
		peak = top
	}
	return math.Max(peak, math.Max(entry, exit))
}

// profile is a trapezoidal speed profile along the path
type profile struct {
	length float64
	accel  float64
	entry  float64
	peak   float64
	exit   float64

	accelDist  float64
	decelDist  float64
	accelTime  float64
	steadyTime float64
	decelTime  float64
}

func newProfile(length, entry, peak, exit, accel float64) profile {
	p := profile{length: length, accel: accel, entry: entry, peak: peak, exit: exit}

	p.accelDist = (peak*peak - entry*entry) / (2 * accel)
	p.decelDist = (peak*peak - exit*exit) / (2 * accel)
	if over := p.accelDist + p.decelDist - length; over > 0 {
		// Rounding in the peak solver; trim evenly
		p.accelDist -= over / 2
		p.decelDist -= over / 2
	}

	p.accelTime = (peak - entry) / accel
	p.decelTime = (peak - exit) / accel
	if steady := length - p.accelDist - p.decelDist; steady > 0 && peak > 0 {
		p.steadyTime = steady / peak
	}
	return p
}

// duration returns the move time in seconds
func (p *profile) duration() float64 {
	return p.accelTime + p.steadyTime + p.decelTime
}

// timeAt returns the time in seconds at which the path reaches distance s
func (p *profile) timeAt(s float64) float64 {
	if s <= 0 {
		return 0
	}
	if s >= p.length {
		return p.duration()
	}

	if s <= p.accelDist {
		return (math.Sqrt(p.entry*p.entry+2*p.accel*s) - p.entry) / p.accel
	}

	decelStart := p.length - p.decelDist
	if s <= decelStart {
		return p.accelTime + (s-p.accelDist)/p.peak
	}

	d := s - decelStart
	v := math.Sqrt(math.Max(p.peak*p.peak-2*p.accel*d, 0))
	return p.accelTime + p.steadyTime + (p.peak-v)/p.accel
}

// speedAt returns the path speed at distance s
func (p *profile) speedAt(s float64) float64 {
	switch {
	case s <= p.accelDist:
		return math.Sqrt(p.entry*p.entry + 2*p.accel*math.Max(s, 0))
	case s <= p.length-p.decelDist:
		return p.peak
	default:
		d := math.Min(s, p.length) - (p.length - p.decelDist)
		return math.Sqrt(math.Max(p.peak*p.peak-2*p.accel*d, 0))
	}
}
