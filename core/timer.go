package core

import "sync/atomic"

// Timer frequencies for common MCUs
const (
	TimerFreq = 12000000 // 12MHz step clock
)

var (
	systemTicks atomic.Uint32
	bootTime    uint32 // Time at boot for uptime calculation
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	systemTicks.Store(ticks)
}

// AdvanceTime moves the clock forward by delta ticks and returns the new time
func AdvanceTime(delta uint32) uint32 {
	return systemTicks.Add(delta)
}

// GetUptime returns ticks elapsed since TimerInit
func GetUptime() uint32 {
	return GetTime() - bootTime
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerFromSeconds converts a duration in seconds to timer ticks
func TimerFromSeconds(s float64) uint32 {
	if s <= 0 {
		return 0
	}
	return uint32(s*TimerFreq + 0.5)
}

// TimeBefore reports whether tick a is before tick b, tolerating wraparound
func TimeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// TimerInit initializes the system timer
func TimerInit() {
	bootTime = GetTime()
}

// ProcessTimers runs every timer due at the current time
func ProcessTimers() {
	TimerDispatch(GetTime())
}
