//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"stepcore/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08 // Raw timer high word
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

// hardwareTicksPerUS converts the 1MHz hardware timer to the step clock
const hardwareTicksPerUS = core.TimerFreq / 1000000

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// GetHardwareUptime reads the full 64-bit microsecond timer
func GetHardwareUptime() uint64 {
	// Read high, low, high again to detect rollover
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// UpdateSystemTime sets the core clock from the hardware timer. The
// truncation to 32 bits wraps continuously.
func UpdateSystemTime() {
	core.SetTime(uint32(GetHardwareUptime() * hardwareTicksPerUS))
}
