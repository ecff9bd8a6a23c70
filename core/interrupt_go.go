//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// irqLine stands in for the interrupt enable bit. Timer dispatch holds it
// while handlers run, so task code inside a critical section excludes the
// simulated interrupt the same way the hardware does.
var irqLine sync.Mutex

func disableInterrupts() State {
	irqLine.Lock()
	return 0
}

func restoreInterrupts(state State) {
	irqLine.Unlock()
}
