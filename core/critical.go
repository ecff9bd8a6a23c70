package core

// CriticalSection is a scoped interrupt-disable guard.
//
//	defer core.EnterCritical().Exit()
//
// Must not be entered from interrupt context; handlers run by TimerDispatch
// already execute with interrupts disabled.
type CriticalSection struct {
	state State
}

// EnterCritical disables interrupts until Exit is called
func EnterCritical() CriticalSection {
	return CriticalSection{state: disableInterrupts()}
}

// Exit restores the interrupt state saved by EnterCritical
func (c CriticalSection) Exit() {
	restoreInterrupts(c.state)
}
