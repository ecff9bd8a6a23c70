package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a step-engine event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Slot      uint8  // Ring slot of the move involved
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtMoveStart = 1 // Move promoted to executing; v1=seq v2=start time
	EvtMoveDone  = 2 // Move finished stepping; v1=seq v2=completed count
	EvtArm       = 3 // Step timer armed; v1=deadline
	EvtHiccup    = 4 // Interrupt ran late; v1=due v2=lateness
	EvtStop      = 5 // StopDrivers; v1=driver mask
	EvtOverrun   = 6 // Step budget per interrupt exhausted; v1=steps
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether DebugPrintln output is active
	debugEnabled bool

	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8
	timingTotal    uint32
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordTiming captures an event in the timing ring.
// Never blocks or allocates; call with interrupts disabled.
func RecordTiming(eventType, slot uint8, clock, value1, value2 uint32) {
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		Slot:      slot,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
	timingTotal++
}

// TimingEvents returns the recorded events, oldest first
func TimingEvents() []TimingEvent {
	defer EnterCritical().Exit()

	events := make([]TimingEvent, 0, TimingRingSize)
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(timingRingHead+i)%TimingRingSize]
		if evt.EventType != 0 {
			events = append(events, evt)
		}
	}
	return events
}

func eventName(eventType uint8) string {
	switch eventType {
	case EvtMoveStart:
		return "MOVE_START"
	case EvtMoveDone:
		return "MOVE_DONE"
	case EvtArm:
		return "ARM"
	case EvtHiccup:
		return "HICCUP!"
	case EvtStop:
		return "STOP"
	case EvtOverrun:
		return "OVERRUN!"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingRing writes the timing ring through the debug writer.
// Task context only.
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	events := TimingEvents()
	debugPrintln("[TIMING] === Timing Ring Dump ===")
	debugPrintln("[TIMING] Events recorded: " + utoa(timingTotal))
	for _, evt := range events {
		debugPrintln("[TIMING] " + eventName(evt.EventType) +
			" slot=" + itoa(int(evt.Slot)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	defer EnterCritical().Exit()
	timingRing = [TimingRingSize]TimingEvent{}
	timingRingHead = 0
	timingTotal = 0
}
