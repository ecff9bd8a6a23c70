package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
	armed    bool
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var timerList *Timer

// ScheduleTimer adds a timer to the schedule from task context
func ScheduleTimer(t *Timer) {
	defer EnterCritical().Exit()
	insertTimer(t)
}

// CancelTimer removes a timer from the schedule from task context
func CancelTimer(t *Timer) {
	defer EnterCritical().Exit()
	removeTimer(t)
}

// insertTimer inserts a timer in sorted order by WakeTime.
// Caller must have interrupts disabled.
func insertTimer(t *Timer) {
	if t.armed {
		removeTimer(t)
	}
	t.armed = true

	if timerList == nil || TimeBefore(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !TimeBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// removeTimer unlinks a timer if it is scheduled.
// Caller must have interrupts disabled.
func removeTimer(t *Timer) {
	if !t.armed {
		return
	}
	t.armed = false

	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for current := timerList; current != nil; current = current.Next {
		if current.Next == t {
			current.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// TimerDispatch runs every timer with WakeTime at or before now.
// Handlers execute with interrupts disabled, as they would in the timer ISR.
func TimerDispatch(now uint32) {
	defer EnterCritical().Exit()

	for timerList != nil && !TimeBefore(now, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil
		timer.armed = false

		if timer.Handler(timer) == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}

// NextWakeTime returns the earliest scheduled wake time
func NextWakeTime() (uint32, bool) {
	defer EnterCritical().Exit()
	if timerList == nil {
		return 0, false
	}
	return timerList.WakeTime, true
}

// PendingTimers returns the number of scheduled timers
func PendingTimers() int {
	defer EnterCritical().Exit()
	n := 0
	for t := timerList; t != nil; t = t.Next {
		n++
	}
	return n
}

// DeadlineTimer adapts the timer list to a one-shot hardware compare
// register: each ArmNextDeadline replaces the previous deadline and the
// callback runs in interrupt context when it expires.
//
// ArmNextDeadline and Cancel must be called with interrupts disabled, either
// from a critical section or from the callback itself.
type DeadlineTimer struct {
	timer    Timer
	callback func()
}

// NewDeadlineTimer creates a deadline timer that runs callback on expiry
func NewDeadlineTimer(callback func()) *DeadlineTimer {
	d := &DeadlineTimer{callback: callback}
	d.timer.Handler = d.fire
	return d
}

func (d *DeadlineTimer) fire(*Timer) uint8 {
	d.callback()
	return SF_DONE
}

// ArmNextDeadline schedules the callback at the given tick
func (d *DeadlineTimer) ArmNextDeadline(when uint32) {
	removeTimer(&d.timer)
	d.timer.WakeTime = when
	insertTimer(&d.timer)
}

// Cancel drops any pending deadline
func (d *DeadlineTimer) Cancel() {
	removeTimer(&d.timer)
}

// Armed reports whether a deadline is pending. Task context only.
func (d *DeadlineTimer) Armed() bool {
	defer EnterCritical().Exit()
	return d.timer.armed
}

// ResetTimers drops every scheduled timer, as on a firmware reset
func ResetTimers() {
	defer EnterCritical().Exit()
	for t := timerList; t != nil; {
		next := t.Next
		t.Next = nil
		t.armed = false
		t = next
	}
	timerList = nil
}
