package movement

import (
	"fmt"
	"io"

	"stepcore/core"
)

// Stats is a snapshot of the move counters
type Stats struct {
	Scheduled      uint32
	Completed      uint32
	Hiccups        uint32
	StepErrors     uint32
	PlanningErrors uint32
	Occupancy      int
	Capacity       int
	IdleState      IdleState
}

// Stats returns the counters without clearing the hiccup count
func (m *Move) Stats() Stats {
	s := Stats{
		Scheduled:      m.scheduled,
		Completed:      m.completed.Load(),
		Hiccups:        m.hiccups.Load(),
		StepErrors:     m.stepErrors.Load(),
		PlanningErrors: m.planningErrors,
		IdleState:      m.idle.state,
	}
	if m.ring != nil {
		s.Occupancy = m.ring.occupancy()
		s.Capacity = m.ring.Capacity()
	}
	return s
}

// Diagnostics writes a human readable status block, one item per line.
// The hiccup counter is cleared.
func (m *Move) Diagnostics(w io.Writer) {
	if m.ring == nil {
		fmt.Fprintln(w, "=== Move ===")
		fmt.Fprintln(w, "not initialised")
		return
	}

	fmt.Fprintln(w, "=== Move ===")
	fmt.Fprintf(w, "Kinematics: %s\n", m.kin.GetName())
	fmt.Fprintf(w, "Ring: %d/%d used, %d provisional\n",
		m.ring.occupancy(), m.ring.Capacity(), m.provisional)
	fmt.Fprintf(w, "Moves: scheduled %d, completed %d\n", m.scheduled, m.completed.Load())
	fmt.Fprintf(w, "Hiccups: %d, step errors: %d, planning errors: %d\n",
		m.GetAndClearHiccups(), m.stepErrors.Load(), m.planningErrors)
	fmt.Fprintf(w, "State: %s for %dms\n", m.idle.state, core.TimerToUS(m.idleSince())/1000)

	if snap, ok := m.GetCurrentDDA(); ok {
		fmt.Fprintf(w, "Current: slot %d seq %d len %.3fmm v %.2f/%.2f/%.2f mm/s a %.1f\n",
			snap.Slot, snap.Seq, snap.Length,
			snap.EntrySpeed, snap.PeakSpeed, snap.ExitSpeed, snap.Accel)
	} else {
		fmt.Fprintln(w, "Current: none")
	}

	pos := m.LivePosition()
	fmt.Fprint(w, "Position:")
	for i := range m.cfg.Drivers {
		fmt.Fprintf(w, " %.3f", pos[i])
	}
	fmt.Fprintln(w)
}
