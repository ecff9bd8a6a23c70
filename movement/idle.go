package movement

import "stepcore/core"

// IdleState governs motor holding current
type IdleState uint8

const (
	IdleStateIdle       IdleState = iota // Holding current reduced
	IdleStateCollecting                  // Moves arriving, none stepping
	IdleStateExecuting                   // Step engine running
	IdleStateTiming                      // Ring empty, idle timeout running
)

func (s IdleState) String() string {
	switch s {
	case IdleStateIdle:
		return "idle"
	case IdleStateCollecting:
		return "collecting"
	case IdleStateExecuting:
		return "executing"
	case IdleStateTiming:
		return "timing"
	default:
		return "unknown"
	}
}

type idleMachine struct {
	state          IdleState
	lastTransition uint32
	emptySpins     int
	reduced        bool // holding current is at the idle level
}

func (im *idleMachine) reset(now uint32) {
	*im = idleMachine{state: IdleStateIdle, lastTransition: now}
}

// IdleState returns the idle state and the tick of the last recorded transition
func (m *Move) IdleState() (IdleState, uint32) {
	return m.idle.state, m.idle.lastTransition
}

func (m *Move) setIdleState(s IdleState, now uint32) {
	m.log.Debug("idle state", "from", m.idle.state.String(), "to", s.String())
	m.idle.state = s
	if s != IdleStateIdle {
		// Entering idle keeps the timing timestamp
		m.idle.lastTransition = now
	}
}

func (m *Move) onEnqueue(now uint32) {
	switch m.idle.state {
	case IdleStateIdle, IdleStateTiming:
		m.setIdleState(IdleStateCollecting, now)
	}
	m.idle.emptySpins = 0
	if m.idle.reduced {
		m.setHoldingCurrent(false)
	}
}

func (m *Move) updateIdleState(now uint32) {
	if m.currentDDA.Load() != noDDA {
		m.idle.emptySpins = 0
		if m.idle.state != IdleStateExecuting {
			m.setIdleState(IdleStateExecuting, now)
		}
		return
	}
	if !m.ring.IsEmpty() {
		m.idle.emptySpins = 0
		return
	}

	m.idle.emptySpins++
	switch m.idle.state {
	case IdleStateExecuting:
		m.setIdleState(IdleStateCollecting, now)
		if m.idle.emptySpins >= m.cfg.IdleSpinThreshold {
			m.setIdleState(IdleStateTiming, now)
		}
	case IdleStateCollecting:
		if m.idle.emptySpins >= m.cfg.IdleSpinThreshold {
			m.setIdleState(IdleStateTiming, now)
		}
	case IdleStateTiming:
		if now-m.idle.lastTransition >= m.cfg.IdleTimeout {
			m.setIdleState(IdleStateIdle, now)
			m.setHoldingCurrent(true)
		}
	}
}

func (m *Move) setHoldingCurrent(idle bool) {
	m.idle.reduced = idle
	if m.cfg.Current == nil {
		return
	}
	if err := m.cfg.Current.SetIdleCurrent(idle); err != nil {
		m.log.Error("set holding current", "idle", idle, "err", err)
	}
}

// idleSince returns the ticks spent in the current idle state
func (m *Move) idleSince() uint32 {
	return core.GetTime() - m.idle.lastTransition
}
