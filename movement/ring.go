package movement

import "sync/atomic"

// Ring is the fixed circular buffer of descriptors shared by the planning
// task and the step interrupt.
//
// The task owns the add and check cursors and fills empty slots. The step
// engine owns get: it promotes the frozen slot at get to executing and
// reclaims it when done. Slots between get and check are frozen or
// executing, slots between check and add are provisional.
type Ring struct {
	slots []DDA
	add   int
	check int
	get   atomic.Int32
	seq   uint32
}

// NewRing allocates a ring with the given number of slots
func NewRing(capacity int) *Ring {
	r := &Ring{slots: make([]DDA, capacity)}
	for i := range r.slots {
		r.slots[i].slot = uint8(i)
	}
	return r
}

// Capacity returns the number of slots
func (r *Ring) Capacity() int { return len(r.slots) }

func (r *Ring) next(i int) int {
	i++
	if i == len(r.slots) {
		return 0
	}
	return i
}

func (r *Ring) prev(i int) int {
	if i == 0 {
		return len(r.slots) - 1
	}
	return i - 1
}

// Slot returns the descriptor stored at index i
func (r *Ring) Slot(i int) *DDA { return &r.slots[i] }

// TryEnqueue fills the slot at add and advances add. It fails with
// ErrRingFull and no side effects when that slot is still in use; an error
// from fill leaves the slot empty and add unchanged.
func (r *Ring) TryEnqueue(fill func(d *DDA, seq uint32) error) error {
	d := &r.slots[r.add]
	if d.State() != StateEmpty {
		return ErrRingFull
	}
	if err := fill(d, r.seq+1); err != nil {
		return err
	}
	r.seq++
	d.setState(StateProvisional)
	r.add = r.next(r.add)
	return nil
}

// IsFull reports whether TryEnqueue would fail for lack of a slot
func (r *Ring) IsFull() bool {
	return r.slots[r.add].State() != StateEmpty
}

// IsEmpty reports whether no slot is in use. get is read before the slot
// state and re-read afterwards so a reclaim landing between the two reads
// of a full ring is not mistaken for an empty one.
func (r *Ring) IsEmpty() bool {
	get := int(r.get.Load())
	if get != r.add {
		return false
	}
	if r.slots[r.add].State() != StateEmpty {
		return false
	}
	return int(r.get.Load()) == get
}

// PeekForExecution returns the descriptor at get if it is frozen
func (r *Ring) PeekForExecution() *DDA {
	d := &r.slots[r.get.Load()]
	if d.State() != StateFrozen {
		return nil
	}
	return d
}

// Reclaim releases the descriptor at get after it finished executing.
// get moves first so the task never sees a free slot the step engine still
// points at.
func (r *Ring) Reclaim() {
	get := int(r.get.Load())
	r.get.Store(int32(r.next(get)))
	r.slots[get].setState(StateEmpty)
}

// prepared counts frozen and executing descriptors
func (r *Ring) prepared() int {
	get := int(r.get.Load())
	if get == r.check {
		switch r.slots[get].State() {
		case StateFrozen, StateExecuting:
			return len(r.slots)
		}
		return 0
	}
	n := 0
	for i := get; i != r.check; i = r.next(i) {
		n++
	}
	return n
}

// occupancy counts slots in use
func (r *Ring) occupancy() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].State() != StateEmpty {
			n++
		}
	}
	return n
}

// reset empties every slot and rewinds the cursors.
// Interrupts must be disabled.
func (r *Ring) reset() {
	for i := range r.slots {
		r.slots[i].setState(StateEmpty)
	}
	r.add = 0
	r.check = 0
	r.get.Store(0)
}
