package movement

import "math"

// pinnedEntry returns the speed the oldest provisional descriptor must
// start at: the exit speed of its frozen or executing predecessor, or zero
// when the machine is at rest.
func (r *Ring) pinnedEntry() float64 {
	prev := &r.slots[r.prev(r.check)]
	switch prev.State() {
	case StateFrozen, StateExecuting:
		return prev.exitSpeed
	}
	return 0
}

// lookAhead replans the n provisional descriptors from check to add.
//
// The backward pass starts from rest after the newest descriptor and raises
// entry speeds as far as each move can still brake to its successor's entry.
// The forward pass starts from the pinned entry speed and limits each exit
// to what the move can accelerate to, then computes the profiles.
func (r *Ring) lookAhead(n int) {
	if n == 0 {
		return
	}

	exit := 0.0
	i := r.prev(r.add)
	for k := 0; k < n; k++ {
		d := &r.slots[i]
		d.exitSpeed = exit
		entry := math.Sqrt(exit*exit + 2*d.accel*d.length)
		d.entrySpeed = math.Min(d.maxEntrySpeed, entry)
		exit = d.entrySpeed
		i = r.prev(i)
	}

	entry := r.pinnedEntry()
	i = r.check
	for k := 0; k < n; k++ {
		d := &r.slots[i]
		reach := entry*entry + 2*d.accel*d.length
		exit := math.Min(d.exitSpeed, math.Sqrt(reach))
		if brake := entry*entry - 2*d.accel*d.length; brake > exit*exit {
			exit = math.Sqrt(brake)
		}
		d.entrySpeed = entry
		d.exitSpeed = exit
		d.plan()
		entry = exit
		i = r.next(i)
	}
}

// freezeNext commits the descriptor at check and advances check
func (r *Ring) freezeNext() *DDA {
	d := &r.slots[r.check]
	d.setState(StateFrozen)
	r.check = r.next(r.check)
	return d
}
