package tracking

// Tracker debounces per-frame face counts. A count that differs from the
// last confirmed one must be seen on threshold consecutive observations
// before it is confirmed. Observe is not safe for concurrent use.
type Tracker struct {
	threshold int

	confirmed Count
	pending   int
	streak    int // 0 means no candidate
}

// NewTracker creates a tracker in the unknown state. A threshold below 1
// falls back to DefaultConfirmationThreshold.
func NewTracker(threshold int) *Tracker {
	if threshold < 1 {
		threshold = DefaultConfirmationThreshold
	}
	return &Tracker{threshold: threshold}
}

// Observe feeds the face count seen on one tick. It returns the confirmed
// change, if this observation completes one.
func (t *Tracker) Observe(current int) (Change, bool) {
	if t.confirmed.Known && current == t.confirmed.Value {
		t.resetPending()
		return Change{}, false
	}

	if t.streak > 0 && current == t.pending {
		t.streak++
	} else {
		t.pending = current
		t.streak = 1
	}

	if t.streak < t.threshold {
		return Change{}, false
	}

	change := Change{From: t.confirmed, To: current}
	t.confirmed = KnownCount(current)
	t.resetPending()
	return change, true
}

// Confirmed returns the last confirmed count
func (t *Tracker) Confirmed() Count {
	return t.confirmed
}

// Pending returns the candidate count and its streak. ok is false when no
// candidate is accumulating.
func (t *Tracker) Pending() (count, streak int, ok bool) {
	if t.streak == 0 {
		return 0, 0, false
	}
	return t.pending, t.streak, true
}

// Threshold returns the confirmation threshold in use
func (t *Tracker) Threshold() int {
	return t.threshold
}

func (t *Tracker) resetPending() {
	t.pending = 0
	t.streak = 0
}
