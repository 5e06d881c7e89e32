package tracking

import (
	"fmt"

	"proctorcam/events"
)

// DefaultConfirmationThreshold is how many consecutive identical
// observations a new face count needs before it is reported
const DefaultConfirmationThreshold = 3

// Count is a face count that may not be known yet
type Count struct {
	Value int
	Known bool
}

// Unknown is the state before any count has been confirmed
var Unknown = Count{}

// KnownCount wraps n as a known count
func KnownCount(n int) Count {
	return Count{Value: n, Known: true}
}

func (c Count) String() string {
	if !c.Known {
		return "unknown"
	}
	return fmt.Sprintf("%d", c.Value)
}

// Change is a confirmed transition of the face count
type Change struct {
	From Count
	To   int
}

// Status maps the confirmed count to the severity reported downstream
func (c Change) Status() events.Status {
	switch {
	case c.To == 0:
		return events.StatusSuspicious
	case c.To == 1:
		return events.StatusOK
	default:
		return events.StatusViolation
	}
}

// Message is the human readable text sent with the change
func (c Change) Message() string {
	switch {
	case c.To == 0:
		return "No face detected."
	case c.To == 1:
		return "Single face detected."
	default:
		return "Multiple faces detected."
	}
}

func (c Change) String() string {
	return fmt.Sprintf("%s -> %d faces", c.From, c.To)
}
