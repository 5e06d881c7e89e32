package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrSinkClosed means the consumer of the event stream is gone. Nothing
// more can be delivered and the agent should stop.
var ErrSinkClosed = errors.New("event sink closed")

// Emitter writes events as JSON lines
type Emitter struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool
}

// NewEmitter creates an emitter writing to w (normally os.Stdout)
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes e followed by a newline in a single write. A failed write
// latches the emitter closed; every later call returns ErrSinkClosed
// without touching the writer.
func (em *Emitter) Emit(e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Activity, err)
	}
	line = append(line, '\n')

	em.mu.Lock()
	defer em.mu.Unlock()

	if em.closed {
		return ErrSinkClosed
	}
	if _, err := em.w.Write(line); err != nil {
		em.closed = true
		return fmt.Errorf("%w: %v", ErrSinkClosed, err)
	}
	return nil
}

// Closed reports whether a previous write failed
func (em *Emitter) Closed() bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.closed
}
