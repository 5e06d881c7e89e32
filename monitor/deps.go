package monitor

import (
	"context"
	"time"

	"proctorcam/events"
)

// Camera is an opened frame source. F is the frame type, gocv.Mat in
// production.
type Camera[F any] interface {
	IsOpened() bool
	// Read returns the next frame. An error is a missed frame, not a
	// disconnect; disconnects show up through IsOpened.
	Read() (F, error)
	Close() error
}

// Detector counts faces in a frame. Every error it returns is treated as
// recoverable: the tick is skipped after a backoff.
type Detector[F any] interface {
	CountFaces(frame F) (int, error)
}

// Encoder renders a frame as base64 text. An error or an empty string
// skips the snapshot.
type Encoder[F any] interface {
	EncodeBase64(frame F) (string, error)
}

// Sink receives events. An error wrapping events.ErrSinkClosed stops the
// agent immediately.
type Sink interface {
	Emit(e events.Event) error
}

// DebugFunc writes one diagnostic line
type DebugFunc func(component, message string)

// Deps are the collaborators of a Driver
type Deps[F any] struct {
	OpenCamera  func() (Camera[F], error)
	NewDetector func() (Detector[F], error)
	Encoder     Encoder[F]
	Sink        Sink

	Debug        DebugFunc // optional
	DebugVerbose DebugFunc // optional, per-tick detail

	// Clock overrides for tests; nil uses the wall clock
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Settings are the fixed timings of the loop
type Settings struct {
	TickInterval          time.Duration
	ReadBackoff           time.Duration
	DetectBackoff         time.Duration
	SnapshotInterval      time.Duration
	ConfirmationThreshold int
	SnapshotFormat        string
}

// DefaultSettings returns the timings the parent process is built around
func DefaultSettings() Settings {
	return Settings{
		TickInterval:          500 * time.Millisecond,
		ReadBackoff:           500 * time.Millisecond,
		DetectBackoff:         time.Second,
		SnapshotInterval:      60 * time.Second,
		ConfirmationThreshold: 3,
		SnapshotFormat:        "jpeg",
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
