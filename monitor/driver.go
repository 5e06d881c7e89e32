package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"proctorcam/events"
	"proctorcam/tracking"
)

var (
	// ErrCameraUnavailable means the camera could not be opened
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrCameraLost means the camera disconnected while running
	ErrCameraLost = errors.New("camera connection lost")
)

// User facing messages of the agent_status events
const (
	msgCameraOpenFailed = "Could not open webcam. Check camera permissions and connections."
	msgStarted          = "Vision agent started successfully."
	msgCameraLost       = "Webcam connection was lost."
	msgCritical         = "A critical error occurred in the vision agent: %v"
	msgShutdown         = "Vision agent is shutting down."
)

// Driver owns one monitoring session: it opens the camera, polls it at a
// fixed cadence, feeds face counts through the debouncing tracker and
// guarantees a final shutdown event on every exit path.
type Driver[F any] struct {
	settings Settings
	deps     Deps[F]
	tracker  *tracking.Tracker
}

// NewDriver validates deps and fills zero settings with the defaults
func NewDriver[F any](settings Settings, deps Deps[F]) (*Driver[F], error) {
	switch {
	case deps.OpenCamera == nil:
		return nil, fmt.Errorf("monitor: OpenCamera is required")
	case deps.NewDetector == nil:
		return nil, fmt.Errorf("monitor: NewDetector is required")
	case deps.Encoder == nil:
		return nil, fmt.Errorf("monitor: Encoder is required")
	case deps.Sink == nil:
		return nil, fmt.Errorf("monitor: Sink is required")
	}

	def := DefaultSettings()
	if settings.TickInterval <= 0 {
		settings.TickInterval = def.TickInterval
	}
	if settings.ReadBackoff <= 0 {
		settings.ReadBackoff = def.ReadBackoff
	}
	if settings.DetectBackoff <= 0 {
		settings.DetectBackoff = def.DetectBackoff
	}
	if settings.SnapshotInterval <= 0 {
		settings.SnapshotInterval = def.SnapshotInterval
	}
	if settings.ConfirmationThreshold < 1 {
		settings.ConfirmationThreshold = def.ConfirmationThreshold
	}
	if settings.SnapshotFormat == "" {
		settings.SnapshotFormat = def.SnapshotFormat
	}

	if deps.Debug == nil {
		deps.Debug = func(string, string) {}
	}
	if deps.DebugVerbose == nil {
		deps.DebugVerbose = func(string, string) {}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}

	return &Driver[F]{settings: settings, deps: deps}, nil
}

// Settings returns the effective settings
func (d *Driver[F]) Settings() Settings {
	return d.settings
}

// Run executes the session until the camera fails, ctx is cancelled, an
// unexpected error occurs, or the sink breaks. It returns nil for an
// orderly stop, ErrCameraUnavailable or ErrCameraLost (already reported),
// the unexpected error, or an error wrapping events.ErrSinkClosed.
func (d *Driver[F]) Run(ctx context.Context) error {
	var cam Camera[F]
	err := d.session(ctx, &cam)
	return d.shutdown(cam, err)
}

// session covers Init and Running. The camera is handed out through cam
// as soon as it exists so shutdown can release it whatever happens here.
func (d *Driver[F]) session(ctx context.Context, cam *Camera[F]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	opened, err := d.deps.OpenCamera()
	if opened != nil {
		*cam = opened
	}
	if err != nil || opened == nil || !opened.IsOpened() {
		if err != nil {
			d.deps.Debug("CAMERA", fmt.Sprintf("Could not open webcam: %v", err))
		}
		if emitErr := d.emit(events.StatusError, msgCameraOpenFailed); emitErr != nil {
			return emitErr
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}
		return ErrCameraUnavailable
	}

	detector, err := d.deps.NewDetector()
	if err != nil {
		return fmt.Errorf("initialize face detector: %w", err)
	}
	if closer, ok := detector.(io.Closer); ok {
		defer closer.Close()
	}

	d.tracker = tracking.NewTracker(d.settings.ConfirmationThreshold)

	if err := d.emit(events.StatusOK, msgStarted); err != nil {
		return err
	}
	d.deps.Debug("MONITOR", "Main monitoring loop started.")

	return d.loop(ctx, opened, detector)
}

func (d *Driver[F]) loop(ctx context.Context, cam Camera[F], detector Detector[F]) error {
	var lastSnapshot time.Time

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !cam.IsOpened() {
			if err := d.emit(events.StatusError, msgCameraLost); err != nil {
				return err
			}
			return ErrCameraLost
		}

		frame, err := cam.Read()
		if err != nil {
			d.deps.DebugVerbose("CAMERA", fmt.Sprintf("Frame read failed: %v", err))
			if err := d.deps.Sleep(ctx, d.settings.ReadBackoff); err != nil {
				return err
			}
			continue
		}

		count, err := detector.CountFaces(frame)
		if err == nil && count < 0 {
			err = fmt.Errorf("detector returned negative face count %d", count)
		}
		if err != nil {
			d.deps.Debug("DETECTION", fmt.Sprintf("Error during face detection: %v", err))
			if err := d.deps.Sleep(ctx, d.settings.DetectBackoff); err != nil {
				return err
			}
			continue
		}
		d.deps.DebugVerbose("DETECTION", fmt.Sprintf("%d faces in frame", count))

		if change, ok := d.tracker.Observe(count); ok {
			d.deps.Debug("TRACKING", fmt.Sprintf("State change confirmed: %s. Sending event.", change))
			e := events.FaceDetection(d.deps.Now(), change.Status(), change.To, change.Message())
			if err := d.deps.Sink.Emit(e); err != nil {
				return err
			}
		}

		if err := d.captureSnapshot(frame, &lastSnapshot); err != nil {
			return err
		}

		if err := d.deps.Sleep(ctx, d.settings.TickInterval); err != nil {
			return err
		}
	}
}

// captureSnapshot emits a still frame when more than SnapshotInterval has
// passed since the last successful one. The timer only moves on success,
// so a failing encoder is retried on the following tick.
func (d *Driver[F]) captureSnapshot(frame F, last *time.Time) error {
	now := d.deps.Now()
	if !last.IsZero() && now.Sub(*last) <= d.settings.SnapshotInterval {
		return nil
	}

	d.deps.Debug("SNAPSHOT", "Capturing periodic camera frame.")
	data, err := d.deps.Encoder.EncodeBase64(frame)
	if err != nil {
		d.deps.DebugVerbose("SNAPSHOT", fmt.Sprintf("Snapshot skipped: %v", err))
		return nil
	}
	if data == "" {
		return nil
	}

	if err := d.deps.Sink.Emit(events.FrameCapture(now, d.settings.SnapshotFormat, data)); err != nil {
		return err
	}
	*last = now
	return nil
}

// shutdown reports an unexpected cause, releases the camera and emits the
// final shutdown event. A broken sink suppresses all further emission.
func (d *Driver[F]) shutdown(cam Camera[F], cause error) error {
	sinkClosed := errors.Is(cause, events.ErrSinkClosed)

	if !sinkClosed && unexpected(cause) {
		d.deps.Debug("MONITOR", fmt.Sprintf("CRITICAL ERROR: %v", cause))
		if err := d.emit(events.StatusError, fmt.Sprintf(msgCritical, cause)); errors.Is(err, events.ErrSinkClosed) {
			sinkClosed = true
			cause = err
		}
	}

	d.deps.Debug("SHUTDOWN", "Shutdown sequence initiated.")
	if cam != nil {
		if err := cam.Close(); err != nil {
			d.deps.Debug("SHUTDOWN", fmt.Sprintf("Camera release failed: %v", err))
		}
	}

	if !sinkClosed {
		if err := d.emit(events.StatusShutdown, msgShutdown); errors.Is(err, events.ErrSinkClosed) {
			return err
		}
	}

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return nil
	}
	return cause
}

func (d *Driver[F]) emit(status events.Status, message string) error {
	return d.deps.Sink.Emit(events.AgentStatus(d.deps.Now(), status, message))
}

// unexpected reports whether cause still needs a critical error event
func unexpected(cause error) bool {
	switch {
	case cause == nil:
		return false
	case errors.Is(cause, ErrCameraUnavailable), errors.Is(cause, ErrCameraLost):
		return false
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return false
	}
	return true
}
