package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctorcam/events"
)

// frame is a scripted camera frame: what the detector will report for it
type frame struct {
	faces     int
	readErr   error
	detectErr error
	panicMsg  string
}

func faces(counts ...int) []frame {
	out := make([]frame, len(counts))
	for i, n := range counts {
		out[i] = frame{faces: n}
	}
	return out
}

func repeat(f frame, n int) []frame {
	out := make([]frame, n)
	for i := range out {
		out[i] = f
	}
	return out
}

// fakeCamera plays back frames and disconnects when the script runs out
type fakeCamera struct {
	frames     []frame
	next       int
	neverOpen  bool
	closeCalls int
}

func (c *fakeCamera) IsOpened() bool {
	return !c.neverOpen && c.closeCalls == 0 && c.next < len(c.frames)
}

func (c *fakeCamera) Read() (frame, error) {
	f := c.frames[c.next]
	c.next++
	if f.readErr != nil {
		return frame{}, f.readErr
	}
	return f, nil
}

func (c *fakeCamera) Close() error {
	c.closeCalls++
	return nil
}

type fakeDetector struct {
	calls  int
	closed int
}

func (d *fakeDetector) CountFaces(f frame) (int, error) {
	d.calls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.faces, f.detectErr
}

func (d *fakeDetector) Close() error {
	d.closed++
	return nil
}

type fakeEncoder struct {
	calls  int
	encode func(call int) (string, error)
}

func (e *fakeEncoder) EncodeBase64(frame) (string, error) {
	e.calls++
	if e.encode == nil {
		return "c25hcHNob3Q=", nil
	}
	return e.encode(e.calls)
}

// recordingSink keeps emitted events; after failAfter successful emits
// every call fails as a closed pipe would
type recordingSink struct {
	events    []events.Event
	attempts  int
	failAfter int // < 0 never fails
}

func (s *recordingSink) Emit(e events.Event) error {
	s.attempts++
	if s.failAfter >= 0 && len(s.events) >= s.failAfter {
		return fmt.Errorf("%w: %v", events.ErrSinkClosed, syscall.EPIPE)
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) ofActivity(activity string) []events.Event {
	var out []events.Event
	for _, e := range s.events {
		if e.Activity == activity {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) count(status events.Status) int {
	n := 0
	for _, e := range s.events {
		if e.Status == status {
			n++
		}
	}
	return n
}

// fakeClock advances only when the driver sleeps
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	onTick func(n int) // called after every sleep
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	if c.onTick != nil {
		c.onTick(len(c.sleeps))
	}
	return ctx.Err()
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	cam      *fakeCamera
	det      *fakeDetector
	enc      *fakeEncoder
	sink     *recordingSink
	clock    *fakeClock
	openErr  error
	detErr   error
	debug    []string
	settings Settings
}

func newHarness(frames []frame) *harness {
	return &harness{
		cam:      &fakeCamera{frames: frames},
		det:      &fakeDetector{},
		enc:      &fakeEncoder{},
		sink:     &recordingSink{failAfter: -1},
		clock:    &fakeClock{now: t0},
		settings: DefaultSettings(),
	}
}

func (h *harness) run(t *testing.T, ctx context.Context) error {
	t.Helper()
	d, err := NewDriver(h.settings, Deps[frame]{
		OpenCamera: func() (Camera[frame], error) {
			if h.openErr != nil {
				return nil, h.openErr
			}
			return h.cam, nil
		},
		NewDetector: func() (Detector[frame], error) {
			if h.detErr != nil {
				return nil, h.detErr
			}
			return h.det, nil
		},
		Encoder: h.enc,
		Sink:    h.sink,
		Debug: func(component, message string) {
			h.debug = append(h.debug, component+": "+message)
		},
		Now:   h.clock.Now,
		Sleep: h.clock.Sleep,
	})
	require.NoError(t, err)
	return d.Run(ctx)
}

func (h *harness) debugContains(substr string) bool {
	for _, line := range h.debug {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

type wantEvent struct {
	activity string
	status   events.Status
}

func assertSequence(t *testing.T, got []events.Event, want []wantEvent) {
	t.Helper()
	seq := make([]wantEvent, len(got))
	for i, e := range got {
		seq[i] = wantEvent{activity: e.Activity, status: e.Status}
	}
	if diff := cmp.Diff(want, seq, cmp.AllowUnexported(wantEvent{})); diff != "" {
		t.Fatalf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRunReportsConfirmedChanges(t *testing.T) {
	h := newHarness(faces(1, 1, 1, 2, 2, 2, 2, 0, 0, 0))

	err := h.run(t, context.Background())
	assert.ErrorIs(t, err, ErrCameraLost)

	assertSequence(t, h.sink.events, []wantEvent{
		{events.ActivityAgentStatus, events.StatusOK},
		{events.ActivityFrameCapture, events.StatusInfo},
		{events.ActivityFaceDetection, events.StatusOK},
		{events.ActivityFaceDetection, events.StatusViolation},
		{events.ActivityFaceDetection, events.StatusSuspicious},
		{events.ActivityAgentStatus, events.StatusError},
		{events.ActivityAgentStatus, events.StatusShutdown},
	})

	face := h.sink.ofActivity(events.ActivityFaceDetection)
	assert.Equal(t, map[string]interface{}{"faceCount": 1, "message": "Single face detected."}, face[0].Details)
	assert.Equal(t, map[string]interface{}{"faceCount": 2, "message": "Multiple faces detected."}, face[1].Details)
	assert.Equal(t, map[string]interface{}{"faceCount": 0, "message": "No face detected."}, face[2].Details)

	// the single face confirms on the third tick, 1s after start
	assert.Equal(t, t0.Add(time.Second).UnixMilli(), face[0].Timestamp)

	assert.Equal(t, "Vision agent started successfully.", h.sink.events[0].Details["message"])
	assert.Equal(t, "Webcam connection was lost.", h.sink.events[5].Details["message"])
	assert.Equal(t, "Vision agent is shutting down.", h.sink.events[6].Details["message"])

	assert.Equal(t, 1, h.cam.closeCalls)
	assert.Equal(t, 1, h.det.closed)
	assert.True(t, h.debugContains("Main monitoring loop started."))
	assert.True(t, h.debugContains("State change confirmed: unknown -> 1 faces"))
	assert.True(t, h.debugContains("Shutdown sequence initiated."))
}

func TestRunCameraOpenFailure(t *testing.T) {
	t.Run("open error", func(t *testing.T) {
		h := newHarness(nil)
		h.openErr = errors.New("device busy")

		err := h.run(t, context.Background())
		assert.ErrorIs(t, err, ErrCameraUnavailable)
		assert.Contains(t, err.Error(), "device busy")

		assertSequence(t, h.sink.events, []wantEvent{
			{events.ActivityAgentStatus, events.StatusError},
			{events.ActivityAgentStatus, events.StatusShutdown},
		})
		assert.Equal(t, "Could not open webcam. Check camera permissions and connections.",
			h.sink.events[0].Details["message"])
		assert.Equal(t, 0, h.cam.closeCalls)
		assert.Equal(t, 0, h.det.calls)
	})

	t.Run("handle not open", func(t *testing.T) {
		h := newHarness(faces(1, 1, 1))
		h.cam.neverOpen = true

		err := h.run(t, context.Background())
		assert.ErrorIs(t, err, ErrCameraUnavailable)

		assertSequence(t, h.sink.events, []wantEvent{
			{events.ActivityAgentStatus, events.StatusError},
			{events.ActivityAgentStatus, events.StatusShutdown},
		})
		assert.Equal(t, 1, h.cam.closeCalls, "a held handle is released even if never opened")
	})
}

func TestRunDetectorErrorsAreRecoverable(t *testing.T) {
	h := newHarness(repeat(frame{detectErr: errors.New("cascade hiccup")}, 20))

	err := h.run(t, context.Background())
	assert.ErrorIs(t, err, ErrCameraLost)

	assertSequence(t, h.sink.events, []wantEvent{
		{events.ActivityAgentStatus, events.StatusOK},
		{events.ActivityAgentStatus, events.StatusError},
		{events.ActivityAgentStatus, events.StatusShutdown},
	})
	assert.Equal(t, 20, h.det.calls)
	require.Len(t, h.clock.sleeps, 20)
	for _, d := range h.clock.sleeps {
		assert.Equal(t, time.Second, d)
	}
	assert.Equal(t, 0, h.enc.calls, "failed detection skips the snapshot")
	assert.True(t, h.debugContains("Error during face detection: cascade hiccup"))
	assert.Equal(t, 1, h.cam.closeCalls)
}

func TestRunNegativeCountIsRecoverable(t *testing.T) {
	h := newHarness(faces(-1, 1, 1, 1))

	require.ErrorIs(t, h.run(t, context.Background()), ErrCameraLost)
	assert.Len(t, h.sink.ofActivity(events.ActivityFaceDetection), 1)
	assert.True(t, h.debugContains("negative face count"))
}

func TestRunReadFailuresDoNotFeedTracker(t *testing.T) {
	miss := frame{readErr: errors.New("no frame")}
	h := newHarness([]frame{miss, {faces: 1}, miss, {faces: 1}, miss, {faces: 1}})

	err := h.run(t, context.Background())
	assert.ErrorIs(t, err, ErrCameraLost)

	face := h.sink.ofActivity(events.ActivityFaceDetection)
	require.Len(t, face, 1, "missed frames neither count nor reset the streak")
	assert.Equal(t, events.StatusOK, face[0].Status)
	assert.Equal(t, 3, h.det.calls)

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, 500 * time.Millisecond, // miss, tick
		500 * time.Millisecond, 500 * time.Millisecond,
		500 * time.Millisecond, 500 * time.Millisecond,
	}, h.clock.sleeps)
}

func TestRunUnexpectedPanic(t *testing.T) {
	h := newHarness([]frame{{faces: 1}, {panicMsg: "detector exploded"}, {faces: 1}})

	err := h.run(t, context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detector exploded")

	assertSequence(t, h.sink.events, []wantEvent{
		{events.ActivityAgentStatus, events.StatusOK},
		{events.ActivityFrameCapture, events.StatusInfo},
		{events.ActivityAgentStatus, events.StatusError},
		{events.ActivityAgentStatus, events.StatusShutdown},
	})
	assert.Equal(t, "A critical error occurred in the vision agent: panic: detector exploded",
		h.sink.events[2].Details["message"])
	assert.Equal(t, 1, h.cam.closeCalls)
	assert.True(t, h.debugContains("CRITICAL ERROR"))
}

func TestRunDetectorInitFailure(t *testing.T) {
	h := newHarness(faces(1, 1, 1))
	h.detErr = errors.New("cascade model not found")

	err := h.run(t, context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cascade model not found")

	assertSequence(t, h.sink.events, []wantEvent{
		{events.ActivityAgentStatus, events.StatusError},
		{events.ActivityAgentStatus, events.StatusShutdown},
	})
	assert.Contains(t, h.sink.events[0].Details["message"], "initialize face detector")
	assert.Equal(t, 1, h.cam.closeCalls)
}

func TestRunContextCancelStopsCleanly(t *testing.T) {
	h := newHarness(faces(1, 1, 1, 1, 1, 1, 1, 1, 1, 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onTick = func(n int) {
		if n == 4 {
			cancel()
		}
	}

	err := h.run(t, ctx)
	assert.NoError(t, err)

	assert.Equal(t, 0, h.sink.count(events.StatusError))
	assert.Equal(t, 1, h.sink.count(events.StatusShutdown))
	last := h.sink.events[len(h.sink.events)-1]
	assert.Equal(t, events.StatusShutdown, last.Status)
	assert.Equal(t, 4, h.det.calls)
	assert.Equal(t, 1, h.cam.closeCalls)
}

func TestSnapshotGating(t *testing.T) {
	h := newHarness(repeat(frame{faces: 1}, 250))

	require.ErrorIs(t, h.run(t, context.Background()), ErrCameraLost)

	snaps := h.sink.ofActivity(events.ActivityFrameCapture)
	require.Len(t, snaps, 3)
	assert.Equal(t, t0.UnixMilli(), snaps[0].Timestamp)
	assert.Equal(t, t0.Add(60500*time.Millisecond).UnixMilli(), snaps[1].Timestamp)
	assert.Equal(t, t0.Add(121*time.Second).UnixMilli(), snaps[2].Timestamp)

	for i := 1; i < len(snaps); i++ {
		gap := time.Duration(snaps[i].Timestamp-snaps[i-1].Timestamp) * time.Millisecond
		assert.Greater(t, gap, 60*time.Second)
	}
	assert.Equal(t, map[string]interface{}{"format": "jpeg", "data": "c25hcHNob3Q="}, snaps[0].Details)
	assert.Equal(t, 3, h.enc.calls)
}

func TestSnapshotRetriedEveryTickUntilSuccess(t *testing.T) {
	t.Run("encoder error", func(t *testing.T) {
		h := newHarness(repeat(frame{faces: 1}, 10))
		h.enc.encode = func(call int) (string, error) {
			if call <= 3 {
				return "", errors.New("imencode failed")
			}
			return "b2s=", nil
		}

		require.ErrorIs(t, h.run(t, context.Background()), ErrCameraLost)

		snaps := h.sink.ofActivity(events.ActivityFrameCapture)
		require.Len(t, snaps, 1)
		assert.Equal(t, t0.Add(1500*time.Millisecond).UnixMilli(), snaps[0].Timestamp)
		assert.Equal(t, 4, h.enc.calls)
	})

	t.Run("empty result", func(t *testing.T) {
		h := newHarness(repeat(frame{faces: 1}, 10))
		h.enc.encode = func(call int) (string, error) {
			if call <= 2 {
				return "", nil
			}
			return "b2s=", nil
		}

		require.ErrorIs(t, h.run(t, context.Background()), ErrCameraLost)

		snaps := h.sink.ofActivity(events.ActivityFrameCapture)
		require.Len(t, snaps, 1)
		assert.Equal(t, t0.Add(time.Second).UnixMilli(), snaps[0].Timestamp)
		assert.Equal(t, 3, h.enc.calls)
	})
}

func TestRunSinkFailureStopsEmission(t *testing.T) {
	t.Run("mid session", func(t *testing.T) {
		h := newHarness(faces(1, 1, 1, 1, 1))
		h.sink.failAfter = 1 // only the start event gets through

		err := h.run(t, context.Background())
		assert.ErrorIs(t, err, events.ErrSinkClosed)
		assert.Equal(t, 2, h.sink.attempts, "nothing is emitted after the sink broke")
		assert.Equal(t, 1, h.cam.closeCalls)
		assert.Equal(t, 1, h.det.calls)
	})

	t.Run("first event", func(t *testing.T) {
		h := newHarness(nil)
		h.openErr = errors.New("no device")
		h.sink.failAfter = 0

		err := h.run(t, context.Background())
		assert.ErrorIs(t, err, events.ErrSinkClosed)
		assert.Equal(t, 1, h.sink.attempts)
	})

	t.Run("during critical report", func(t *testing.T) {
		h := newHarness([]frame{{panicMsg: "boom"}})
		h.sink.failAfter = 1

		err := h.run(t, context.Background())
		assert.ErrorIs(t, err, events.ErrSinkClosed)
		assert.Equal(t, 2, h.sink.attempts)
		assert.Equal(t, 1, h.cam.closeCalls)
	})

	t.Run("json emitter on broken pipe", func(t *testing.T) {
		h := newHarness(faces(1, 1, 1))
		em := events.NewEmitter(brokenWriter{})
		d, err := NewDriver(h.settings, Deps[frame]{
			OpenCamera:  func() (Camera[frame], error) { return h.cam, nil },
			NewDetector: func() (Detector[frame], error) { return h.det, nil },
			Encoder:     h.enc,
			Sink:        em,
			Now:         h.clock.Now,
			Sleep:       h.clock.Sleep,
		})
		require.NoError(t, err)

		err = d.Run(context.Background())
		assert.ErrorIs(t, err, events.ErrSinkClosed)
		assert.True(t, em.Closed())
		assert.Equal(t, 1, h.cam.closeCalls)
		assert.Equal(t, 0, h.det.calls)
	})
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, syscall.EPIPE }

// TestEveryRunEndsWithOneShutdown covers the cleanup guarantee across the
// exit routes of a session
func TestEveryRunEndsWithOneShutdown(t *testing.T) {
	tests := []struct {
		name   string
		frames []frame
		setup  func(h *harness, cancel context.CancelFunc)
	}{
		{
			name:   "cancelled",
			frames: faces(1, 1, 1, 1, 1, 1),
			setup: func(h *harness, cancel context.CancelFunc) {
				h.clock.onTick = func(n int) {
					if n == 3 {
						cancel()
					}
				}
			},
		},
		{name: "camera lost", frames: faces(1, 0, 0, 0)},
		{name: "detector error storm", frames: repeat(frame{detectErr: errors.New("fail")}, 50)},
		{name: "unexpected panic", frames: []frame{{faces: 2}, {faces: 2}, {panicMsg: "segfault"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.frames)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.setup != nil {
				tt.setup(h, cancel)
			}

			_ = h.run(t, ctx)

			assert.Equal(t, 1, h.sink.count(events.StatusShutdown))
			last := h.sink.events[len(h.sink.events)-1]
			assert.Equal(t, events.StatusShutdown, last.Status)
			assert.Equal(t, 1, h.cam.closeCalls)
		})
	}
}

func TestNewDriver(t *testing.T) {
	enc := &fakeEncoder{}
	sink := &recordingSink{failAfter: -1}
	open := func() (Camera[frame], error) { return &fakeCamera{}, nil }
	newDet := func() (Detector[frame], error) { return &fakeDetector{}, nil }

	t.Run("missing deps", func(t *testing.T) {
		_, err := NewDriver(Settings{}, Deps[frame]{NewDetector: newDet, Encoder: enc, Sink: sink})
		assert.ErrorContains(t, err, "OpenCamera")
		_, err = NewDriver(Settings{}, Deps[frame]{OpenCamera: open, Encoder: enc, Sink: sink})
		assert.ErrorContains(t, err, "NewDetector")
		_, err = NewDriver(Settings{}, Deps[frame]{OpenCamera: open, NewDetector: newDet, Sink: sink})
		assert.ErrorContains(t, err, "Encoder")
		_, err = NewDriver(Settings{}, Deps[frame]{OpenCamera: open, NewDetector: newDet, Encoder: enc})
		assert.ErrorContains(t, err, "Sink")
	})

	t.Run("zero settings use defaults", func(t *testing.T) {
		d, err := NewDriver(Settings{}, Deps[frame]{OpenCamera: open, NewDetector: newDet, Encoder: enc, Sink: sink})
		require.NoError(t, err)
		assert.Equal(t, DefaultSettings(), d.Settings())
	})

	t.Run("explicit settings kept", func(t *testing.T) {
		s := Settings{
			TickInterval:          time.Second,
			ReadBackoff:           time.Millisecond,
			DetectBackoff:         2 * time.Second,
			SnapshotInterval:      time.Minute,
			ConfirmationThreshold: 5,
			SnapshotFormat:        "jpeg",
		}
		d, err := NewDriver(s, Deps[frame]{OpenCamera: open, NewDetector: newDet, Encoder: enc, Sink: sink})
		require.NoError(t, err)
		assert.Equal(t, s, d.Settings())
	})
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
