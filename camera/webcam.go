// Package camera wraps an OpenCV capture device as the agent's frame source.
package camera

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

var (
	// ErrNoFrame means a read returned nothing usable; the next read may succeed
	ErrNoFrame = errors.New("no frame available")

	// ErrClosed means the webcam was already released
	ErrClosed = errors.New("webcam closed")
)

// Webcam is an opened capture device. Read reuses one frame buffer, so a
// returned Mat is only valid until the next Read or Close.
type Webcam struct {
	device int
	vc     *gocv.VideoCapture
	frame  gocv.Mat
	mu     sync.Mutex
	closed bool
}

// Open opens the capture device with the given index
func Open(device int) (*Webcam, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		return nil, fmt.Errorf("open video capture device %d: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video capture device %d: device not opened", device)
	}

	// Keep the driver queue short so each read is close to real time
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	return &Webcam{
		device: device,
		vc:     vc,
		frame:  gocv.NewMat(),
	}, nil
}

// Device returns the capture device index
func (w *Webcam) Device() int {
	return w.device
}

// IsOpened reports whether the device is still connected
func (w *Webcam) IsOpened() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	return w.vc.IsOpened()
}

// Read grabs the next frame
func (w *Webcam) Read() (gocv.Mat, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return gocv.Mat{}, ErrClosed
	}
	if ok := w.vc.Read(&w.frame); !ok || w.frame.Empty() {
		return gocv.Mat{}, ErrNoFrame
	}
	return w.frame, nil
}

// Close releases the frame buffer and the device. Safe to call twice.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.frame.Close()
	return w.vc.Close()
}
