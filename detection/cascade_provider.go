package detection

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrCascadeLoad means the cascade model could not be loaded
var ErrCascadeLoad = errors.New("failed to load cascade model")

// CascadeProvider implements face detection with an OpenCV Haar cascade
type CascadeProvider struct {
	params     Params
	classifier gocv.CascadeClassifier
	gray       gocv.Mat
	loaded     bool
	info       ProviderInfo
	mu         sync.Mutex
}

// NewCascadeProvider loads the cascade at path and verifies it with a test
// detection
func NewCascadeProvider(path string, params Params) (*CascadeProvider, error) {
	cp := &CascadeProvider{params: params}
	if err := cp.Initialize(path); err != nil {
		return nil, err
	}
	return cp, nil
}

// Initialize loads the cascade model file
func (cp *CascadeProvider) Initialize(cascadePath string) error {
	startTime := time.Now()

	if _, err := os.Stat(cascadePath); err != nil {
		return fmt.Errorf("%w: cascade model not found at %s: %v", ErrCascadeLoad, cascadePath, err)
	}

	if cp.params == (Params{}) {
		cp.params = DefaultParams()
	}

	cp.classifier = gocv.NewCascadeClassifier()
	if !cp.classifier.Load(cascadePath) {
		cp.classifier.Close()
		return fmt.Errorf("%w: %s", ErrCascadeLoad, cascadePath)
	}
	cp.gray = gocv.NewMat()
	cp.loaded = true

	if err := testProvider(cp); err != nil {
		cp.Close()
		return fmt.Errorf("cascade test detection failed: %w", err)
	}

	cp.info = ProviderInfo{
		Type:     "CPU",
		Backend:  "OpenCV Haar cascade",
		Model:    cascadePath,
		InitTime: time.Since(startTime),
	}
	debugMsg("DETECTION", fmt.Sprintf("Cascade provider initialized from %s (%v)", cascadePath, cp.info.InitTime))
	return nil
}

// Detect finds faces in a BGR frame. An empty frame has no faces.
func (cp *CascadeProvider) Detect(frame gocv.Mat) (result *DetectionResult, err error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.loaded {
		return nil, fmt.Errorf("cascade provider not initialized")
	}
	if frame.Empty() {
		return &DetectionResult{}, nil
	}

	// OpenCV assertions surface as panics through cgo; report them as a
	// failed detection instead of taking the loop down
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("face detection panicked: %v", r)
		}
	}()

	switch frame.Channels() {
	case 1:
		frame.CopyTo(&cp.gray)
	case 4:
		gocv.CvtColor(frame, &cp.gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(frame, &cp.gray, gocv.ColorBGRToGray)
	}

	minSize := image.Pt(cp.params.MinSize, cp.params.MinSize)
	rects := cp.classifier.DetectMultiScaleWithParams(cp.gray, cp.params.ScaleFactor, cp.params.MinNeighbors, 0, minSize, image.Point{})

	return &DetectionResult{Rects: rects}, nil
}

// CountFaces returns the number of faces in frame
func (cp *CascadeProvider) CountFaces(frame gocv.Mat) (int, error) {
	result, err := cp.Detect(frame)
	if err != nil {
		return 0, err
	}
	return result.Count(), nil
}

// Close releases the classifier
func (cp *CascadeProvider) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.loaded {
		return nil
	}
	cp.loaded = false
	cp.gray.Close()
	return cp.classifier.Close()
}

// GetProviderInfo returns information about the cascade provider
func (cp *CascadeProvider) GetProviderInfo() ProviderInfo {
	return cp.info
}
