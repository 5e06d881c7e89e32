package detection

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// DetectionResult represents the faces found in one frame
type DetectionResult struct {
	Rects []image.Rectangle
}

// Count returns the number of detected faces
func (r *DetectionResult) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Rects)
}

// Global debug function for detection package
var debugMsgFunc func(string, string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// FaceProvider defines the interface for face detection
type FaceProvider interface {
	Initialize(cascadePath string) error
	Detect(frame gocv.Mat) (*DetectionResult, error)
	Close() error
	GetProviderInfo() ProviderInfo
}

// ProviderInfo contains information about the detection provider
type ProviderInfo struct {
	Type     string        // "CPU"
	Backend  string        // detector implementation
	Model    string        // model file in use
	InitTime time.Duration // Time taken to initialize
}

// Params tunes the multi-scale detection
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

// DefaultParams favour stability over recall: a slightly lenient neighbour
// count keeps turned faces, a 60px floor drops small false positives
func DefaultParams() Params {
	return Params{
		ScaleFactor:  1.1,
		MinNeighbors: 4,
		MinSize:      60,
	}
}

// testProvider performs a quick test detection to verify the provider works
func testProvider(provider FaceProvider) error {
	// Create a small blank test frame
	testFrame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer testFrame.Close()

	_, err := provider.Detect(testFrame)
	return err
}
