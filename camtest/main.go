// Command camtest opens the camera in a preview window and outlines every
// detected face, for checking camera access and detector tuning by eye.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"proctorcam/camera"
	"proctorcam/config"
	"proctorcam/detection"
	"proctorcam/diag"
	"proctorcam/overlay"
	"proctorcam/tracking"

	"gocv.io/x/gocv"
)

var (
	device          = flag.Int("device", 0, "Camera device index")
	cascade         = flag.String("cascade", config.Default().Detection.Cascade, "Haar cascade XML file")
	minSize         = flag.Int("min-size", detection.DefaultParams().MinSize, "Smallest face edge in pixels")
	minNeighbors    = flag.Int("min-neighbors", detection.DefaultParams().MinNeighbors, "Neighbours a candidate needs to be kept")
	terminalOverlay = flag.Bool("terminal-overlay", false, "Show recent debug messages in the upper-left corner")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	logger := diag.NewLogger(os.Stdout, "[CAMTEST]", true)
	detection.SetDebugFunction(logger.DebugMsg)

	fmt.Println("--- Starting Camera and Face Detection Test ---")
	fmt.Println("A window should appear showing your webcam feed.")
	fmt.Println("Press 'q' to quit.")

	params := detection.DefaultParams()
	params.MinSize = *minSize
	params.MinNeighbors = *minNeighbors

	provider, err := detection.NewCascadeProvider(config.ResolveResource(*cascade), params)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	defer provider.Close()
	fmt.Println("Face detector loaded successfully.")

	cam, err := camera.Open(*device)
	if err != nil {
		fmt.Printf("ERROR: Could not open webcam. Please check your camera: %v\n", err)
		return 1
	}
	defer func() {
		fmt.Println("Shutting down...")
		cam.Close()
	}()

	window := gocv.NewWindow("Face Detection Test")
	defer window.Close()

	preview := gocv.NewMat()
	defer preview.Close()

	tracker := tracking.NewTracker(tracking.DefaultConfirmationThreshold)
	renderer := overlay.NewRenderer()
	lastFrame := time.Now()

	for {
		frame, err := cam.Read()
		if err != nil {
			fmt.Println("Failed to grab frame.")
			return 1
		}

		result, err := provider.Detect(frame)
		if err != nil {
			logger.DebugMsg("DETECTION", fmt.Sprintf("Error during face detection: %v", err))
			continue
		}
		if change, ok := tracker.Observe(result.Count()); ok {
			logger.DebugMsg("TRACKING", fmt.Sprintf("%s (%s)", change, change.Status()))
		}

		now := time.Now()
		renderer.UpdateAnimation(now.Sub(lastFrame).Seconds())
		lastFrame = now

		frame.CopyTo(&preview)
		renderer.DrawFaces(&preview, result.Rects, tracker.Confirmed())
		renderer.DrawStatus(&preview, result.Count(), tracker)
		if *terminalOverlay {
			renderer.DrawTerminal(&preview, logger.Recent(12))
		}

		window.IMShow(preview)
		if window.WaitKey(1)&0xFF == 'q' {
			return 0
		}
	}
}
