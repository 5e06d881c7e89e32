package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"proctorcam/camera"
	"proctorcam/config"
	"proctorcam/detection"
	"proctorcam/diag"
	"proctorcam/events"
	"proctorcam/monitor"
	"proctorcam/snapshot"

	"gocv.io/x/gocv"
)

var (
	// Command-line flags
	configPath   = flag.String("config", "", "Optional YAML config file\n\t\tExample: -config=/etc/proctorcam.yaml")
	deviceIndex  = flag.Int("device", -1, "Camera device index (omit flag for the configured device, default 0)")
	cascadeFile  = flag.String("cascade", "", "Haar cascade XML file (omit flag for haarcascade_frontalface_default.xml next to the binary)")
	debugVerbose = flag.Bool("debug-verbose", false, "Enable verbose debug output (per-frame face counts and skipped frames)")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *deviceIndex >= 0 {
		cfg.Camera.Device = *deviceIndex
	}
	if *cascadeFile != "" {
		cfg.Detection.Cascade = *cascadeFile
	}
	if *debugVerbose {
		cfg.Debug.Verbose = true
	}

	// Diagnostics are best effort; a parent that closed stderr is gone
	logger := diag.NewLogger(os.Stderr, cfg.Debug.Tag, cfg.Debug.Verbose)
	logger.SetOnBroken(func(error) { os.Exit(0) })
	detection.SetDebugFunction(logger.DebugMsg)

	// Broken stdout must surface as a write error, not a SIGPIPE death
	signal.Ignore(syscall.SIGPIPE)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The supervisor stops the agent with SIGTERM and expects the shutdown event
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.DebugMsg("SIGNAL", fmt.Sprintf("Received signal %v. Cleaning up...", sig))
		cancel()
	}()

	cascadePath := config.ResolveResource(cfg.Detection.Cascade)
	params := detection.Params{
		ScaleFactor:  cfg.Detection.ScaleFactor,
		MinNeighbors: cfg.Detection.MinNeighbors,
		MinSize:      cfg.Detection.MinSize,
	}

	driver, err := monitor.NewDriver(monitor.Settings{
		TickInterval:          cfg.Monitor.TickInterval,
		ReadBackoff:           cfg.Monitor.ReadBackoff,
		DetectBackoff:         cfg.Monitor.DetectBackoff,
		SnapshotInterval:      cfg.Snapshot.Interval,
		ConfirmationThreshold: cfg.Monitor.ConfirmationThreshold,
		SnapshotFormat:        snapshot.Format,
	}, monitor.Deps[gocv.Mat]{
		OpenCamera: func() (monitor.Camera[gocv.Mat], error) {
			logger.DebugMsg("CAMERA", fmt.Sprintf("Opening camera device %d", cfg.Camera.Device))
			cam, err := camera.Open(cfg.Camera.Device)
			if err != nil {
				return nil, err
			}
			return cam, nil
		},
		NewDetector: func() (monitor.Detector[gocv.Mat], error) {
			provider, err := detection.NewCascadeProvider(cascadePath, params)
			if err != nil {
				return nil, err
			}
			info := provider.GetProviderInfo()
			logger.DebugMsg("DETECTION", fmt.Sprintf("Using %s provider (%s)", info.Type, info.Backend))
			return provider, nil
		},
		Encoder:      snapshot.NewJPEGEncoder(cfg.Snapshot.Quality),
		Sink:         events.NewEmitter(os.Stdout),
		Debug:        logger.DebugMsg,
		DebugVerbose: logger.DebugMsgVerbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	err = driver.Run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, events.ErrSinkClosed):
		// Nobody is listening anymore; leave quietly
		return 0
	default:
		logger.DebugMsg("MAIN", fmt.Sprintf("Agent stopped: %v", err))
		return 1
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "proctorcam - webcam presence monitor")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Writes one JSON event per line to stdout and diagnostics to stderr.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  proctorcam [flags]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  proctorcam")
	fmt.Fprintln(out, "  proctorcam -device=1 -debug-verbose")
	fmt.Fprintln(out, "  proctorcam -config=proctorcam.yaml")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
}
