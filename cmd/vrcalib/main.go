// Command vrcalib calibrates VR screen coordinates against a screen recording
// and repositions gaze samples into video pixels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"vr-screenmap/internal/calibrate"
	"vr-screenmap/internal/config"
	"vr-screenmap/internal/framesync"
	"vr-screenmap/internal/ocr"
	"vr-screenmap/internal/reposition"
	"vr-screenmap/internal/trial"
	"vr-screenmap/internal/version"
	"vr-screenmap/internal/video"
	"vr-screenmap/pkg/geometry"

	"gocv.io/x/gocv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "calibrate":
		err = handleCalibrate(ctx, args)
	case "reposition":
		err = handleReposition(ctx, args)
	case "select-roi":
		err = handleSelectROI(args)
	case "version":
		fmt.Printf("vrcalib version %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`vrcalib - map VR screen coordinates onto screen-recording pixels

Usage: vrcalib <command> [options] <args>

Commands:
  calibrate    <root_dir> <trial_name>            Fit a transform from a calibration video
  reposition   <root_dir> <positions> <video>     Map a positions table into video pixels
  select-roi   <video>                            Pick the frame-counter region interactively
  version                                         Show version
  help                                            Show this help message

Common Flags:
  -config <file>     Run configuration (JSON); flags override it
  -policy <p>        Frame sync policy: counter (OCR) or offset (timestamp)
  -roi x1,y1,x2,y2   Frame-counter region; selected interactively when omitted

Examples:
  vrcalib calibrate -policy counter -anchor ./anchor.png trials/p01 p01
  vrcalib calibrate -policy offset -offset 0.35 -targets calibration_ts.csv trials/p01 p01
  vrcalib reposition -o trials/p01 gaze.csv session.mp4`)
}

// loadConfig reads -config when given, or starts from an empty config.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// parseROI parses "x1,y1,x2,y2".
func parseROI(s string) (geometry.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Region{}, fmt.Errorf("roi %q: want x1,y1,x2,y2", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geometry.Region{}, fmt.Errorf("roi %q: %w", s, err)
		}
		v[i] = n
	}
	r := geometry.NewRegion(geometry.PointInt{X: v[0], Y: v[1]}, geometry.PointInt{X: v[2], Y: v[3]})
	if r.Empty() {
		return r, fmt.Errorf("roi %q has no area", s)
	}
	return r, nil
}

// selectROI shows the first frame of videoPath and lets the user drag the
// counter region.
func selectROI(videoPath string) (geometry.Region, error) {
	capture, err := video.Open(videoPath)
	if err != nil {
		return geometry.Region{}, err
	}
	defer capture.Close()

	first := gocv.NewMat()
	defer first.Close()
	if !capture.Read(&first) {
		return geometry.Region{}, fmt.Errorf("could not read first frame of %s", videoPath)
	}
	tl, br, err := ocr.SelectRegion(first, ocr.WindowInput{Title: "Select frame counter"})
	if err != nil {
		return geometry.Region{}, err
	}
	log.Printf("ROI coordinates: %v %v", tl, br)
	return geometry.NewRegion(tl, br), nil
}

// counterRegion returns the configured ROI, asking interactively when the
// counter policy needs one and none is configured.
func counterRegion(cfg *config.Config, videoPath string) (geometry.Region, error) {
	if cfg.HasROI() {
		return cfg.GetROI(), nil
	}
	r, err := selectROI(videoPath)
	if err != nil {
		return r, err
	}
	cfg.SetROI(r)
	return r, nil
}

func handleCalibrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Run configuration file (JSON)")
	policy := fs.String("policy", "", "Frame sync policy: counter or offset")
	offset := fs.Float64("offset", 0, "Clock offset in seconds added to target timestamps (offset policy)")
	roi := fs.String("roi", "", "Frame-counter region x1,y1,x2,y2 (counter policy)")
	anchor := fs.String("anchor", "", "Anchor template image with transparency")
	videoFile := fs.String("video", "", "Calibration video, relative to the trial directory")
	targetsFile := fs.String("targets", "", "Targets table, relative to the trial directory")
	threshold := fs.Float64("threshold", 0, "Template match threshold (0 keeps the configured value)")
	clusterRadius := fs.Float64("cluster-radius", -1, "Reject frames whose detections spread beyond this radius (0 disables)")
	noValidate := fs.Bool("no-validate", false, "Skip writing validation output")
	fs.Parse(args)

	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: vrcalib calibrate [options] <root_dir> <trial_name>")
		fs.Usage()
		os.Exit(1)
	}
	rootDir, name := fs.Arg(0), fs.Arg(1)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "policy":
			cfg.SetPolicy(*policy)
		case "offset":
			cfg.SetOffsetSeconds(*offset)
		case "anchor":
			cfg.SetAnchor(*anchor)
		case "video":
			cfg.VideoFilename = videoFile
		case "targets":
			cfg.TargetsFilename = targetsFile
		case "threshold":
			cfg.SetThreshold(*threshold)
		case "cluster-radius":
			cfg.SetClusterRadius(*clusterRadius)
		case "no-validate":
			cfg.SetValidate(!*noValidate)
		}
	})
	if *roi != "" {
		r, err := parseROI(*roi)
		if err != nil {
			return err
		}
		cfg.SetROI(r)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p, err := cfg.GetPolicy()
	if err != nil {
		return err
	}
	t := trial.New(rootDir, name, cfg.GetVideoFilename())
	opts := calibrate.Options{
		Anchor:          cfg.GetAnchor(),
		VideoFilename:   cfg.GetVideoFilename(),
		TargetsFilename: cfg.GetTargetsFilename(),
		Columns:         cfg.Columns(),
		Policy:          p,
		OffsetSeconds:   cfg.GetOffsetSeconds(),
		Detector:        cfg.DetectorParams(),
		Validate:        cfg.GetValidate(),
	}

	var deps calibrate.Deps
	if p == framesync.PolicyCounter {
		if opts.ROI, err = counterRegion(cfg, t.Path(opts.VideoFilename)); err != nil {
			return err
		}
		engine, err := ocr.NewEngine(cfg.GetTesseractLang())
		if err != nil {
			return err
		}
		defer engine.Close()
		deps.Oracle = engine
	}

	report, err := calibrate.Run(ctx, t, opts, deps)
	if err != nil {
		return err
	}
	fmt.Printf("Calibrated trial %s (%s): %d observations, %d targets unmatched\n",
		t.Name, report.CalibrationID, report.Observations, report.Sync.Unmatched)
	if report.ValidationDir != "" {
		fmt.Printf("Validation output in %s\n", report.ValidationDir)
	}
	return nil
}

func handleReposition(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reposition", flag.ExitOnError)
	configPath := fs.String("config", "", "Run configuration file (JSON)")
	trialFile := fs.String("trial", trial.FileName, "Trial file, relative to the trial directory")
	roi := fs.String("roi", "", "Frame-counter region x1,y1,x2,y2")
	outputVideo := fs.Bool("o", false, "Write an annotated video with the repositioned samples")
	preview := fs.Bool("p", false, "Preview repositioned samples live")
	fs.Parse(args)

	if fs.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "Usage: vrcalib reposition [options] <root_dir> <positions> <video>")
		fs.Usage()
		os.Exit(1)
	}
	rootDir, positionsFile, videoFile := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *outputVideo {
		cfg.SetOutputVideo(true)
	}
	if *preview {
		cfg.SetPreview(true)
	}
	if *roi != "" {
		r, err := parseROI(*roi)
		if err != nil {
			return err
		}
		cfg.SetROI(r)
	}

	t, err := trial.Load(rootDir, *trialFile)
	if err != nil {
		return err
	}
	region, err := counterRegion(cfg, t.Path(videoFile))
	if err != nil {
		return err
	}
	engine, err := ocr.NewEngine(cfg.GetTesseractLang())
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := reposition.Run(ctx, t, reposition.RunOptions{
		PositionsFilename: positionsFile,
		VideoFilename:     videoFile,
		Columns:           cfg.Columns(),
		ROI:               region,
		OutputVideo:       cfg.GetOutputVideo(),
		Preview:           cfg.GetPreview(),
	}, reposition.Deps{Oracle: engine})
	if err != nil {
		return err
	}
	fmt.Printf("Repositioned %d rows from %d frames; dropped %d rows\n", len(res.Rows), res.Stats.Decoded, res.Dropped)
	return nil
}

func handleSelectROI(args []string) error {
	fs := flag.NewFlagSet("select-roi", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: vrcalib select-roi <video>")
		os.Exit(1)
	}
	r, err := selectROI(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("-roi %d,%d,%d,%d\n", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
	return nil
}
