// Command detecttest runs the anchor detector on one image or video frame and prints results.
package main

import (
	"flag"
	"fmt"
	"os"

	"vr-screenmap/internal/detect"
	"vr-screenmap/internal/frame"
	"vr-screenmap/internal/video"
	"vr-screenmap/pkg/colorutil"

	"gocv.io/x/gocv"
)

func main() {
	anchorPath := flag.String("a", "anchor.png", "Path to anchor template (with transparency)")
	imagePath := flag.String("i", "", "Path to frame image")
	videoPath := flag.String("v", "", "Path to video (use with -frame)")
	frameIdx := flag.Int("frame", 0, "Frame index to read from the video")
	minSize := flag.Int("min", detect.DefaultMinSize, "Smallest template size")
	maxSize := flag.Int("max", detect.DefaultMaxSize, "Largest template size (exclusive)")
	delta := flag.Int("delta", detect.DefaultDeltaSize, "Template size step")
	threshold := flag.Float64("t", detect.DefaultThreshold, "Match threshold")
	out := flag.String("o", "", "Write an annotated copy of the frame here")
	verbose := flag.Bool("verbose", false, "Print every bounding box")
	flag.Parse()

	if *imagePath == "" && *videoPath == "" {
		fmt.Println("Usage: detecttest -a <anchor> (-i <image> | -v <video> -frame N) [-o out.jpg]")
		os.Exit(1)
	}

	img, err := loadFrame(*imagePath, *videoPath, *frameIdx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load frame: %v\n", err)
		os.Exit(1)
	}
	defer img.Close()

	anchor, err := detect.LoadAnchor(*anchorPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load anchor: %v\n", err)
		os.Exit(1)
	}
	defer anchor.Close()

	params := detect.Params{MinSize: *minSize, MaxSize: *maxSize, DeltaSize: *delta, Threshold: *threshold}
	d, err := detect.NewDetector(anchor, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create detector: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Detecting anchor in %dx%d frame (sizes %d..%d step %d, threshold %.2f) ===\n",
		img.Cols(), img.Rows(), *minSize, *maxSize, *delta, *threshold)
	boxes, c, err := d.Locate(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		os.Exit(1)
	}

	bySize := map[int]int{}
	for _, b := range boxes {
		bySize[b.Size()]++
		if *verbose {
			fmt.Printf("  box (%d,%d)-(%d,%d) centre (%.1f,%.1f)\n", b.X1, b.Y1, b.X2, b.Y2, b.CX, b.CY)
		}
	}
	for p := *minSize; p < *maxSize; p += *delta {
		if n := bySize[p]; n > 0 {
			fmt.Printf("  size %3d: %d matches\n", p, n)
		}
	}
	fmt.Printf("\nDetections: %d\n", c.Count)
	fmt.Printf("Mean:   %s\n", c.Mean)
	fmt.Printf("Median: %s\n", c.Median)
	fmt.Printf("Spread: %.2fpx\n", c.Spread)

	if *out != "" {
		f := frame.New(*frameIdx, img.Clone())
		defer f.Close()
		frame.DrawBoxes(&f.Image, boxes, colorutil.Yellow)
		frame.DrawMarker(&f.Image, c.Median, colorutil.Detected, frame.MarkerDiamond, frame.DefaultMarkerSize)
		if !gocv.IMWrite(*out, f.Image) {
			fmt.Fprintf(os.Stderr, "Failed to write %s\n", *out)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *out)
	}
}

func loadFrame(imagePath, videoPath string, idx int) (gocv.Mat, error) {
	if imagePath != "" {
		img := gocv.IMRead(imagePath, gocv.IMReadColor)
		if img.Empty() {
			img.Close()
			return img, fmt.Errorf("could not read image %s", imagePath)
		}
		return img, nil
	}

	capture, err := video.Open(videoPath)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer capture.Close()
	if err := capture.Seek(idx); err != nil {
		return gocv.NewMat(), err
	}
	img := gocv.NewMat()
	if !capture.Read(&img) {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("could not read frame %d of %s", idx, videoPath)
	}
	return img, nil
}
