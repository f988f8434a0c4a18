package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// ErrNoOrientation is returned by a Detector that has no opinion about an image
var ErrNoOrientation = errors.New("orientation not detected")

// Detector reports the clockwise rotation, one of 0, 90, 180 or 270 degrees,
// needed to bring the text of an image upright.
type Detector interface {
	DetectOrientation(ctx context.Context, data []byte, img image.Image) (int, error)
}

// Normalizer rotates receipt photos upright before extraction
type Normalizer struct {
	detector Detector
}

// NewNormalizer creates a Normalizer. A nil detector disables rotation.
func NewNormalizer(detector Detector) *Normalizer {
	return &Normalizer{detector: detector}
}

// Normalize returns the upright image and the angle applied. Detection
// failures are logged and the original image is returned unrotated.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, img image.Image) (image.Image, int) {
	if n == nil || n.detector == nil {
		return img, 0
	}

	angle, err := n.detector.DetectOrientation(ctx, data, img)
	if err != nil {
		slog.Warn("Orientation detection failed, keeping image as is", "error", err)
		return img, 0
	}

	switch angle {
	case 0:
		return img, 0
	case 90:
		return imaging.Rotate270(img), angle
	case 180:
		return imaging.Rotate180(img), angle
	case 270:
		return imaging.Rotate90(img), angle
	default:
		slog.Warn("Ignoring unexpected orientation", "angle", angle)
		return img, 0
	}
}

// TesseractDetector runs tesseract's orientation and script detection (--psm 0)
type TesseractDetector struct {
	Binary string
}

// NewTesseractDetector creates a detector using the tesseract binary on PATH when binary is empty
func NewTesseractDetector(binary string) *TesseractDetector {
	if binary == "" {
		binary = "tesseract"
	}
	return &TesseractDetector{Binary: binary}
}

// DetectOrientation pipes the image as PNG through tesseract and parses its OSD report
func (t *TesseractDetector) DetectOrientation(ctx context.Context, _ []byte, img image.Image) (int, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return 0, fmt.Errorf("encoding PNG for tesseract: %w", err)
	}

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Binary, "stdin", "stdout", "--psm", "0")
	cmd.Stdin = &in
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("running tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseOSD(out.String())
}

// parseOSD reads the "Orientation in degrees" line of a tesseract OSD report
func parseOSD(report string) (int, error) {
	for _, line := range strings.Split(report, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "Orientation in degrees" {
			continue
		}
		angle, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("parsing orientation %q: %w", value, err)
		}
		return angle, nil
	}
	return 0, ErrNoOrientation
}

// ExifDetector reads the camera orientation tag of JPEG and HEIC photos. It only
// answers for rotated tags (3, 6, 8).
type ExifDetector struct{}

func (ExifDetector) DetectOrientation(_ context.Context, data []byte, _ image.Image) (int, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, ErrNoOrientation
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0, ErrNoOrientation
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0, fmt.Errorf("reading exif orientation: %w", err)
	}

	// Upright and mirrored tags say nothing about the text; leave those to
	// the next detector
	switch v {
	case 3:
		return 180, nil
	case 6:
		return 90, nil
	case 8:
		return 270, nil
	default:
		return 0, ErrNoOrientation
	}
}

// ChainDetector returns the answer of the first detector that succeeds
type ChainDetector []Detector

func (c ChainDetector) DetectOrientation(ctx context.Context, data []byte, img image.Image) (int, error) {
	var errs []error
	for _, d := range c {
		angle, err := d.DetectOrientation(ctx, data, img)
		if err == nil {
			return angle, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return 0, ErrNoOrientation
	}
	return 0, errors.Join(errs...)
}
