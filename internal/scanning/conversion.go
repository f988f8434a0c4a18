package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	// DefaultMinImageSide is the smallest width or height worth sending to a model
	DefaultMinImageSide = 200

	// blankStdDev is the luminance standard deviation under which an image is treated as blank
	blankStdDev = 2.0
	blankSample = 64
)

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

// ErrBadInput is matched by every *InputError
var ErrBadInput = errors.New("bad input")

// InputError rejects an upload before any model call is made
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

func (e *InputError) Is(target error) bool { return target == ErrBadInput }

func badInput(format string, args ...any) error {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// ResolveContentType normalizes the declared MIME type, falling back to the file extension
func ResolveContentType(filename, contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
			return t
		}
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

func supportedType(mimeType string) bool {
	for _, t := range extensionTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

// DecodeUpload turns raw upload bytes into a raster image. PDFs are rendered
// from their first page. Unsupported, unreadable, tiny or blank inputs return
// an *InputError.
func DecodeUpload(data []byte, filename, contentType string, minSide int) (image.Image, error) {
	if len(data) == 0 {
		return nil, badInput("uploaded file is empty")
	}

	mimeType := ResolveContentType(filename, contentType)
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if _, ok := extensionTypes[ext]; !ok && !isHEICFormat(data) {
			return nil, badInput("unsupported file extension %q. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF", ext)
		}
	}
	if !supportedType(mimeType) && !isHEICFormat(data) {
		return nil, badInput("unsupported content type %q. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF", mimeType)
	}

	var (
		img image.Image
		err error
	)
	switch {
	case mimeType == "application/pdf":
		img, err = pdfToImage(data)
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("decoding image: %w", err)
		}
	}
	if err != nil {
		return nil, badInput("could not read uploaded image: %v", err)
	}

	if err := inspectImage(img, minSide); err != nil {
		return nil, err
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF (most receipts are single page)
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func inspectImage(img image.Image, minSide int) error {
	b := img.Bounds()
	if minSide <= 0 {
		minSide = 1
	}
	if b.Dx() < minSide || b.Dy() < minSide {
		return badInput("image is too small (%dx%d); each side must be at least %d px", b.Dx(), b.Dy(), minSide)
	}
	if isBlank(img) {
		return badInput("image appears to be blank")
	}
	return nil
}

// isBlank samples a grid of pixels and reports whether luminance barely varies
func isBlank(img image.Image) bool {
	b := img.Bounds()
	stepX := max(b.Dx()/blankSample, 1)
	stepY := max(b.Dy()/blankSample, 1)

	var n, sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			l := float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			n++
			sum += l
			sumSq += l * l
		}
	}
	if n == 0 {
		return true
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	return math.Sqrt(math.Max(variance, 0)) < blankStdDev
}

// EncodeJPEG encodes img deterministically for storage and model input
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
