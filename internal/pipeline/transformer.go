package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/dunamismax/pagewize/internal/domain"
)

// Operation is the transform applied to one decoded source. Zero Width and
// Height mean the dimension was not requested.
type Operation struct {
	Width  int
	Height int
	Blur   int
	// Format is the requested encoding, either a short name ("jpg") or a
	// MIME type ("image/jpeg").
	Format string
}

type Output struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

type Transformer interface {
	Transform(ctx context.Context, input []byte, op Operation) (Output, error)
}

var formatAliases = map[string]string{
	"jpg":                      "jpeg",
	"jpeg":                     "jpeg",
	"image/jpeg":               "jpeg",
	"image/jpg":                "jpeg",
	"png":                      "png",
	"image/png":                "png",
	"gif":                      "gif",
	"image/gif":                "gif",
	"bmp":                      "bmp",
	"image/bmp":                "bmp",
	"image/x-ms-bmp":           "bmp",
	"tif":                      "tiff",
	"tiff":                     "tiff",
	"image/tiff":               "tiff",
	"webp":                     "webp",
	"image/webp":               "webp",
	"ico":                      "ico",
	"image/x-icon":             "ico",
	"image/vnd.microsoft.icon": "ico",
}

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
	"ico":  "image/x-icon",
}

func normalizeOutputFormat(format string) (string, bool) {
	format = strings.ToLower(strings.TrimSpace(format))
	if i := strings.IndexByte(format, ';'); i >= 0 {
		format = strings.TrimSpace(format[:i])
	}
	name, ok := formatAliases[format]
	return name, ok
}

func contentTypeForFormat(format string) string {
	return contentTypes[format]
}

func unsupportedFormat(format string) error {
	return fmt.Errorf("%w: unsupported output format %q", domain.ErrUnsupportedOrCorruptImage, format)
}

// FitDimensions scales srcW x srcH into the width x height box without
// changing the aspect ratio. A zero bound is derived from the other one; when
// both are zero the source size is kept.
func FitDimensions(srcW, srcH, width, height int) (int, int, error) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, fmt.Errorf("%w: source has invalid dimensions %dx%d", domain.ErrUnsupportedOrCorruptImage, srcW, srcH)
	}
	if width < 0 || height < 0 {
		return 0, 0, fmt.Errorf("%w: resize to %dx%d", domain.ErrInvalidTransformParameters, width, height)
	}

	switch {
	case width == 0 && height == 0:
		return srcW, srcH, nil
	case height == 0:
		return width, scaleSide(srcH, width, srcW), nil
	case width == 0:
		return scaleSide(srcW, height, srcH), height, nil
	}

	h := scaleSide(srcH, width, srcW)
	if h <= height {
		return width, h, nil
	}
	return min(width, scaleSide(srcW, height, srcH)), height, nil
}

// maxSide caps a derived side so that the product of two sides fits in an
// int64.
const maxSide = math.MaxInt32

// scaleSide returns round(side * num / den), clamped to [1, maxSide].
func scaleSide(side, num, den int) int {
	v := math.Round(float64(side) * float64(num) / float64(den))
	switch {
	case v < 1:
		return 1
	case v > maxSide:
		return maxSide
	}
	return int(v)
}

func blurSigma(amount int) float64 {
	return float64(amount) / 10
}
