//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pagewize/internal/domain"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, op Operation) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Output{}, fmt.Errorf("%w: decode source image: %v", domain.ErrUnsupportedOrCorruptImage, err)
	}
	defer img.Close()

	srcW, srcH := img.Width(), img.Height()
	width, height := op.Width, op.Height
	if width == 0 && height == 0 {
		width, height = srcW, srcH
	}

	if op.Blur > 0 {
		if err := img.GaussianBlur(blurSigma(op.Blur)); err != nil {
			return Output{}, fmt.Errorf("%w: blur image: %v", domain.ErrUnsupportedOrCorruptImage, err)
		}
	}

	dstW, dstH, err := FitDimensions(srcW, srcH, width, height)
	if err != nil {
		return Output{}, err
	}
	if dstW != srcW || dstH != srcH {
		// SizeForce lands on exactly dstW x dstH; scale factors can round a
		// pixel off.
		if err := img.ThumbnailWithSize(dstW, dstH, vips.InterestingNone, vips.SizeForce); err != nil {
			return Output{}, fmt.Errorf("%w: resize image: %v", domain.ErrUnsupportedOrCorruptImage, err)
		}
	}

	format, ok := normalizeOutputFormat(op.Format)
	if !ok {
		return Output{}, unsupportedFormat(op.Format)
	}
	data, err := exportGovipsImage(img, format)
	if err != nil {
		return Output{}, err
	}

	return Output{
		Data:        data,
		ContentType: contentTypeForFormat(format),
		Width:       img.Width(),
		Height:      img.Height(),
	}, nil
}

// Dimensions reads the header through libvips, so formats without a Go
// decoder (AVIF, HEIC, SVG) pass the bounds check too.
func (t govipsTransformer) Dimensions(input []byte) (int, int, error) {
	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return 0, 0, err
	}
	defer img.Close()
	return img.Width(), img.Height(), nil
}

func exportGovipsImage(img *vips.ImageRef, format string) ([]byte, error) {
	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = jpegQuality
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("%w: encode jpeg: %v", domain.ErrUnsupportedOrCorruptImage, err)
		}
		return data, nil
	case "png":
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("%w: encode png: %v", domain.ErrUnsupportedOrCorruptImage, err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		params.Quality = jpegQuality
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("%w: encode webp: %v", domain.ErrUnsupportedOrCorruptImage, err)
		}
		return data, nil
	default:
		// Formats libvips does not export here go through the Go encoders.
		decoded, err := img.ToImage(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: convert image: %v", domain.ErrUnsupportedOrCorruptImage, err)
		}
		return encodeImage(decoded, format)
	}
}
