package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pagewize/internal/domain"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

type imagingTransformer struct{}

func (t imagingTransformer) Transform(ctx context.Context, input []byte, op Operation) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	src, err := imaging.Decode(bytes.NewReader(input))
	if err != nil {
		return Output{}, fmt.Errorf("%w: decode source image: %v", domain.ErrUnsupportedOrCorruptImage, err)
	}

	bounds := src.Bounds()
	width, height := op.Width, op.Height
	if width == 0 && height == 0 {
		width, height = bounds.Dx(), bounds.Dy()
	}

	var out image.Image = src
	if op.Blur > 0 {
		out = imaging.Blur(out, blurSigma(op.Blur))
	}

	dstW, dstH, err := FitDimensions(bounds.Dx(), bounds.Dy(), width, height)
	if err != nil {
		return Output{}, err
	}
	if dstW != bounds.Dx() || dstH != bounds.Dy() {
		out = imaging.Resize(out, dstW, dstH, imaging.Lanczos)
	}

	format, ok := normalizeOutputFormat(op.Format)
	if !ok {
		return Output{}, unsupportedFormat(op.Format)
	}
	data, err := encodeImage(out, format)
	if err != nil {
		return Output{}, err
	}

	return Output{
		Data:        data,
		ContentType: contentTypeForFormat(format),
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
	}, nil
}

func encodeImage(img image.Image, format string) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)

	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		err = encoder.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "tiff":
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	case "webp":
		err = encodeWebP(&buf, img)
	case "ico":
		err = encodeICO(&buf, img)
	default:
		return nil, unsupportedFormat(format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", domain.ErrUnsupportedOrCorruptImage, format, err)
	}

	return buf.Bytes(), nil
}
