//go:build !cgo

package pipeline

import (
	"errors"
	"image"
	"io"
)

func encodeWebP(_ io.Writer, _ image.Image) error {
	return errors.New("webp export requires a cgo build")
}
