package pipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
)

const (
	icoMaxSide    = 256
	icoHeaderSize = 6
	icoEntrySize  = 16
)

type icoHeader struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

type icoEntry struct {
	Width    uint8
	Height   uint8
	Colors   uint8
	Reserved uint8
	Planes   uint16
	BitCount uint16
	Size     uint32
	Offset   uint32
}

// encodeICO writes a single-image icon with a PNG payload.
func encodeICO(w io.Writer, img image.Image) error {
	b := img.Bounds()
	if b.Dx() > icoMaxSide || b.Dy() > icoMaxSide {
		return fmt.Errorf("ico output is limited to %dx%d, got %dx%d", icoMaxSide, icoMaxSide, b.Dx(), b.Dy())
	}

	var payload bytes.Buffer
	if err := png.Encode(&payload, img); err != nil {
		return err
	}

	header := icoHeader{Type: 1, Count: 1}
	entry := icoEntry{
		Width:    icoSide(b.Dx()),
		Height:   icoSide(b.Dy()),
		Planes:   1,
		BitCount: 32,
		Size:     uint32(payload.Len()),
		Offset:   icoHeaderSize + icoEntrySize,
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// 0 encodes 256 in the directory entry.
func icoSide(n int) uint8 {
	if n >= icoMaxSide {
		return 0
	}
	return uint8(n)
}
