//go:build govips && cgo

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/dunamismax/pagewize/internal/domain"
)

func TestGovipsTransformerHitsExactDimensions(t *testing.T) {
	if err := Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}

	input := buildTestPNG(t, 333, 222)
	out, err := govipsTransformer{}.Transform(context.Background(), input, Operation{Width: 100, Format: "png"})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	wantW, wantH, _ := FitDimensions(333, 222, 100, 0)
	if out.Width != wantW || out.Height != wantH {
		t.Fatalf("expected %dx%d, got %dx%d", wantW, wantH, out.Width, out.Height)
	}
}

func TestGovipsTransformerDimensions(t *testing.T) {
	if err := Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}

	w, h, err := govipsTransformer{}.Dimensions(buildTestJPEG(t, 40, 30))
	if err != nil {
		t.Fatalf("dimensions: %v", err)
	}
	if w != 40 || h != 30 {
		t.Fatalf("expected 40x30, got %dx%d", w, h)
	}
}

func TestGovipsTransformerCorruptInputIsClassified(t *testing.T) {
	if err := Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}

	_, err := govipsTransformer{}.Transform(context.Background(), []byte("garbage"), Operation{Format: "png"})
	if !errors.Is(err, domain.ErrUnsupportedOrCorruptImage) {
		t.Fatalf("expected ErrUnsupportedOrCorruptImage, got %v", err)
	}
}
