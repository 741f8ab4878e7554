package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/pagewize/internal/domain"
)

func writeSourcePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "source.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func execute(args ...string) (string, string, error) {
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDeriveWritesResizedFile(t *testing.T) {
	src := writeSourcePNG(t, 80, 40)
	out := filepath.Join(t.TempDir(), "thumb.png")

	_, stderr, err := execute("derive", "--src", "file://"+src, "-w", "40", "-o", out)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !strings.Contains(stderr, "image/png, 40x20") {
		t.Fatalf("unexpected summary %q", stderr)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 20 {
		t.Fatalf("expected 40x20, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestDeriveWritesStdout(t *testing.T) {
	src := writeSourcePNG(t, 10, 10)

	stdout, _, err := execute("derive", "--src", "file://"+src, "-f", "png")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !strings.HasPrefix(stdout, "\x89PNG") {
		t.Fatal("expected png bytes on stdout")
	}
}

func TestDeriveRejectsInvalidBlur(t *testing.T) {
	_, _, err := execute("derive", "--src", "file:///nope.png", "-b", "15", "--blur-policy", "steps")
	if !errors.Is(err, domain.ErrInvalidBlur) {
		t.Fatalf("expected invalid blur, got %v", err)
	}
}

func TestDeriveReportsMissingSource(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.png")
	_, _, err := execute("derive", "--src", "file://"+missing)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
}

func TestDeriveKeepsFileSourcesInsideLocalRoot(t *testing.T) {
	src := writeSourcePNG(t, 10, 10)
	root := t.TempDir()

	_, _, err := execute("derive", "--src", "file://"+src, "--local-root", root)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable outside root, got %v", err)
	}

	stdout, _, err := execute("derive", "--src", "file://"+src, "--local-root", filepath.Dir(src), "-f", "png")
	if err != nil {
		t.Fatalf("derive inside root: %v", err)
	}
	if !strings.HasPrefix(stdout, "\x89PNG") {
		t.Fatal("expected png bytes on stdout")
	}
}
