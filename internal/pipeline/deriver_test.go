package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/dunamismax/pagewize/internal/store"
)

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

type imageServer struct {
	*httptest.Server
	gets  atomic.Int32
	heads atomic.Int32
}

func newImageServer(t *testing.T, files map[string][]byte) *imageServer {
	t.Helper()

	s := &imageServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodHead:
			s.heads.Add(1)
		case http.MethodGet:
			s.gets.Add(1)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestDeriver(t *testing.T, fetcher Fetcher, artifacts store.ArtifactStore) *Deriver {
	t.Helper()

	d, err := NewDeriver(Config{
		Fetcher: fetcher,
		Store:   artifacts,
	})
	if err != nil {
		t.Fatalf("new deriver: %v", err)
	}
	return d
}

func defaultFetcher() *SourceFetcher {
	return NewSourceFetcher().
		Register(NewHTTPFetcher(5*time.Second, DefaultMaxSourceBytes), "http", "https").
		Register(LocalFileFetcher{Root: "/", MaxBytes: DefaultMaxSourceBytes}, "file")
}

func TestGetOrDeriveResizesByWidthAndCaches(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{"/a.jpg": buildTestJPEG(t, 400, 300)})
	artifacts := store.NewMemoryArtifactStore()
	d := newTestDeriver(t, defaultFetcher(), artifacts)

	req := domain.TransformRequest{Source: srv.URL + "/a.jpg", Width: intPtr(200)}
	first, err := d.GetOrDerive(context.Background(), req)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if first.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", first.ContentType)
	}
	w, h, format := decodeSize(t, first.Data)
	if w != 200 || h != 150 || format != "jpeg" {
		t.Fatalf("expected 200x150 jpeg, got %dx%d %s", w, h, format)
	}

	second, err := d.GetOrDerive(context.Background(), req)
	if err != nil {
		t.Fatalf("second derive: %v", err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatal("expected byte-identical artifacts")
	}
	if got := srv.gets.Load(); got != 1 {
		t.Fatalf("expected one upstream fetch, got %d", got)
	}
	if got := srv.heads.Load(); got != 1 {
		t.Fatalf("expected one status check, got %d", got)
	}
	if artifacts.Len() != 1 {
		t.Fatalf("expected one cached artifact, got %d", artifacts.Len())
	}
}

func TestGetOrDeriveWithoutDimensionsKeepsSourceSize(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{"/b.png": buildTestPNG(t, 240, 120)})
	d := newTestDeriver(t, defaultFetcher(), store.NewMemoryArtifactStore())

	artifact, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: srv.URL + "/b.png"})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if artifact.ContentType != "image/png" {
		t.Fatalf("expected native image/png, got %s", artifact.ContentType)
	}
	if w, h, _ := decodeSize(t, artifact.Data); w != 240 || h != 120 {
		t.Fatalf("expected 240x120, got %dx%d", w, h)
	}
}

func TestGetOrDeriveFitsInsideBox(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{"/c.png": buildTestPNG(t, 400, 300)})
	d := newTestDeriver(t, defaultFetcher(), store.NewMemoryArtifactStore())

	artifact, err := d.GetOrDerive(context.Background(), domain.TransformRequest{
		Source:       srv.URL + "/c.png",
		Width:        intPtr(100),
		Height:       intPtr(100),
		OutputFormat: "jpg",
		Blur:         intPtr(10),
	})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if artifact.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", artifact.ContentType)
	}
	if w, h, format := decodeSize(t, artifact.Data); w != 100 || h != 75 || format != "jpeg" {
		t.Fatalf("expected 100x75 jpeg, got %dx%d %s", w, h, format)
	}
}

func TestGetOrDeriveMissingLocalSource(t *testing.T) {
	req, err := domain.Normalize(domain.RawRequest{Source: "/local/missing.png"}, domain.BlurPolicySteps)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	artifacts := store.NewMemoryArtifactStore()
	d := newTestDeriver(t, defaultFetcher(), artifacts)

	_, err = d.GetOrDerive(context.Background(), req)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if _, ok, _ := artifacts.Get(context.Background(), req.CanonicalKey()); ok {
		t.Fatal("expected cache to stay empty")
	}

	missingFile := "file://" + filepath.Join(t.TempDir(), "missing.png")
	_, err = d.GetOrDerive(context.Background(), domain.TransformRequest{Source: missingFile})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable for file source, got %v", err)
	}
	if artifacts.Len() != 0 {
		t.Fatalf("expected empty cache, got %d artifacts", artifacts.Len())
	}
}

func TestGetOrDeriveReadsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.png")
	if err := os.WriteFile(path, buildTestPNG(t, 80, 40), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}
	d := newTestDeriver(t, defaultFetcher(), store.NewMemoryArtifactStore())

	artifact, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: "file://" + path, Height: intPtr(20)})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if artifact.Width != 40 || artifact.Height != 20 {
		t.Fatalf("expected 40x20, got %dx%d", artifact.Width, artifact.Height)
	}
}

func TestGetOrDeriveFailedStatusCheckIsNotCached(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{})
	artifacts := store.NewMemoryArtifactStore()
	d := newTestDeriver(t, defaultFetcher(), artifacts)

	_, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: srv.URL + "/gone.jpg"})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if srv.gets.Load() != 0 {
		t.Fatal("expected no GET after a failed status check")
	}
	if artifacts.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", artifacts.Len())
	}
}

func TestGetOrDeriveCorruptImageIsNotCached(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{"/bad.jpg": []byte("definitely not an image")})
	artifacts := store.NewMemoryArtifactStore()
	d := newTestDeriver(t, defaultFetcher(), artifacts)

	_, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: srv.URL + "/bad.jpg"})
	if !errors.Is(err, domain.ErrUnsupportedOrCorruptImage) {
		t.Fatalf("expected ErrUnsupportedOrCorruptImage, got %v", err)
	}
	if artifacts.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", artifacts.Len())
	}
}

func TestGetOrDeriveUnsupportedOutputFormat(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{"/a.png": buildTestPNG(t, 20, 20)})
	artifacts := store.NewMemoryArtifactStore()
	d := newTestDeriver(t, defaultFetcher(), artifacts)

	_, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: srv.URL + "/a.png", OutputFormat: "heic"})
	if !errors.Is(err, domain.ErrUnsupportedOrCorruptImage) {
		t.Fatalf("expected ErrUnsupportedOrCorruptImage, got %v", err)
	}
	if artifacts.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", artifacts.Len())
	}
}

func TestGetOrDeriveRejectsInvalidParametersBeforeFetching(t *testing.T) {
	fetcher := &countingFetcher{data: buildTestPNG(t, 10, 10)}
	d := newTestDeriver(t, fetcher, store.NewMemoryArtifactStore())

	_, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: "https://example.com/a.png", Width: intPtr(0)})
	if !errors.Is(err, domain.ErrInvalidTransformParameters) {
		t.Fatalf("expected ErrInvalidTransformParameters, got %v", err)
	}
	if fetcher.fetches.Load() != 0 {
		t.Fatal("expected no fetch for invalid parameters")
	}
}

func TestGetOrDeriveEnforcesPixelLimit(t *testing.T) {
	fetcher := &countingFetcher{data: buildTestPNG(t, 20, 20)}
	d, err := NewDeriver(Config{
		Fetcher:   fetcher,
		Store:     store.NewMemoryArtifactStore(),
		MaxPixels: 100,
	})
	if err != nil {
		t.Fatalf("new deriver: %v", err)
	}

	_, err = d.GetOrDerive(context.Background(), domain.TransformRequest{Source: "https://example.com/big.png"})
	if !errors.Is(err, domain.ErrUnsupportedOrCorruptImage) {
		t.Fatalf("expected ErrUnsupportedOrCorruptImage, got %v", err)
	}
}

func TestGetOrDeriveRejectsOversizedOutput(t *testing.T) {
	srv := newImageServer(t, map[string][]byte{"/small.jpg": buildTestJPEG(t, 4, 3)})
	artifacts := store.NewMemoryArtifactStore()
	transformer := &recordingTransformer{}
	d, err := NewDeriver(Config{
		Fetcher:     defaultFetcher(),
		Store:       artifacts,
		Transformer: transformer,
	})
	if err != nil {
		t.Fatalf("new deriver: %v", err)
	}

	req, err := domain.Normalize(domain.RawRequest{Source: srv.URL + "/small.jpg", Width: strPtr("2000000000")}, domain.BlurPolicySteps)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	_, err = d.GetOrDerive(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidTransformParameters) {
		t.Fatalf("expected ErrInvalidTransformParameters, got %v", err)
	}
	if transformer.calls.Load() != 0 {
		t.Fatal("expected the transformer not to run for an oversized output")
	}
	if artifacts.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", artifacts.Len())
	}
}

func TestGetOrDeriveAllowsOutputAtPixelLimit(t *testing.T) {
	fetcher := &countingFetcher{data: buildTestPNG(t, 10, 10)}
	d, err := NewDeriver(Config{
		Fetcher:   fetcher,
		Store:     store.NewMemoryArtifactStore(),
		MaxPixels: 400,
	})
	if err != nil {
		t.Fatalf("new deriver: %v", err)
	}

	artifact, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: "https://example.com/a.png", Width: intPtr(20)})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if artifact.Width != 20 || artifact.Height != 20 {
		t.Fatalf("expected 20x20, got %dx%d", artifact.Width, artifact.Height)
	}

	_, err = d.GetOrDerive(context.Background(), domain.TransformRequest{Source: "https://example.com/a.png", Width: intPtr(21)})
	if !errors.Is(err, domain.ErrInvalidTransformParameters) {
		t.Fatalf("expected ErrInvalidTransformParameters above the limit, got %v", err)
	}
}

func TestGetOrDeriveUsesTransformerHeaderReader(t *testing.T) {
	fetcher := &countingFetcher{data: []byte("not a format the Go decoders know")}
	transformer := &recordingTransformer{width: 300, height: 200}
	d, err := NewDeriver(Config{
		Fetcher:     fetcher,
		Store:       store.NewMemoryArtifactStore(),
		Transformer: transformer,
	})
	if err != nil {
		t.Fatalf("new deriver: %v", err)
	}

	if _, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: "https://example.com/a.avif", OutputFormat: "png"}); err != nil {
		t.Fatalf("derive: %v", err)
	}
	if transformer.calls.Load() != 1 {
		t.Fatalf("expected one transform, got %d", transformer.calls.Load())
	}
}

func TestGetOrDeriveEmptySourceIsUnavailable(t *testing.T) {
	d := newTestDeriver(t, &countingFetcher{}, store.NewMemoryArtifactStore())

	_, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: "https://example.com/empty.png"})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestGetOrDeriveCoalescesConcurrentMisses(t *testing.T) {
	fetcher := &countingFetcher{
		data:    buildTestPNG(t, 64, 64),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := newTestDeriver(t, fetcher, store.NewMemoryArtifactStore())
	req := domain.TransformRequest{Source: "https://example.com/shared.png", Width: intPtr(32)}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)

	run := func(i int) {
		defer wg.Done()
		artifact, err := d.GetOrDerive(context.Background(), req)
		results[i], errs[i] = artifact.Data, err
	}

	wg.Add(1)
	go run(0)
	<-fetcher.started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go run(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], results[0]) {
			t.Fatalf("caller %d received different bytes", i)
		}
	}
	if got := fetcher.fetches.Load(); got != 1 {
		t.Fatalf("expected one upstream fetch, got %d", got)
	}
}

func TestGetOrDeriveServesArtifactWhenStoreWriteFails(t *testing.T) {
	fetcher := &countingFetcher{data: buildTestPNG(t, 16, 16)}
	d := newTestDeriver(t, fetcher, failingStore{})

	artifact, err := d.GetOrDerive(context.Background(), domain.TransformRequest{Source: "https://example.com/a.png"})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(artifact.Data) == 0 {
		t.Fatal("expected artifact bytes")
	}
}

type countingFetcher struct {
	data    []byte
	fetches atomic.Int32
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (f *countingFetcher) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (f *countingFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.fetches.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	return f.data, nil
}

type failingStore struct{}

func (failingStore) Get(_ context.Context, _ string) (domain.Artifact, bool, error) {
	return domain.Artifact{}, false, errors.New("store offline")
}

func (failingStore) Put(_ context.Context, _ domain.Artifact) error {
	return errors.New("store offline")
}

// recordingTransformer reads dimensions without decoding and returns a fixed
// payload.
type recordingTransformer struct {
	width, height int
	calls         atomic.Int32
}

func (r *recordingTransformer) Dimensions(input []byte) (int, int, error) {
	if r.width == 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
		return cfg.Width, cfg.Height, err
	}
	return r.width, r.height, nil
}

func (r *recordingTransformer) Transform(_ context.Context, _ []byte, op Operation) (Output, error) {
	r.calls.Add(1)
	return Output{Data: []byte("out"), ContentType: "image/png", Width: op.Width, Height: op.Height}, nil
}
