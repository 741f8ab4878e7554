package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dunamismax/pagewize/internal/storage"
)

const (
	DefaultMaxSourceBytes = 32 << 20
	DefaultFetchTimeout   = 20 * time.Second
)

var (
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
	ErrSourceTooLarge    = errors.New("source exceeds size limit")
	ErrSourceOutsideRoot = errors.New("source is outside the local root")
	ErrBucketNotAllowed  = errors.New("source bucket is not allowed")
)

// Fetcher resolves a source reference to bytes. Exists is the cheap check run
// before Fetch.
type Fetcher interface {
	Exists(ctx context.Context, source string) (bool, error)
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// SourceFetcher routes a source to the fetcher registered for its scheme.
type SourceFetcher struct {
	schemes map[string]Fetcher
}

func NewSourceFetcher() *SourceFetcher {
	return &SourceFetcher{schemes: make(map[string]Fetcher)}
}

func (f *SourceFetcher) Register(fetcher Fetcher, schemes ...string) *SourceFetcher {
	for _, scheme := range schemes {
		f.schemes[strings.ToLower(scheme)] = fetcher
	}
	return f
}

func (f *SourceFetcher) resolve(source string) (Fetcher, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse source %q: %w", source, err)
	}
	fetcher, ok := f.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return fetcher, nil
}

func (f *SourceFetcher) Exists(ctx context.Context, source string) (bool, error) {
	fetcher, err := f.resolve(source)
	if err != nil {
		return false, err
	}
	return fetcher.Exists(ctx, source)
}

func (f *SourceFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	fetcher, err := f.resolve(source)
	if err != nil {
		return nil, err
	}
	return fetcher.Fetch(ctx, source)
}

type HTTPFetcher struct {
	Client    *http.Client
	MaxBytes  int64
	UserAgent string
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		MaxBytes:  maxBytes,
		UserAgent: "pagewize-image/1.0",
	}
}

func (f HTTPFetcher) do(ctx context.Context, method, source string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return client.Do(req)
}

func (f HTTPFetcher) Exists(ctx context.Context, source string) (bool, error) {
	resp, err := f.do(ctx, http.MethodHead, source)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (f HTTPFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	resp, err := f.do(ctx, http.MethodGet, source)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status=%d", source, resp.StatusCode)
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, resp.ContentLength)
	}
	return readLimited(resp.Body, f.MaxBytes)
}

// LocalFileFetcher reads file:// sources below Root. Paths are resolved
// through os.Root, so neither ".." nor a symlink can reach outside it. An
// empty Root rejects every source.
type LocalFileFetcher struct {
	Root     string
	MaxBytes int64
}

func (f LocalFileFetcher) open(source string) (*os.Root, string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, "", fmt.Errorf("parse source %q: %w", source, err)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Path == "" {
		return nil, "", fmt.Errorf("file source %q has no path", source)
	}
	if f.Root == "" {
		return nil, "", fmt.Errorf("%w: no local root configured", ErrSourceOutsideRoot)
	}

	base, err := filepath.Abs(f.Root)
	if err != nil {
		return nil, "", fmt.Errorf("resolve local root: %w", err)
	}
	rel, err := filepath.Rel(base, filepath.Clean(u.Path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, "", fmt.Errorf("%w: %s", ErrSourceOutsideRoot, u.Path)
	}

	root, err := os.OpenRoot(base)
	if err != nil {
		return nil, "", fmt.Errorf("open local root: %w", err)
	}
	return root, rel, nil
}

func (f LocalFileFetcher) Exists(_ context.Context, source string) (bool, error) {
	root, rel, err := f.open(source)
	if err != nil {
		return false, err
	}
	defer root.Close()

	info, err := root.Stat(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}
	return info.Mode().IsRegular(), nil
}

func (f LocalFileFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	root, rel, err := f.open(source)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", rel, err)
	}
	defer file.Close()
	return readLimited(file, f.MaxBytes)
}

// ObjectStoreFetcher reads s3://bucket/key sources through the minio client.
// Only buckets listed in Buckets are read; an empty list allows just the
// client's own bucket.
type ObjectStoreFetcher struct {
	Storage  *storage.Client
	Buckets  []string
	MaxBytes int64
}

func (f ObjectStoreFetcher) allowed(bucket string) bool {
	if len(f.Buckets) == 0 {
		return bucket == f.Storage.Bucket()
	}
	return slices.Contains(f.Buckets, bucket)
}

func (f ObjectStoreFetcher) locate(source string) (*storage.Client, string, error) {
	if f.Storage == nil {
		return nil, "", errors.New("storage client is required")
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, "", fmt.Errorf("parse source %q: %w", source, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, "", fmt.Errorf("object source %q must look like s3://bucket/key", source)
	}
	if !f.allowed(u.Host) {
		return nil, "", fmt.Errorf("%w: %q", ErrBucketNotAllowed, u.Host)
	}
	return f.Storage.WithBucket(u.Host), key, nil
}

func (f ObjectStoreFetcher) Exists(ctx context.Context, source string) (bool, error) {
	client, key, err := f.locate(source)
	if err != nil {
		return false, err
	}
	return client.ObjectExists(ctx, key)
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	client, key, err := f.locate(source)
	if err != nil {
		return nil, err
	}
	data, err := client.ReadObject(ctx, key, f.MaxBytes)
	if errors.Is(err, storage.ErrObjectTooLarge) {
		return nil, fmt.Errorf("%w: %v", ErrSourceTooLarge, err)
	}
	return data, err
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSourceTooLarge, limit)
	}
	return data, nil
}
