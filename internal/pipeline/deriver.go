package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"time"

	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/dunamismax/pagewize/internal/store"
	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const DefaultMaxPixels = 50_000_000

type Config struct {
	Fetcher     Fetcher
	Store       store.ArtifactStore
	Transformer Transformer
	MaxPixels   int64
	Logger      *log.Logger
	Registerer  prometheus.Registerer
}

// Deriver returns cached artifacts and derives missing ones. Concurrent misses
// for the same key share a single derivation.
type Deriver struct {
	fetcher     Fetcher
	store       store.ArtifactStore
	transformer Transformer
	maxPixels   int64
	logger      *log.Logger
	metrics     *metrics
	tracer      trace.Tracer
	group       singleflight.Group
	now         func() time.Time
}

func NewDeriver(cfg Config) (*Deriver, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.Transformer == nil {
		cfg.Transformer = newTransformer()
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	return &Deriver{
		fetcher:     cfg.Fetcher,
		store:       cfg.Store,
		transformer: cfg.Transformer,
		maxPixels:   cfg.MaxPixels,
		logger:      cfg.Logger,
		metrics:     newMetrics(cfg.Registerer),
		tracer:      otel.Tracer("pagewize/pipeline"),
		now:         time.Now,
	}, nil
}

func (d *Deriver) GetOrDerive(ctx context.Context, req domain.TransformRequest) (domain.Artifact, error) {
	if err := req.Check(); err != nil {
		return domain.Artifact{}, err
	}
	key := req.CanonicalKey()

	if artifact, ok := d.lookup(ctx, key); ok {
		d.metrics.cacheLookups.WithLabelValues("hit").Inc()
		return artifact, nil
	}

	// The derivation outlives any single caller so that coalesced waiters
	// are not failed by the first caller going away.
	deriveCtx := context.WithoutCancel(ctx)
	v, err, shared := d.group.Do(key, func() (any, error) {
		return d.derive(deriveCtx, key, req)
	})
	if shared {
		d.metrics.cacheLookups.WithLabelValues("coalesced").Inc()
	} else {
		d.metrics.cacheLookups.WithLabelValues("miss").Inc()
	}
	if err != nil {
		return domain.Artifact{}, err
	}
	return v.(domain.Artifact), nil
}

// lookup treats a failing store as a miss; the artifact is derived again.
func (d *Deriver) lookup(ctx context.Context, key string) (domain.Artifact, bool) {
	artifact, ok, err := d.store.Get(ctx, key)
	if err != nil {
		d.metrics.storeErrors.WithLabelValues("get").Inc()
		d.logger.Printf("artifact lookup failed key=%s err=%v", key, err)
		return domain.Artifact{}, false
	}
	return artifact, ok
}

func (d *Deriver) derive(ctx context.Context, key string, req domain.TransformRequest) (artifact domain.Artifact, err error) {
	startedAt := time.Now()
	ctx, span := d.tracer.Start(ctx, "pipeline.derive")
	span.SetAttributes(
		attribute.String("image.key", key),
		attribute.String("image.source", req.Source),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = domain.KindOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			d.logger.Printf("derive failed key=%s source=%s kind=%s err=%v", key, req.Source, outcome, err)
		}
		d.metrics.derivations.WithLabelValues(outcome).Inc()
		d.metrics.derivationDuration.Observe(time.Since(startedAt).Seconds())
		span.End()
	}()

	if cached, ok := d.lookup(ctx, key); ok {
		return cached, nil
	}

	source, err := d.fetch(ctx, req.Source)
	if err != nil {
		return domain.Artifact{}, err
	}

	op := Operation{Format: req.OutputFormat}
	if req.Width != nil {
		op.Width = *req.Width
	}
	if req.Height != nil {
		op.Height = *req.Height
	}
	if req.Blur != nil {
		op.Blur = *req.Blur
	}

	if err := d.checkBounds(source, op); err != nil {
		return domain.Artifact{}, err
	}

	if op.Format == "" {
		op.Format = mimetype.Detect(source).String()
	}

	_, transformSpan := d.tracer.Start(ctx, "pipeline.transform")
	out, err := d.transformer.Transform(ctx, source, op)
	transformSpan.End()
	if err != nil {
		return domain.Artifact{}, err
	}

	artifact = domain.Artifact{
		Key:         key,
		ContentType: out.ContentType,
		Data:        out.Data,
		Width:       out.Width,
		Height:      out.Height,
		CreatedAt:   d.now().UTC(),
	}
	if err := d.store.Put(ctx, artifact); err != nil {
		// The artifact is complete; failing to cache it only costs a later re-derivation.
		d.metrics.storeErrors.WithLabelValues("put").Inc()
		d.logger.Printf("artifact store failed key=%s err=%v", key, err)
	}
	return artifact, nil
}

func (d *Deriver) fetch(ctx context.Context, source string) ([]byte, error) {
	ctx, span := d.tracer.Start(ctx, "pipeline.fetch")
	defer span.End()

	ok, err := d.fetcher.Exists(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, source, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is unknown image", domain.ErrSourceUnavailable, source)
	}

	data, err := d.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to fetch %s: %v", domain.ErrSourceUnavailable, source, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrSourceUnavailable, source)
	}

	d.metrics.sourceBytes.Add(float64(len(data)))
	span.SetAttributes(attribute.Int("image.source_bytes", len(data)))
	return data, nil
}

// dimensionReader is implemented by transformers that read image headers
// themselves, including formats the Go decoders do not register.
type dimensionReader interface {
	Dimensions(input []byte) (int, int, error)
}

func (d *Deriver) sourceDimensions(source []byte) (int, int, error) {
	if r, ok := d.transformer.(dimensionReader); ok {
		return r.Dimensions(source)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(source))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// checkBounds reads only the image header so oversized sources and oversized
// outputs are both rejected before any pixels are allocated.
func (d *Deriver) checkBounds(source []byte, op Operation) error {
	srcW, srcH, err := d.sourceDimensions(source)
	if err != nil {
		return fmt.Errorf("%w: decode image header: %v", domain.ErrUnsupportedOrCorruptImage, err)
	}
	if srcW <= 0 || srcH <= 0 {
		return fmt.Errorf("%w: image has invalid dimensions %dx%d", domain.ErrUnsupportedOrCorruptImage, srcW, srcH)
	}
	if int64(srcW)*int64(srcH) > d.maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrUnsupportedOrCorruptImage, srcW, srcH, d.maxPixels)
	}

	dstW, dstH, err := FitDimensions(srcW, srcH, op.Width, op.Height)
	if err != nil {
		return err
	}
	if int64(dstW)*int64(dstH) > d.maxPixels {
		return fmt.Errorf("%w: output %dx%d exceeds %d pixels", domain.ErrInvalidTransformParameters, dstW, dstH, d.maxPixels)
	}
	return nil
}
