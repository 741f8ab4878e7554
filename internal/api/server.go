package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/dunamismax/pagewize/internal/pagewize"
	"github.com/dunamismax/pagewize/internal/queue"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type ImageDeriver interface {
	GetOrDerive(ctx context.Context, req domain.TransformRequest) (domain.Artifact, error)
}

type WarmupEnqueuer interface {
	EnqueueDeriveImage(ctx context.Context, payload queue.DeriveImagePayload) (*asynq.TaskInfo, bool, error)
}

type ContentClient interface {
	FetchContent(ctx context.Context, slug, language string) (pagewize.Response, error)
	AddComment(ctx context.Context, comment pagewize.Comment) (pagewize.Response, error)
}

// Options wires the optional surfaces of the server. Deriver is required;
// leaving Warmups or Content nil disables the matching routes.
type Options struct {
	Deriver     ImageDeriver
	BlurPolicy  string
	CacheMaxAge time.Duration
	Warmups     WarmupEnqueuer
	Content     ContentClient
	Templates   *template.Template
	RateLimiter RateLimiter
	Registry    *prometheus.Registry
}

type Server struct {
	logger      *log.Logger
	deriver     ImageDeriver
	blurPolicy  string
	cacheMaxAge time.Duration
	warmups     WarmupEnqueuer
	content     ContentClient
	templates   *template.Template
	rateLimiter RateLimiter
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
	handler     http.Handler
}

func NewServer(logger *log.Logger, opts Options) (*Server, error) {
	if opts.Deriver == nil {
		return nil, fmt.Errorf("image deriver is required")
	}
	if opts.Content != nil && opts.Templates == nil {
		return nil, fmt.Errorf("content templates are required when the content client is set")
	}
	if opts.BlurPolicy == "" {
		opts.BlurPolicy = domain.BlurPolicySteps
	}

	s := &Server{
		logger:      logger,
		deriver:     opts.Deriver,
		blurPolicy:  opts.BlurPolicy,
		cacheMaxAge: opts.CacheMaxAge,
		warmups:     opts.Warmups,
		content:     opts.Content,
		templates:   opts.Templates,
		rateLimiter: opts.RateLimiter,
		metrics:     newMetrics(opts.Registry),
		tracer:      otel.Tracer("pagewize/api"),
		mux:         http.NewServeMux(),
	}
	s.routes()

	recoverer := sentryhttp.New(sentryhttp.Options{Repanic: true})
	s.handler = recoverer.Handle(s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux))))
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /image", s.handleImage)
	if s.warmups != nil {
		s.mux.HandleFunc("POST /v1/prewarm", s.handlePrewarm)
	}
	if s.content != nil {
		s.mux.HandleFunc("GET /{slug...}", s.handleContent)
		s.mux.HandleFunc("POST /{slug...}", s.handleComment)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	req, err := domain.Normalize(domain.RawRequestFromQuery(r.URL.Query()), s.blurPolicy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	artifact, err := s.deriver.GetOrDerive(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	etag := `"` + artifact.Key + `"`
	w.Header().Set("ETag", etag)
	if s.cacheMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.cacheMaxAge.Seconds())))
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		s.logger.Printf("write image failed key=%s err=%v", artifact.Key, err)
	}
}

// prewarmBody mirrors the image query parameters; numbers may be sent either
// as JSON numbers or strings.
type prewarmBody struct {
	Source string       `json:"src"`
	Width  *json.Number `json:"w"`
	Height *json.Number `json:"h"`
	Format *string      `json:"f"`
	Blur   *json.Number `json:"b"`
}

func (b prewarmBody) raw() domain.RawRequest {
	return domain.RawRequest{
		Source: b.Source,
		Width:  numberString(b.Width),
		Height: numberString(b.Height),
		Format: b.Format,
		Blur:   numberString(b.Blur),
	}
}

func numberString(n *json.Number) *string {
	if n == nil {
		return nil
	}
	v := n.String()
	return &v
}

func (s *Server) handlePrewarm(w http.ResponseWriter, r *http.Request) {
	raw := domain.RawRequestFromQuery(r.URL.Query())
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body prewarmBody
		if err := decodeJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: domain.KindInvalidTransformParameters})
			return
		}
		raw = body.raw()
	}

	req, err := domain.Normalize(raw, s.blurPolicy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := queue.DeriveImagePayload{
		RequestID:   uuid.NewString(),
		Request:     req,
		RequestedAt: time.Now().UTC(),
	}
	info, duplicate, err := s.warmups.EnqueueDeriveImage(r.Context(), payload)
	if err != nil {
		s.metrics.warmupsEnqueued.WithLabelValues("failed").Inc()
		s.logger.Printf("enqueue warm-up failed request_id=%s err=%v", payload.RequestID, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to enqueue warm-up", Kind: domain.KindInternal})
		return
	}

	result := "enqueued"
	if duplicate {
		result = "duplicate"
	}
	s.metrics.warmupsEnqueued.WithLabelValues(result).Inc()

	resp := map[string]any{
		"request_id": payload.RequestID,
		"key":        req.CanonicalKey(),
		"duplicate":  duplicate,
	}
	if info != nil {
		resp["task_id"] = info.ID
		resp["queue"] = info.Queue
		resp["state"] = info.State.String()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusForKind(kind string) int {
	switch kind {
	case domain.KindMissingSource, domain.KindInvalidBlur, domain.KindInvalidDimension, domain.KindInvalidTransformParameters:
		return http.StatusBadRequest
	case domain.KindSourceUnavailable:
		return http.StatusNotFound
	case domain.KindUnsupportedOrCorruptImage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		s.logger.Printf("request failed path=%s err=%v", r.URL.Path, err)
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		hub.CaptureException(err)
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: message, Kind: kind})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
