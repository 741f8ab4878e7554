package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/pagewize/internal/config"
	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/dunamismax/pagewize/internal/queue"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type deriver interface {
	GetOrDerive(ctx context.Context, req domain.TransformRequest) (domain.Artifact, error)
}

type Server struct {
	logger  *log.Logger
	server  *asynq.Server
	deriver deriver
	metrics *metrics
	tracer  trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	deriver deriver,
	registry *prometheus.Registry,
) (*Server, error) {
	if deriver == nil {
		return nil, fmt.Errorf("deriver is required")
	}

	s := &Server{
		logger:  logger,
		deriver: deriver,
		metrics: newMetrics(registry),
		tracer:  otel.Tracer("pagewize/worker"),
	}
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: max(1, workerCfg.Concurrency),
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeDeriveImage, s.handleDeriveImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleDeriveImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "failed"

	payload, err := queue.ParseDeriveImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.derive_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("request.id", payload.RequestID),
		attribute.String("image.source", payload.Request.Source),
	)
	defer span.End()
	defer func() {
		s.metrics.taskDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.tasksTotal.WithLabelValues(outcome).Inc()
	}()

	s.metrics.activeTasks.Inc()
	defer s.metrics.activeTasks.Dec()

	s.logger.Printf("Warming... request_id=%s source=%s", payload.RequestID, payload.Request.Source)

	artifact, err := s.deriver.GetOrDerive(ctx, payload.Request)
	if err != nil {
		kind := domain.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		if !retryable(err) {
			outcome = "rejected"
			return fmt.Errorf("derive %s: %v: %w", kind, err, asynq.SkipRetry)
		}
		return fmt.Errorf("derive: %w", err)
	}

	outcome = "warmed"
	s.metrics.bytesWarmed.Add(float64(len(artifact.Data)))
	s.logger.Printf("Warmed request_id=%s key=%s bytes=%d", payload.RequestID, artifact.Key, len(artifact.Data))
	span.SetStatus(codes.Ok, "warmed")
	return nil
}

// retryable reports whether a later attempt could succeed. Only an
// unreachable source or an internal failure may be transient.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrSourceUnavailable) {
		return true
	}
	return domain.KindOf(err) == domain.KindInternal
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
