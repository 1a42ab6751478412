package memory

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/becomeliminal/convmem/core"
)

const namespace = "convmem"

var tracer = otel.Tracer("convmem/memory")

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Memory operations by outcome.",
		},
		[]string{"operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Memory operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// FactsDeduplicated counts saves folded into an existing fact.
	FactsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "facts_deduplicated_total",
		Help:      "Fact saves merged into an existing near-duplicate.",
	})

	// TurnsDegraded counts turns whose memory write failed but the
	// conversation went on.
	TurnsDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_degraded_total",
		Help:      "Turns recorded without memory because storage failed.",
	})
)

// observe starts a span for op and returns a func that ends it and records
// the outcome. Usage: ctx, done := observe(ctx, "search", userID); defer func() { done(err) }()
func observe(ctx context.Context, op, userID string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "memory."+op,
		trace.WithAttributes(attribute.String("user_id", userID)))

	return ctx, func(err error) {
		operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		operationsTotal.WithLabelValues(op, status(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
