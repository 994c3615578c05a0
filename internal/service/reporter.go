package service

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
)

// Reporter receives failures that are not returned to the caller.
type Reporter interface {
	Report(ctx context.Context, operation string, err error)
}

// FailurePublisher emits failure events. *event.Producer satisfies it.
type FailurePublisher interface {
	PublishOperationFailed(ctx context.Context, operation string, cause error) error
}

// LogReporter logs each failure at error level, counts it and, when a
// publisher is set, emits an operation.failed event.
type LogReporter struct {
	logger    *slog.Logger
	publisher FailurePublisher
}

// NewLogReporter creates a reporter. publisher may be nil.
func NewLogReporter(logger *slog.Logger, publisher FailurePublisher) *LogReporter {
	return &LogReporter{
		logger:    logger,
		publisher: publisher,
	}
}

// Report implements Reporter.
func (r *LogReporter) Report(ctx context.Context, operation string, err error) {
	kind := failureKind(err)
	operationFailuresTotal.WithLabelValues(operation, kind).Inc()

	attrs := []any{
		slog.String("operation", operation),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	}
	var netErr *apperrors.NetworkError
	if errors.As(err, &netErr) && netErr.Status != 0 {
		attrs = append(attrs, slog.Int("status", netErr.Status))
	}
	logger.WithContext(ctx, r.logger).ErrorContext(ctx, "storefront operation failed", attrs...)

	if r.publisher == nil {
		return
	}
	if pubErr := r.publisher.PublishOperationFailed(ctx, operation, err); pubErr != nil {
		r.logger.WarnContext(ctx, "failed to publish operation.failed event",
			slog.String("operation", operation),
			slog.String("error", pubErr.Error()),
		)
	}
}

func failureKind(err error) string {
	switch {
	case apperrors.IsNetwork(err):
		return "network"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
