package logging

import (
	"context"
	"log/slog"

	"comicforge/internal/services"
)

// Structured field keys shared by every component.
const (
	FieldComponent      = "component"
	FieldProjectID      = "project_id"
	FieldRunID          = "run_id"
	FieldStage          = "stage"
	FieldCorrelationID  = "correlation_id"
	FieldEventType      = "event_type"
	FieldAttempt        = "attempt" // 1-based
	FieldErrorKind      = "error_kind"
	FieldErrorOperation = "error_operation"
	FieldErrorHint      = "error_hint" // what the operator should check next
	FieldImpact         = "impact"
)

var contextFields = []struct {
	key    string
	lookup func(context.Context) (string, bool)
}{
	{FieldProjectID, services.ProjectIDFromContext},
	{FieldRunID, services.RunIDFromContext},
	{FieldStage, services.StageFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// ContextFields returns the correlation values carried by ctx as attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	for _, f := range contextFields {
		if v, ok := f.lookup(ctx); ok {
			attrs = append(attrs, slog.String(f.key, v))
		}
	}
	return attrs
}

// WithContext stamps logger with ContextFields(ctx). A nil logger discards.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(Args(fields...)...)
	}
	return logger
}
