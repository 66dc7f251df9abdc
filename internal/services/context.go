package services

import "context"

// correlationKey names a string carried on a context for log correlation.
type correlationKey int

const (
	projectIDKey correlationKey = iota
	runIDKey
	stageKey
	requestIDKey
)

func withValue(ctx context.Context, key correlationKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueOf(ctx context.Context, key correlationKey) (string, bool) {
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}

// WithProjectID tags ctx with the project being worked on. Empty ids are ignored.
func WithProjectID(ctx context.Context, id string) context.Context {
	return withValue(ctx, projectIDKey, id)
}

// ProjectIDFromContext returns the project tag, if any.
func ProjectIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, projectIDKey) }

// WithRunID tags ctx with the generation run.
func WithRunID(ctx context.Context, id string) context.Context {
	return withValue(ctx, runIDKey, id)
}

func RunIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, runIDKey) }

// WithStage tags ctx with the pipeline stage being executed.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, stageKey) }

// WithRequestID tags ctx with the HTTP request correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, requestIDKey) }
