package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type loggerCtxKey struct{}

// Run identifies the run a log entry belongs to.
type Run struct {
	ID     string
	Target string
}

// WithRun attaches run identity to ctx.
func WithRun(ctx context.Context, id, target string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, Run{ID: id, Target: target})
}

// RunFromContext returns the run attached to ctx, if any.
func RunFromContext(ctx context.Context) (Run, bool) {
	r, ok := ctx.Value(runCtxKey{}).(Run)
	return r, ok
}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if r, ok := RunFromContext(ctx); ok {
		if r.ID != "" {
			fields = append(fields, zap.String("run.id", r.ID))
		}
		if r.Target != "" {
			fields = append(fields, zap.String("run.target", r.Target))
		}
	}
	return fields
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
