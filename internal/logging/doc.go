// Package logging provides structured logging for inquire runs.
//
// Logger wraps Zap with:
//   - a Trace level (-2, below Debug) for per-hypothesis likelihood detail
//   - stdout, file and OpenTelemetry outputs
//   - context field injection (trace_id, span_id, run.id, run.target)
//   - level-aware sampling where errors are never sampled
//
// Log with context:
//
//	ctx = logging.WithRun(ctx, rec.ID, "cat")
//	logger.Info(ctx, "completed run", zap.Int("exchanges", n))
//
// Engine packages take a plain *zap.Logger; hand them Underlying().
//
// Tests use TestLogger:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "batch finished")
//	tl.AssertLogged(t, zapcore.InfoLevel, "batch finished")
package logging
