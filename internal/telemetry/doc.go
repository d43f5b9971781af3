// Package telemetry wires OpenTelemetry tracing and metrics for inquire.
//
// New installs the configured providers as the otel globals. The engine
// packages (search, clustering, embeddings) create their tracers and meters
// from those globals, so a batch run only needs:
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter construction failures leave the instance degraded rather than
// failing the run; Health reports the last failure.
//
// Tests use NewTestTelemetry and InstallGlobal to capture spans and metrics
// in memory.
package telemetry
