package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// instrumentationName identifies inquire's log records in OpenTelemetry.
const instrumentationName = "github.com/fyrsmithlabs/inquire"

// newOTelCore bridges zap entries into an OpenTelemetry logger provider.
// It returns nil when OTEL output is off or no provider is available.
func newOTelCore(cfg *Config, provider log.LoggerProvider) zapcore.Core {
	if !cfg.Output.OTEL || provider == nil {
		return nil
	}
	return otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(provider))
}
