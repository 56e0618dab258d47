// Package logging provides the structured logger used throughout ragd.
//
// Logger wraps zap and adds a Trace level below Debug, context-aware
// methods that attach trace_id, span_id, tenant, generation and request.id
// from the context, and an encoder that redacts sensitive keys and masks
// API-key shaped substrings.
//
// Console output is written to stderr so that answers and health reports on
// stdout stay machine-readable. When telemetry is enabled the same records
// are also shipped through the OpenTelemetry log bridge.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTenant(ctx, "docs")
//	logger.Info(ctx, "index published", zap.Int("chunks", n))
//
// Sampling is split by level: debug and trace share one budget, info and warn
// another, and errors are never sampled.
//
// Tests use NewTestLogger, which records entries in memory:
//
//	tl := logging.NewTestLogger()
//	tl.AssertLogged(t, zapcore.WarnLevel, "fetch attempt failed")
//	tl.AssertNoValue(t, apiKey)
package logging
