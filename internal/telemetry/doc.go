// Package telemetry wires OpenTelemetry tracing and metrics for ragd.
//
// Export is disabled by default. When enabled, spans and metrics go to an
// OTLP collector over gRPC or HTTP/protobuf and the global providers are
// replaced so that instrumented libraries pick them up.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer("ragd/pipeline").Start(ctx, "Pipeline.Ask")
//	defer span.End()
//
// Setup failures degrade to no-op providers; see Health.
//
// Tests use NewTestTelemetry, which keeps spans and metrics in memory.
package telemetry
