// Package telemetry wires OpenTelemetry tracing and metrics for ragd.
//
// Traces and metrics are exported over OTLP (gRPC or HTTP/protobuf) to a
// collector. When telemetry is disabled the global no-op providers stay in
// place, so packages can call otel.Tracer and otel.Meter unconditionally.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures never stop the server; the instance is marked degraded
// and the rest of the process keeps running without export.
package telemetry
