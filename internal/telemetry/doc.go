// Package telemetry wires OpenTelemetry tracing and metrics for the federated
// daemon.
//
// Spans from the platform, the search index and the control API, and the
// HTTP request instruments, go through the global providers that New
// installs. Export is OTLP over gRPC (default) or http/protobuf:
//
//	observability:
//	  enable_telemetry: true
//	  otlp_endpoint: "localhost:4317"
//	  otlp_protocol: "grpc"
//	  trace_sampling_rate: 0.25
//
// Telemetry is off by default. When an exporter cannot be created the
// instance degrades to no-op providers and the daemon keeps running.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
