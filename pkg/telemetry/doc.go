// Package telemetry provides the observability stack of a deployment process:
// structured logging (zerolog), tracing (OpenTelemetry), metrics (Prometheus)
// and run lifecycle events.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// The engine and the HTTP client create spans through the global otel
// provider that NewTracer installs. Metrics and events are fed by the run
// recorder in package reporting.
//
// # Metrics
//
// All collectors live on a private registry under the configured namespace:
//
//   - runs_started_total, runs_completed_total{status}, active_runs
//   - run_duration_seconds{status}
//   - mutations_total{type,operation,status}
//   - mutation_duration_seconds{type,operation}
//   - handler_duration_seconds{type,status}
//   - skipped_deletions_total{type}
//   - errors_total{class}
//
// Serve exposes them over HTTP when a listen address is configured.
package telemetry
