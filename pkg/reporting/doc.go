// Package reporting turns the engine's run events into operator-facing
// output: structured log lines, Prometheus metrics, published run events and
// rows in the run history store.
//
// A single Recorder is shared by every handler of a run. It is safe for
// concurrent use because mutation events arrive from pool workers.
package reporting
