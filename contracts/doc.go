// Package contracts provides the captured data types and consumer interfaces of hookmate.
//
// Hooks never write anywhere themselves. They build typed events and hand them to a
// Recorder, which forwards them to whatever consumer the host configured:
//   - Event: Base interface for all captured data
//   - SpanEvent: One observed call with timing, outcome and attributes
//   - DatabaseEvent: A SpanEvent enriched with database identity, SQL and bind values
//   - Recorder: Non-blocking hand-off used by hooks
//   - Sink: Batch consumer used behind an asynchronous recorder
//
// The package also declares the error types shared by the registry and the
// transformer, so that callers can match them without importing internals.
package contracts
