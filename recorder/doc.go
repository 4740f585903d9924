// Package recorder hands captured events from hooks to their consumers.
//
// Hooks run inline on the caller's goroutine, so they only ever call
// Record. Async buffers events and writes them in batches to a
// contracts.Sink such as the SQLite store or the RabbitMQ publisher:
//
//	store, _ := sqlitestore.Open("events.db")
//	rec := recorder.NewAsync(store, recorder.WithBatchSize(50))
//	defer rec.Close()
package recorder
