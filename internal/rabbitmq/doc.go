// Package rabbitmq holds the broker plumbing behind the RabbitMQ event sink.
//
// ConnectionManager keeps one connection alive and re-dials with backoff when
// the broker drops it. Publisher publishes batches on a confirm-mode channel
// and returns only after every message was acknowledged.
package rabbitmq
