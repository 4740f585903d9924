// Package registry provides the process-wide interceptor dispatch table.
//
// Instrumented call sites hold integer ids instead of interceptor references.
// At runtime the id is resolved through Dispatch, which reads an immutable
// snapshot and never takes a lock. The table itself belongs to a Session and is
// installed with Bind; only the holder of the session's Token can Unbind it.
package registry
