// Package dispatch implements the bulk-dispatch engine.
//
// The engine takes a parsed recipient list plus a delivery policy, drives
// per-recipient delivery attempts against a channel sender, classifies each
// outcome, and returns a structured batch result.
//
// Failure model
//
// A record-level failure is always recoverable: the batch continues to the
// next record, and the outcome set partitions the input exactly. The only
// errors Dispatch itself returns are batch preconditions (empty record set,
// missing shared message, nil sender), raised before any record is attempted.
//
// Concurrency
//
// Workers bounds a per-batch pool. Sequential dispatch preserves input order
// naturally; the pool path reassembles outcomes by input index so result
// lists are deterministic either way. Channels backed by a single shared
// mutable session (WhatsApp) must dispatch with Workers=1.
package dispatch
