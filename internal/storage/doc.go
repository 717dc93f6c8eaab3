// Package storage persists attempt summaries and user accounts.
//
// It currently supports:
//   - Append-only attempt summaries (one per dispatched batch)
//   - Dashboard aggregates (overall / per-channel / since-midnight)
//   - User accounts for the auth layer
package storage
