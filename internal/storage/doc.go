// Package storage persists the delivery journal and optional dedup state.
//
// Drivers:
//   - "file": JSON Lines journal plus a dedup snapshot/journal pair
//   - "sqlite": single database file (modernc.org/sqlite, pure Go)
//
// The journal is an audit trail of terminal delivery outcomes. It is never
// replayed.
package storage
