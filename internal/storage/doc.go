// Package storage persists auto-reply rules.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file
//   - "pebble": cockroachdb/pebble directory, key = channel \x00 match
//   - "memory" (or empty): process-local map, for tests and dry runs
//
// Store implementations are safe for concurrent use, but callers normally
// reach them through the task engine so storage work stays on a fixed pool.
package storage
