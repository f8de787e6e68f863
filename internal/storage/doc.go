// Package storage persists the announcement cache between runs.
//
// The cache is a snapshot: referendum id -> time remaining at the last run.
// Every run loads it once and overwrites it once.
//
// Drivers:
//   - "file": a JSON object on disk (default)
//   - "sqlite": a SQLite database (build tag sqlite)
package storage
