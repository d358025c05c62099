// Package storage persists the subscriber set and the per-subscriber repeat
// counts.
//
// Two narrow interfaces cover everything the bot needs: SetStore for the
// subscriber identifiers and CounterStore for id -> count. Drivers:
//   - file: the flat users/repeats text files (default)
//   - sqlite: a single SQLite database file (modernc.org/sqlite)
//   - badger: an embedded BadgerDB directory
//   - redis: a Redis set and hash
//   - memory: process-local maps
//
// Every mutation is durable when the call returns.
package storage
