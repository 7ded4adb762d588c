// Package storage persists the bot's durable state: the per-guild log
// destination map and per-guild nickname history.
//
// Two drivers are available:
//   - file: two indented JSON documents in a directory, rewritten atomically
//   - sqlite: a single SQLite database (modernc.org/sqlite, no cgo)
package storage
