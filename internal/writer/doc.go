// Package writer archives journal entries to PostgreSQL.
//
// The writer batches rows by size and by time, and inserts them with
// append-only semantics (ON CONFLICT DO NOTHING on the entry ID).
package writer
