// Package store defines the record-store contract every stateful
// component coordinates through. Per-record transactions are the only
// synchronization primitive in the system; handlers hold no mutable
// state between invocations.
package store

import "context"

// Tx is the view of the store inside a transaction. Reads observe
// writes made earlier in the same transaction.
type Tx interface {
	// Get decodes the record at path into dest and reports whether it
	// exists. dest is left untouched for a missing record.
	Get(path string, dest any) (bool, error)
	// Set replaces the record at path.
	Set(path string, value any) error
	// SetMerge merges the given fields into the record at path,
	// creating it if absent. Keys use the record's wire field names.
	SetMerge(path string, fields map[string]any) error
}

// Store is a document store with per-record atomic transactions.
// Record paths are slash-separated, e.g. "sessions/abc" or
// "issuers/123/invoices/inv-42".
type Store interface {
	Get(ctx context.Context, path string, dest any) (bool, error)
	Set(ctx context.Context, path string, value any) error
	SetMerge(ctx context.Context, path string, fields map[string]any) error
	// RunTransaction executes fn atomically. If fn returns an error the
	// transaction's writes are discarded and the error is returned.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}
