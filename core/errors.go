package core

import "errors"

var (
	// ErrFatal marks errors that must halt ingestion. The driver never retries
	// a batch whose failure is joined with ErrFatal.
	ErrFatal = errors.New("ledger indexer fatal error")

	// ErrDesync is returned when a batch's parent state version does not match
	// the persisted top of ledger. The caller has desynchronized and must be
	// restarted from a consistent point.
	ErrDesync = errors.New("ledger extension out of sync with top of ledger")

	// ErrCorruptBatch is returned when the substate stream itself is
	// inconsistent, e.g. a child references a parent that cannot be traced to
	// an owner or global ancestor.
	ErrCorruptBatch = errors.New("corrupt ledger extension batch")
)
