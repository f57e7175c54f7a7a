package core

import "errors"

var (
	// ErrCommitFailed is returned when a flushed memtable's edit could not be
	// recorded in the manifest. The affected tables are rolled back to the
	// pending state and remain eligible for a later flush attempt.
	ErrCommitFailed = errors.New("unable to commit flushed memtable")

	// ErrCorrupted indicates an on-disk structure failed validation.
	ErrCorrupted = errors.New("corrupted data")

	// ErrClosed is returned by operations on a closed engine or file.
	ErrClosed = errors.New("already closed")
)
