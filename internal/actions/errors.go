package actions

import "errors"

var (
	// ErrEnvironmentMissing reports an operation against a version that has
	// no installed environment.
	ErrEnvironmentMissing = errors.New("environment not installed")

	// ErrNoSnapshot reports a restore with no snapshot to restore from.
	ErrNoSnapshot = errors.New("no snapshot recorded")

	// ErrNoOlderSnapshot reports a revert with no snapshot for a version
	// older than the current one.
	ErrNoOlderSnapshot = errors.New("no snapshot for an older version")

	// ErrNoPendingUpdate reports a delayed-update completion when no marked
	// newer environment is waiting.
	ErrNoPendingUpdate = errors.New("no pending update to finish")
)
