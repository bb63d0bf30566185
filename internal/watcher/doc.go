// Package watcher observes the environment tree and reports lifecycle
// changes as events.
//
// A Watcher listens on the envs directory and on each environment's
// conda-meta directory, so it sees both directory-level changes (an
// environment appearing or disappearing) and sentinel flips inside an
// existing environment. Filesystem notifications only schedule a rescan;
// the rescan diffs the marked/broken inventory against the previous one
// and emits the difference, so a burst of file operations collapses into
// one batch of events.
//
// The watcher can run in the foreground, streaming events to the caller,
// or as a detached daemon started by re-executing the current binary.
package watcher
