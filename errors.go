// Package singleton provides NATS-based coordination for running exactly
// one instance of a worker process across a cluster of cooperating nodes.
package singleton

import "errors"

// Coordination errors.
var (
	// ErrClaimHeld indicates the uniqueness key is already claimed by another holder.
	ErrClaimHeld = errors.New("key already claimed by another holder")

	// ErrNotFound indicates no live holder exists for the uniqueness key.
	ErrNotFound = errors.New("no holder for key")

	// ErrAlreadyStarted indicates the coordinator is already running.
	ErrAlreadyStarted = errors.New("coordinator already started")

	// ErrNotStarted indicates the coordinator has not been started yet.
	ErrNotStarted = errors.New("coordinator not started")

	// ErrChildAlreadyRunning indicates an attempt to start a second child.
	ErrChildAlreadyRunning = errors.New("child already running")

	// ErrChildNotRunning indicates the operation requires a running child.
	ErrChildNotRunning = errors.New("child not running")

	// ErrStopTimeout indicates the child did not stop within the grace period.
	ErrStopTimeout = errors.New("child did not stop within grace period")

	// ErrGroupClosed indicates the group connection has been closed.
	ErrGroupClosed = errors.New("group closed")
)
