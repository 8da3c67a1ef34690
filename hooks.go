package singleton

import "context"

// Hooks lets callers react to coordinator transitions. All methods are
// called synchronously from the coordinator's event loop with a bounded
// context; implementations should spawn goroutines if they need async
// behavior. Hook errors are logged, never fatal.
type Hooks interface {
	// OnOwner is called when this coordinator wins the claim race.
	OnOwner(ctx context.Context) error

	// OnFollower is called when this coordinator loses the claim race
	// and starts watching the current owner.
	OnFollower(ctx context.Context, owner Handle) error

	// OnChildStarted is called after the child worker has started.
	OnChildStarted(ctx context.Context, child Handle) error

	// OnConflictLost is called when this coordinator loses a
	// name-conflict resolution, before its child is stopped.
	OnConflictLost(ctx context.Context, survivor Handle) error
}

// NoOpHooks is a default implementation of Hooks that does nothing.
type NoOpHooks struct{}

func (NoOpHooks) OnOwner(ctx context.Context) error                  { return nil }
func (NoOpHooks) OnFollower(ctx context.Context, _ Handle) error     { return nil }
func (NoOpHooks) OnChildStarted(ctx context.Context, _ Handle) error { return nil }
func (NoOpHooks) OnConflictLost(ctx context.Context, _ Handle) error { return nil }

var _ Hooks = NoOpHooks{}
