package singleton

import (
	"context"
	"fmt"
	"time"
)

// StartFunc runs the child worker. It must block until ctx is cancelled
// and return nil on a clean exit. An error return is treated as an
// abnormal child exit. The cancellation cause carries the stop reason;
// use StopReason(ctx) inside cleanup code to inspect it.
type StartFunc func(ctx context.Context) error

// RestartPolicy controls whether a supervised coordinator is recreated
// after it terminates.
type RestartPolicy int

const (
	// RestartTransient recreates the coordinator only after an abnormal
	// termination. Clean and conflict-induced shutdowns are final.
	RestartTransient RestartPolicy = iota
	// RestartPermanent always recreates the coordinator.
	RestartPermanent
	// RestartTemporary never recreates the coordinator.
	RestartTemporary
)

// String returns the string representation of the policy.
func (p RestartPolicy) String() string {
	switch p {
	case RestartTransient:
		return "transient"
	case RestartPermanent:
		return "permanent"
	case RestartTemporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// ChildSpec describes the worker a coordinator runs when it owns the
// uniqueness key. It is immutable after construction.
type ChildSpec struct {
	// ID is the worker's declared identifier. The cluster-wide
	// uniqueness key is derived from it, so two specs with the same ID
	// contend for the same singleton role.
	ID string

	// Start runs the worker.
	Start StartFunc

	// Restart is consulted by the Supervisor when the coordinator
	// terminates.
	Restart RestartPolicy

	// Shutdown bounds how long Stop waits for the worker to exit after
	// cancellation. Zero means DefaultShutdownGrace.
	Shutdown time.Duration
}

// Validate checks the spec for required fields.
func (s ChildSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("child spec: ID is required")
	}
	if s.Start == nil {
		return fmt.Errorf("child spec %q: Start is required", s.ID)
	}
	if s.Shutdown < 0 {
		return fmt.Errorf("child spec %q: Shutdown must not be negative", s.ID)
	}
	return nil
}

// grace returns the effective shutdown grace period.
func (s ChildSpec) grace() time.Duration {
	if s.Shutdown == 0 {
		return DefaultShutdownGrace
	}
	return s.Shutdown
}

// CoordinatorSpec describes a coordinator: the key it races for and the
// child it runs on winning.
type CoordinatorSpec struct {
	// Key is the cluster-wide uniqueness key.
	Key string

	// Child is started when this coordinator becomes the owner.
	Child ChildSpec

	// Restart is the policy applied by the Supervisor to the
	// coordinator itself.
	Restart RestartPolicy
}

// Wrap builds a coordinator spec for the given child. The uniqueness key
// is fixed to the child's declared ID and the restart policy is
// transient: a supervised coordinator is recreated after a crash but not
// after an intentional or conflict-induced shutdown.
func Wrap(child ChildSpec) CoordinatorSpec {
	return CoordinatorSpec{
		Key:     child.ID,
		Child:   child,
		Restart: RestartTransient,
	}
}

// Validate checks the coordinator spec.
func (s CoordinatorSpec) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("coordinator spec: Key is required")
	}
	return s.Child.Validate()
}
