package singleton

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies why a claimant or child terminated. Followers use it
// to decide whether to re-enter the claim race, and supervisors use it
// to decide whether to restart.
type Reason int

const (
	// ReasonClean is an intentional, coordinated shutdown.
	ReasonClean Reason = iota
	// ReasonConflict is a shutdown forced by losing a name-conflict
	// resolution after a partition healed.
	ReasonConflict
	// ReasonAbnormal is a crash, forced kill, or unexpected exit.
	ReasonAbnormal
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonClean:
		return "clean"
	case ReasonConflict:
		return "conflict"
	case ReasonAbnormal:
		return "abnormal"
	default:
		return "unknown"
	}
}

// Intentional returns true for shutdowns that were deliberate. Followers
// observing an intentional owner shutdown do not immediately re-claim,
// and transient restart policies do not resurrect after one.
func (r Reason) Intentional() bool {
	return r == ReasonClean || r == ReasonConflict
}

// Termination is the one-shot notification a liveness watch delivers
// when its target goes away.
type Termination struct {
	Handle Handle
	Reason Reason
}

// Watch observes a single remote claimant. It delivers at most one
// Termination on Done, then the channel is closed.
type Watch interface {
	// Done delivers the termination notification. The channel is closed
	// after delivery or after Stop.
	Done() <-chan Termination

	// Stop disarms the watch. Safe to call multiple times.
	Stop()
}

// Presence is the announcing side of a liveness monitor: it keeps a
// claimant observable until closed with a reason.
type Presence interface {
	// Close withdraws the presence, tagging the termination with the
	// given reason. Watchers receive it as their one-shot notification.
	Close(reason Reason)
}

// Monitor lets a coordinator announce its own liveness and watch the
// liveness of a remote claimant.
type Monitor interface {
	// Watch arms a one-shot termination watch on the target handle.
	Watch(ctx context.Context, target Handle) (Watch, error)

	// Announce makes handle observable to watchers until the returned
	// presence is closed. A presence that disappears without closing is
	// reported to watchers as an abnormal termination.
	Announce(ctx context.Context, handle Handle) (Presence, error)
}

// reasonError carries a stop reason through a context cancellation cause
// into the child's cleanup path.
type reasonError struct {
	reason Reason
}

func (e *reasonError) Error() string {
	return fmt.Sprintf("singleton: stopped (%s)", e.reason)
}

// StopReason reports why the child's context was cancelled. It returns
// ReasonAbnormal if the context is not done or was not cancelled through
// a coordinator stop path.
func StopReason(ctx context.Context) Reason {
	var re *reasonError
	if errors.As(context.Cause(ctx), &re) {
		return re.reason
	}
	return ReasonAbnormal
}
