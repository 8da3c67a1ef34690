package singleton

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ChildExit reports a child that exited on its own, without a Stop.
type ChildExit struct {
	Handle Handle
	Err    error // nil means the worker returned cleanly
}

// ChildRunner owns exactly one child worker on behalf of a coordinator:
// it starts the worker, exposes its live handle, and stops it within a
// bounded grace period.
type ChildRunner struct {
	nodeID string
	logger *slog.Logger

	mu      sync.Mutex
	spec    ChildSpec
	handle  Handle
	cancel  context.CancelCauseFunc
	done    chan struct{}
	running bool

	exitCh chan ChildExit
}

// NewChildRunner creates a runner for children on the given node.
func NewChildRunner(nodeID string, logger *slog.Logger) *ChildRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChildRunner{
		nodeID: nodeID,
		logger: logger.With("component", "child", "node", nodeID),
		exitCh: make(chan ChildExit, 1),
	}
}

// Start launches the child described by spec and returns its live
// handle. The worker runs until its context is cancelled; a spontaneous
// return is reported on Exits.
func (r *ChildRunner) Start(ctx context.Context, spec ChildSpec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return Handle{}, err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Handle{}, ErrChildAlreadyRunning
	}

	childCtx, cancel := context.WithCancelCause(ctx)
	handle := NewHandle(r.nodeID)
	done := make(chan struct{})

	r.spec = spec
	r.handle = handle
	r.cancel = cancel
	r.done = done
	r.running = true
	r.mu.Unlock()

	r.logger.Info("starting child", "child", spec.ID, "handle", handle.String())

	go func() {
		err := spec.Start(childCtx)
		close(done)

		var re *reasonError
		initiated := errors.As(context.Cause(childCtx), &re)

		r.mu.Lock()
		if r.running && r.handle.Equal(handle) {
			r.running = false
		}
		r.mu.Unlock()

		if initiated {
			// Exit was driven by Stop; the stopper is already waiting on done.
			return
		}

		if err != nil {
			r.logger.Error("child exited abnormally", "child", spec.ID, "error", err)
		} else {
			r.logger.Info("child exited", "child", spec.ID)
		}

		select {
		case r.exitCh <- ChildExit{Handle: handle, Err: err}:
		default:
		}
	}()

	return handle, nil
}

// Current returns the live child handle, or false if no child is running.
func (r *ChildRunner) Current() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return Handle{}, false
	}
	return r.handle, true
}

// Exits delivers spontaneous child exits to the owning coordinator.
func (r *ChildRunner) Exits() <-chan ChildExit {
	return r.exitCh
}

// Stop cancels the child with the given reason and blocks until it has
// fully exited or the spec's grace period elapses. It always returns; a
// child that does not cooperate within the grace period is abandoned and
// ErrStopTimeout is returned. Stopping an already-stopped runner is a
// no-op.
func (r *ChildRunner) Stop(ctx context.Context, reason Reason) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	spec := r.spec
	handle := r.handle
	cancel := r.cancel
	done := r.done
	r.running = false
	r.mu.Unlock()

	r.logger.Info("stopping child", "child", spec.ID, "handle", handle.String(), "reason", reason.String())

	cancel(&reasonError{reason: reason})

	timer := time.NewTimer(spec.grace())
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		r.logger.Warn("child did not stop within grace period", "child", spec.ID, "grace", spec.grace())
		return ErrStopTimeout
	}
}
