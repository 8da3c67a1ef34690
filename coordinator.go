package singleton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the coordinator's position in its lifecycle.
type State int

const (
	// StateIdle means the coordinator was created but not started.
	StateIdle State = iota
	// StateRegistering means the coordinator is racing to claim the key.
	StateRegistering
	// StateOwner means the coordinator holds the claim and runs the child.
	StateOwner
	// StateFollower means another holder won; this coordinator watches it.
	StateFollower
	// StateTerminating means the coordinator is releasing and stopping.
	StateTerminating
	// StateTerminated means the coordinator has fully stopped.
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistering:
		return "registering"
	case StateOwner:
		return "owner"
	case StateFollower:
		return "follower"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// CoordinatorConfig configures a coordinator built directly on a
// Registry and Monitor. Coordinators obtained through a Group are
// configured from the group's options instead.
type CoordinatorConfig struct {
	NodeID      string
	Hooks       Hooks
	Logger      *slog.Logger
	Resolver    Resolver
	RejoinDelay time.Duration
	HookTimeout time.Duration
	Metrics     *Metrics
	Audit       *Audit
}

// Validate checks the config for required fields.
func (c *CoordinatorConfig) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("NodeID is required")
	}
	return nil
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.Hooks == nil {
		c.Hooks = NoOpHooks{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Resolver == nil {
		c.Resolver = DefaultResolver
	}
	if c.RejoinDelay == 0 {
		c.RejoinDelay = DefaultRejoinDelay
	}
	if c.HookTimeout == 0 {
		c.HookTimeout = DefaultHookTimeout
	}
}

// Coordinator is the singleton state machine for one uniqueness key. It
// races to claim the key, runs the child on winning, watches the winner
// on losing, retries on unexpected owner loss, and backs off
// deterministically when the registry reports a duplicate-holder
// conflict.
//
// All state transitions happen on a single event-loop goroutine; events
// are processed one at a time in arrival order.
type Coordinator struct {
	spec     CoordinatorSpec
	registry Registry
	monitor  Monitor
	cfg      CoordinatorConfig
	runner   *ChildRunner
	logger   *slog.Logger
	handle   Handle

	mu        sync.RWMutex
	state     State
	owner     Handle // observed current holder, self when Owner
	started   bool
	startedAt time.Time

	// Owned by the event loop.
	claim     *Claim
	watch     Watch
	presence  Presence
	parkTimer *time.Timer

	stopCh   chan Reason
	rejoinCh chan struct{}
	doneCh   chan struct{}

	exitReason Reason
	exitErr    error
}

// NewCoordinator creates a coordinator for the given spec on top of the
// supplied registry and monitor. The coordinator's identity (a fresh
// handle incarnation) is fixed at creation.
func NewCoordinator(spec CoordinatorSpec, registry Registry, monitor Monitor, cfg CoordinatorConfig) (*Coordinator, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()

	handle := NewHandle(cfg.NodeID)
	logger := cfg.Logger.With("component", "coordinator", "key", spec.Key, "node", cfg.NodeID, "handle", handle.String())

	return &Coordinator{
		spec:     spec,
		registry: registry,
		monitor:  monitor,
		cfg:      cfg,
		runner:   NewChildRunner(cfg.NodeID, cfg.Logger),
		logger:   logger,
		handle:   handle,
		state:    StateIdle,
		stopCh:   make(chan Reason, 1),
		rejoinCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start enters the claim race and runs the event loop until the
// coordinator terminates. ctx cancellation is treated as a clean stop
// request from the enclosing process tree.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.startedAt = time.Now()
	c.mu.Unlock()

	// The derived key is the whole configuration surface; log it plainly
	// so a wrong key does not silently break uniqueness.
	c.logger.Info("coordinator starting", "key", c.spec.Key)

	go c.run(ctx)
	return nil
}

// Stop requests a clean shutdown and blocks until the child has fully
// stopped and the claim has been released.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.stop(ctx, ReasonClean)
}

func (c *Coordinator) stop(ctx context.Context, reason Reason) error {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	select {
	case c.stopCh <- reason:
	default:
		// A stop is already pending; wait for it.
	}

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rejoin forces a parked follower back into the claim race. It is a
// no-op in any other state.
func (c *Coordinator) Rejoin() {
	select {
	case c.rejoinCh <- struct{}{}:
	default:
	}
}

// Done is closed when the coordinator has terminated.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}

// Err returns the terminal error after Done is closed. It is nil for
// clean and conflict-induced shutdowns.
func (c *Coordinator) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exitErr
}

// ExitReason returns the termination reason after Done is closed.
func (c *Coordinator) ExitReason() Reason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exitReason
}

// Key returns the uniqueness key this coordinator contends for.
func (c *Coordinator) Key() string {
	return c.spec.Key
}

// Handle returns this coordinator's own claimant handle.
func (c *Coordinator) Handle() Handle {
	return c.handle
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsOwner returns true if this coordinator currently owns the key.
func (c *Coordinator) IsOwner() bool {
	return c.State() == StateOwner
}

// Owner returns the holder this coordinator currently believes owns the
// key (itself when Owner), or false if unknown.
func (c *Coordinator) Owner() (Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.owner.IsZero() {
		return Handle{}, false
	}
	return c.owner, true
}

// ChildHandle returns the live child handle, or false if this
// coordinator is not running a child.
func (c *Coordinator) ChildHandle() (Handle, bool) {
	return c.runner.Current()
}

// Status returns a point-in-time snapshot.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Key:    c.spec.Key,
		NodeID: c.cfg.NodeID,
		State:  c.state,
		Owner:  c.owner,
	}
	if child, ok := c.runner.Current(); ok {
		st.Child = &child
	}
	if !c.startedAt.IsZero() {
		st.Uptime = time.Since(c.startedAt)
	}
	return st
}

// run is the coordinator's event loop. It is the only goroutine that
// mutates coordinator state.
func (c *Coordinator) run(ctx context.Context) {
	if err := c.register(ctx); err != nil {
		c.terminate(ReasonAbnormal, err)
		return
	}

	for {
		var lostCh <-chan ConflictEvent
		if c.claim != nil {
			lostCh = c.claim.Lost()
		}
		var watchCh <-chan Termination
		if c.watch != nil {
			watchCh = c.watch.Done()
		}
		var parkCh <-chan time.Time
		if c.parkTimer != nil {
			parkCh = c.parkTimer.C
		}

		select {
		case <-ctx.Done():
			c.terminate(ReasonClean, nil)
			return

		case reason := <-c.stopCh:
			c.terminate(reason, nil)
			return

		case <-c.rejoinCh:
			if c.State() != StateFollower {
				continue
			}
			c.disarm()
			if err := c.register(ctx); err != nil {
				c.terminate(ReasonAbnormal, err)
				return
			}

		case ev := <-lostCh:
			c.onConflictLost(ctx, ev)
			return

		case t := <-watchCh:
			c.watch.Stop()
			c.watch = nil
			if err := c.onOwnerTerminated(ctx, t); err != nil {
				c.terminate(ReasonAbnormal, err)
				return
			}

		case <-parkCh:
			c.parkTimer = nil
			c.logger.Info("parked follower running fresh lookup cycle")
			if err := c.register(ctx); err != nil {
				c.terminate(ReasonAbnormal, err)
				return
			}

		case exit := <-c.runner.Exits():
			if exit.Err != nil {
				c.terminate(ReasonAbnormal, fmt.Errorf("child exited: %w", exit.Err))
			} else {
				c.terminate(ReasonClean, nil)
			}
			return
		}
	}
}

// register races to claim the key. On success it becomes Owner and
// starts the child; on ErrClaimHeld it becomes Follower and arms a watch
// on the current holder. A lookup that finds no holder (stale-holder
// race) retries the claim immediately. Claiming while already Owner is a
// no-op.
func (c *Coordinator) register(ctx context.Context) error {
	if c.claim != nil {
		return nil
	}

	c.setState(StateRegistering)

	for {
		if err := ctx.Err(); err != nil {
			return nil // run loop observes ctx.Done and stops cleanly
		}

		start := time.Now()
		claim, err := c.registry.Claim(ctx, c.spec.Key, c.handle, c.cfg.Resolver)
		if err == nil {
			c.cfg.Metrics.ObserveClaim(c.spec.Key, "won", time.Since(start))
			return c.becomeOwner(ctx, claim)
		}

		if !errors.Is(err, ErrClaimHeld) {
			return fmt.Errorf("claim %q: %w", c.spec.Key, err)
		}
		c.cfg.Metrics.ObserveClaim(c.spec.Key, "lost", time.Since(start))

		holder, err := c.registry.LookupHolder(ctx, c.spec.Key)
		if errors.Is(err, ErrNotFound) {
			// The holder released between our claim and lookup.
			c.logger.Debug("stale holder race, retrying claim")
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup holder for %q: %w", c.spec.Key, err)
		}

		return c.becomeFollower(ctx, holder)
	}
}

func (c *Coordinator) becomeOwner(ctx context.Context, claim *Claim) error {
	c.claim = claim

	presence, err := c.monitor.Announce(ctx, c.handle)
	if err != nil {
		c.releaseClaim()
		return fmt.Errorf("announce presence: %w", err)
	}
	c.presence = presence

	child, err := c.runner.Start(ctx, c.spec.Child)
	if err != nil {
		// Fatal to this coordinator instance: release everything so a
		// fresh instance can re-enter the race.
		presence.Close(ReasonAbnormal)
		c.presence = nil
		c.releaseClaim()
		return fmt.Errorf("start child %q: %w", c.spec.Child.ID, err)
	}

	c.mu.Lock()
	c.state = StateOwner
	c.owner = c.handle
	c.mu.Unlock()

	c.logger.Info("became owner", "child", child.String())
	c.cfg.Metrics.SetOwner(c.spec.Key, true)
	c.cfg.Audit.Log(ctx, AuditEntry{
		Category: "coordinator",
		Action:   "owner_acquired",
		Data:     map[string]any{"key": c.spec.Key, "handle": c.handle.String(), "child": child.String()},
	})

	c.callHook(ctx, "OnOwner", func(hctx context.Context) error { return c.cfg.Hooks.OnOwner(hctx) })
	c.callHook(ctx, "OnChildStarted", func(hctx context.Context) error { return c.cfg.Hooks.OnChildStarted(hctx, child) })
	return nil
}

func (c *Coordinator) becomeFollower(ctx context.Context, holder Handle) error {
	watch, err := c.monitor.Watch(ctx, holder)
	if err != nil {
		return fmt.Errorf("watch holder %s: %w", holder, err)
	}

	c.watch = watch
	c.mu.Lock()
	c.state = StateFollower
	c.owner = holder
	c.mu.Unlock()

	c.logger.Info("became follower", "owner", holder.String())
	c.cfg.Metrics.SetOwner(c.spec.Key, false)

	c.callHook(ctx, "OnFollower", func(hctx context.Context) error { return c.cfg.Hooks.OnFollower(hctx, holder) })
	return nil
}

// onOwnerTerminated reacts to the one-shot watch notification. An
// intentional shutdown parks the follower until the rejoin delay runs a
// fresh lookup cycle, avoiding a thundering-herd re-claim right after a
// coordinated handoff. Anything else re-enters the race immediately.
func (c *Coordinator) onOwnerTerminated(ctx context.Context, t Termination) error {
	c.mu.Lock()
	c.owner = Handle{}
	c.mu.Unlock()

	if t.Reason.Intentional() {
		c.logger.Info("owner shut down cleanly, parking", "owner", t.Handle.String(), "reason", t.Reason.String(), "rejoin_delay", c.cfg.RejoinDelay)
		c.parkTimer = time.NewTimer(c.cfg.RejoinDelay)
		return nil
	}

	c.logger.Warn("owner terminated unexpectedly, re-entering claim race", "owner", t.Handle.String(), "reason", t.Reason.String())
	c.cfg.Metrics.IncFailover(c.spec.Key)
	c.cfg.Audit.Log(ctx, AuditEntry{
		Category: "coordinator",
		Action:   "owner_lost",
		Data:     map[string]any{"key": c.spec.Key, "owner": t.Handle.String(), "reason": t.Reason.String()},
	})
	return c.register(ctx)
}

// onConflictLost handles losing a duplicate-holder resolution: stop the
// child synchronously with conflict semantics, then stop the
// coordinator, tagged so restart policies treat it as intentional.
func (c *Coordinator) onConflictLost(ctx context.Context, ev ConflictEvent) {
	c.logger.Warn("lost name-conflict resolution",
		"survivor", ev.Survivor.String(), "local", ev.Local.String(), "remote", ev.Remote.String())

	c.cfg.Metrics.IncConflict(c.spec.Key)
	c.cfg.Audit.Log(ctx, AuditEntry{
		Category: "coordinator",
		Action:   "conflict_lost",
		Data:     map[string]any{"key": c.spec.Key, "survivor": ev.Survivor.String()},
	})

	c.callHook(ctx, "OnConflictLost", func(hctx context.Context) error { return c.cfg.Hooks.OnConflictLost(hctx, ev.Survivor) })

	// The registry already revoked the claim; releasing is pointless and
	// could race the survivor's re-assertion.
	c.claim = nil
	c.terminate(ReasonConflict, nil)
}

// terminate releases the claim (best-effort), stops the child with the
// same reason the coordinator was given, and marks the coordinator
// terminated. It runs on the event-loop goroutine and is the only exit
// path.
func (c *Coordinator) terminate(reason Reason, err error) {
	c.setState(StateTerminating)
	c.disarm()

	c.releaseClaim()

	// Shutdown must complete even without a live parent context.
	stopCtx, cancel := context.WithTimeout(context.Background(), c.spec.Child.grace()+time.Second)
	defer cancel()
	if serr := c.runner.Stop(stopCtx, reason); serr != nil {
		c.logger.Warn("child stop incomplete", "error", serr)
	}

	if c.presence != nil {
		c.presence.Close(reason)
		c.presence = nil
	}

	c.mu.Lock()
	c.state = StateTerminated
	c.owner = Handle{}
	c.exitReason = reason
	c.exitErr = err
	c.mu.Unlock()

	c.cfg.Metrics.SetOwner(c.spec.Key, false)
	c.cfg.Metrics.IncTermination(c.spec.Key, reason)
	c.cfg.Audit.Log(context.Background(), AuditEntry{
		Category: "coordinator",
		Action:   "terminated",
		Data:     map[string]any{"key": c.spec.Key, "reason": reason.String()},
	})

	if err != nil {
		c.logger.Error("coordinator terminated", "reason", reason.String(), "error", err)
	} else {
		c.logger.Info("coordinator terminated", "reason", reason.String())
	}

	close(c.doneCh)
}

// releaseClaim releases the registry claim best-effort. Release failures
// are logged, never escalated: shutdown must complete regardless.
func (c *Coordinator) releaseClaim() {
	if c.claim == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.registry.Release(ctx, c.spec.Key, c.handle); err != nil {
		c.logger.Warn("failed to release claim", "error", err)
	}
	c.claim = nil
}

// disarm stops any follower-side watch or park timer.
func (c *Coordinator) disarm() {
	if c.watch != nil {
		c.watch.Stop()
		c.watch = nil
	}
	if c.parkTimer != nil {
		c.parkTimer.Stop()
		c.parkTimer = nil
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) callHook(ctx context.Context, name string, fn func(context.Context) error) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HookTimeout)
	defer cancel()
	if err := fn(hctx); err != nil {
		c.logger.Error("hook failed", "hook", name, "error", err)
	}
}
