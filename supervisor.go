package singleton

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

const (
	// DefaultRestartMinBackoff is the initial delay between coordinator
	// restarts.
	DefaultRestartMinBackoff = time.Second
	// DefaultRestartMaxBackoff caps the restart backoff.
	DefaultRestartMaxBackoff = 30 * time.Second
)

// Supervisor runs a coordinator under its spec's restart policy. Every
// restart creates a fresh coordinator with a fresh handle incarnation,
// so a resurrected instance re-enters the claim race as a new identity
// rather than resuming the old one.
type Supervisor struct {
	group *Group
	spec  CoordinatorSpec
	hooks Hooks

	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger

	mu      sync.RWMutex
	current *Coordinator
}

// NewSupervisor creates a supervisor for the spec on the given group.
func NewSupervisor(group *Group, spec CoordinatorSpec, hooks Hooks) *Supervisor {
	return &Supervisor{
		group:      group,
		spec:       spec,
		hooks:      hooks,
		minBackoff: DefaultRestartMinBackoff,
		maxBackoff: DefaultRestartMaxBackoff,
		logger:     group.logger.With("component", "supervisor", "key", spec.Key),
	}
}

// Run starts the coordinator and keeps it running per the restart
// policy until ctx is cancelled or the policy declares the termination
// final. It returns the coordinator's terminal error, nil for clean and
// conflict-induced shutdowns.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.minBackoff

	for {
		c, err := s.group.Start(ctx, s.spec, s.hooks)
		if err != nil {
			return err
		}
		s.setCurrent(c)
		startedAt := time.Now()

		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), s.spec.Child.grace()+defaultRequestTimeout)
			defer cancel()
			_ = c.Stop(stopCtx)
			return nil
		case <-c.Done():
		}

		reason := c.ExitReason()
		cerr := c.Err()

		if !s.shouldRestart(reason) {
			s.logger.Info("coordinator finished", "reason", reason.String(), "policy", s.spec.Restart.String())
			return cerr
		}

		// A run that stayed up well past the cap counts as stable.
		if time.Since(startedAt) > 2*s.maxBackoff {
			backoff = s.minBackoff
		}

		s.logger.Warn("restarting coordinator", "reason", reason.String(), "backoff", backoff, "error", cerr)
		s.group.metrics.IncChildRestart(s.spec.Key)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(jitter(backoff)):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// Current returns the coordinator instance currently managed.
func (s *Supervisor) Current() *Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Supervisor) setCurrent(c *Coordinator) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

func (s *Supervisor) shouldRestart(reason Reason) bool {
	switch s.spec.Restart {
	case RestartPermanent:
		return true
	case RestartTransient:
		return reason == ReasonAbnormal
	default:
		return false
	}
}

// jitter spreads restarts so former followers do not stampede the
// registry in lockstep.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
