package singleton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const defaultRequestTimeout = 5 * time.Second

// Group is a node's connection to one coordination group: it owns the
// NATS connection, the claim registry, the liveness monitor, and the
// coordinators started on this node. Every node participating in the
// same group must use the same group name.
type Group struct {
	name   string
	nodeID string
	opts   *groupOptions
	logger *slog.Logger

	nc *nats.Conn
	js jetstream.JetStream

	registry *NATSRegistry
	monitor  *NATSMonitor
	metrics  *Metrics
	audit    *Audit

	mu      sync.RWMutex
	coords  map[string]*Coordinator
	ctlSubs map[string]*nats.Subscription
	closed  bool
}

// Connect joins the group over NATS.
func Connect(name, nodeID, natsURL string, opts ...Option) (*Group, error) {
	if name == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if nodeID == "" {
		return nil, fmt.Errorf("node ID is required")
	}

	options := defaultGroupOptions()
	for _, opt := range opts {
		opt(options)
	}

	natsOpts := []nats.Option{
		nats.Name(fmt.Sprintf("%s-%s", name, nodeID)),
		nats.ReconnectWait(options.reconnectWait),
		nats.MaxReconnects(options.maxReconnects),
	}
	if options.natsCreds != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(options.natsCreds))
	}

	nc, err := nats.Connect(natsURL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry, err := NewNATSRegistry(ctx, name, js, options)
	if err != nil {
		nc.Close()
		return nil, err
	}

	g := &Group{
		name:     name,
		nodeID:   nodeID,
		opts:     options,
		logger:   options.logger.With("component", "group", "group", name, "node", nodeID),
		nc:       nc,
		js:       js,
		registry: registry,
		monitor:  NewNATSMonitor(name, nc, options),
		metrics:  NewMetrics(name, nodeID, options.logger),
		coords:   make(map[string]*Coordinator),
		ctlSubs:  make(map[string]*nats.Subscription),
	}

	g.audit = NewAudit(name, nodeID, nc, js)
	if err := g.audit.Start(ctx); err != nil {
		g.logger.Warn("audit stream unavailable", "error", err)
		g.audit = nil
	}

	if err := g.metrics.Start(ctx, options.metricsAddr); err != nil {
		g.logger.Warn("metrics server unavailable", "error", err)
	}

	g.logger.Info("joined group")
	return g, nil
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// NodeID returns this node's ID.
func (g *Group) NodeID() string { return g.nodeID }

// NATS returns the underlying NATS connection.
func (g *Group) NATS() *nats.Conn { return g.nc }

// Registry returns the group's claim registry.
func (g *Group) Registry() Registry { return g.registry }

// Monitor returns the group's liveness monitor.
func (g *Group) Monitor() Monitor { return g.monitor }

// Audit returns the group's audit log, or nil when the audit stream
// could not be created.
func (g *Group) Audit() *Audit { return g.audit }

// Start creates and starts a coordinator for spec on this node. At most
// one coordinator per key may run per group connection.
func (g *Group) Start(ctx context.Context, spec CoordinatorSpec, hooks Hooks) (*Coordinator, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGroupClosed
	}
	if cur, ok := g.coords[spec.Key]; ok {
		select {
		case <-cur.Done():
			// Terminated but not yet reaped; replace it.
			delete(g.coords, spec.Key)
		default:
			g.mu.Unlock()
			return nil, fmt.Errorf("key %q: %w", spec.Key, ErrAlreadyStarted)
		}
	}
	g.mu.Unlock()

	gh := &groupHooks{group: g, wrapped: hooks}

	cfg := CoordinatorConfig{
		NodeID:      g.nodeID,
		Hooks:       gh,
		Logger:      g.opts.logger,
		Resolver:    g.opts.resolver,
		RejoinDelay: g.opts.rejoinDelay,
		HookTimeout: g.opts.hookTimeout,
		Metrics:     g.metrics,
		Audit:       g.audit,
	}

	c, err := NewCoordinator(spec, g.registry, g.monitor, cfg)
	if err != nil {
		return nil, err
	}
	gh.coord = c

	g.mu.Lock()
	g.coords[spec.Key] = c
	g.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		g.mu.Lock()
		delete(g.coords, spec.Key)
		g.mu.Unlock()
		return nil, err
	}

	go func() {
		<-c.Done()
		g.mu.Lock()
		if cur, ok := g.coords[spec.Key]; ok && cur == c {
			delete(g.coords, spec.Key)
		}
		sub := g.ctlSubs[spec.Key]
		delete(g.ctlSubs, spec.Key)
		g.mu.Unlock()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}()

	return c, nil
}

// Coordinator returns the local coordinator for key, if any.
func (g *Group) Coordinator(key string) (*Coordinator, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.coords[key]
	return c, ok
}

// Lookup returns the live child handle currently owned cluster-wide for
// key. It returns ErrNotFound if no owner exists or the owner's child
// has not started yet.
func (g *Group) Lookup(ctx context.Context, key string) (Handle, error) {
	// Local fast path.
	if c, ok := g.Coordinator(key); ok && c.IsOwner() {
		if child, running := c.ChildHandle(); running {
			return child, nil
		}
		return Handle{}, ErrNotFound
	}

	if _, err := g.registry.LookupHolder(ctx, key); err != nil {
		return Handle{}, err
	}

	resp, err := g.ctlRequest(ctx, key, ctlRequest{Op: ctlOpChild})
	if err != nil {
		return Handle{}, err
	}
	if resp.Child == nil {
		return Handle{}, ErrNotFound
	}
	return *resp.Child, nil
}

// RequestTermination locates the current owner coordinator for key and
// asks it to stop cleanly, blocking until the stop has completed. It
// returns ErrNotFound if no owner exists.
func (g *Group) RequestTermination(ctx context.Context, key string) error {
	// Local fast path.
	if c, ok := g.Coordinator(key); ok && c.IsOwner() {
		return c.Stop(ctx)
	}

	if _, err := g.registry.LookupHolder(ctx, key); err != nil {
		return err
	}

	resp, err := g.ctlRequest(ctx, key, ctlRequest{Op: ctlOpTerminate})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("terminate %q: %s", key, resp.Error)
	}
	return nil
}

// Close stops all local coordinators cleanly and tears down the group
// connection.
func (g *Group) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	coords := make([]*Coordinator, 0, len(g.coords))
	for _, c := range g.coords {
		coords = append(coords, c)
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, c := range coords {
		if err := c.Stop(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
			g.logger.Warn("coordinator did not stop cleanly", "key", c.Key(), "error", err)
		}
	}

	g.registry.Close()
	g.metrics.Stop(ctx)
	g.nc.Close()

	g.logger.Info("left group")
	return nil
}

// Control protocol: the owning coordinator answers child-handle and
// termination requests on the key's control subject. Only the owner
// subscribes, so a missing responder means there is no confirmed owner.

const (
	ctlOpChild     = "child"
	ctlOpTerminate = "terminate"
)

type ctlRequest struct {
	Op string `json:"op"`
}

type ctlResponse struct {
	OK    bool    `json:"ok"`
	Error string  `json:"error,omitempty"`
	Child *Handle `json:"child,omitempty"`
}

func (g *Group) ctlSubject(key string) string {
	return fmt.Sprintf("%s.singleton.ctl.%s", g.name, natsKeyEscape(key))
}

func (g *Group) ctlRequest(ctx context.Context, key string, req ctlRequest) (*ctlResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	msg, err := g.nc.RequestWithContext(ctx, g.ctlSubject(key), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("control request %q: %w", key, err)
	}

	var resp ctlResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("control request %q: decode response: %w", key, err)
	}
	return &resp, nil
}

// serveCtl subscribes the owning coordinator to its control subject.
func (g *Group) serveCtl(c *Coordinator) error {
	sub, err := g.nc.Subscribe(g.ctlSubject(c.Key()), func(msg *nats.Msg) {
		g.handleCtl(c, msg)
	})
	if err != nil {
		return err
	}

	g.mu.Lock()
	if old := g.ctlSubs[c.Key()]; old != nil {
		_ = old.Unsubscribe()
	}
	g.ctlSubs[c.Key()] = sub
	g.mu.Unlock()
	return nil
}

func (g *Group) handleCtl(c *Coordinator, msg *nats.Msg) {
	// Only the confirmed owner answers; anyone else stays silent so the
	// requester's no-responder handling applies.
	if !c.IsOwner() {
		return
	}

	var req ctlRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return
	}

	var resp ctlResponse
	switch req.Op {
	case ctlOpChild:
		if child, ok := c.ChildHandle(); ok {
			resp = ctlResponse{OK: true, Child: &child}
		} else {
			resp = ctlResponse{OK: false, Error: ErrChildNotRunning.Error()}
		}

	case ctlOpTerminate:
		ctx, cancel := context.WithTimeout(context.Background(), c.spec.Child.grace()+defaultRequestTimeout)
		err := c.Stop(ctx)
		cancel()
		if err != nil {
			resp = ctlResponse{OK: false, Error: err.Error()}
		} else {
			resp = ctlResponse{OK: true}
		}

	default:
		resp = ctlResponse{OK: false, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = msg.Respond(data)
}

// groupHooks wraps user hooks to wire the control subject to ownership.
type groupHooks struct {
	group   *Group
	coord   *Coordinator
	wrapped Hooks
}

func (h *groupHooks) OnOwner(ctx context.Context) error {
	if err := h.group.serveCtl(h.coord); err != nil {
		h.group.logger.Error("failed to serve control subject", "key", h.coord.Key(), "error", err)
	}
	if h.wrapped != nil {
		return h.wrapped.OnOwner(ctx)
	}
	return nil
}

func (h *groupHooks) OnFollower(ctx context.Context, owner Handle) error {
	if h.wrapped != nil {
		return h.wrapped.OnFollower(ctx, owner)
	}
	return nil
}

func (h *groupHooks) OnChildStarted(ctx context.Context, child Handle) error {
	if h.wrapped != nil {
		return h.wrapped.OnChildStarted(ctx, child)
	}
	return nil
}

func (h *groupHooks) OnConflictLost(ctx context.Context, survivor Handle) error {
	if h.wrapped != nil {
		return h.wrapped.OnConflictLost(ctx, survivor)
	}
	return nil
}

var _ Hooks = (*groupHooks)(nil)
