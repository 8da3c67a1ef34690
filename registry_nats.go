package singleton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ownerRecord is the KV value stored for a claimed key.
type ownerRecord struct {
	Handle    Handle    `json:"handle"`
	ClaimedAt time.Time `json:"claimed_at"`
	RenewedAt time.Time `json:"renewed_at"`
}

// NATSRegistry implements Registry on a JetStream KV bucket. A claim is
// an atomic kv.Create of an owner record; the bucket TTL expires records
// whose holder stops refreshing, so a dead owner's claim frees itself
// without explicit cleanup.
//
// Duplicate ownership (two records written on both sides of a healed
// partition) is detected by each holder's refresh loop observing a
// foreign record while it still believes it holds the key. The
// conflicting pair is put into canonical handle order and the resolver
// runs on both sides; the loser's claim is revoked with a conflict
// event and the survivor re-asserts its record.
type NATSRegistry struct {
	group  string
	kv     jetstream.KeyValue
	opts   *groupOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	claims map[string]*registryClaim
	closed bool
}

// registryClaim tracks one locally-held claim and its keeper goroutine.
type registryClaim struct {
	claim    *Claim
	resolver Resolver
	cancel   context.CancelFunc
	lostOnce sync.Once
}

// NewNATSRegistry creates the registry for a group, provisioning its KV
// bucket.
func NewNATSRegistry(ctx context.Context, group string, js jetstream.JetStream, opts *groupOptions) (*NATSRegistry, error) {
	if opts == nil {
		opts = defaultGroupOptions()
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      fmt.Sprintf("KV_SINGLETON_%s", group),
		Description: fmt.Sprintf("Singleton claims for group %s", group),
		TTL:         opts.leaseTTL,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create claims KV bucket: %w", err)
	}

	rctx, cancel := context.WithCancel(context.Background())

	return &NATSRegistry{
		group:  group,
		kv:     kv,
		opts:   opts,
		logger: opts.logger.With("component", "registry", "group", group),
		ctx:    rctx,
		cancel: cancel,
		claims: make(map[string]*registryClaim),
	}, nil
}

// Claim implements Registry. Claiming a key this registry instance
// already holds with the same handle returns the existing claim, so a
// repeated claim is a no-op rather than a duplicate.
func (r *NATSRegistry) Claim(ctx context.Context, key string, handle Handle, resolver Resolver) (*Claim, error) {
	if resolver == nil {
		resolver = DefaultResolver
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrGroupClosed
	}
	if rc, ok := r.claims[key]; ok && rc.claim.Handle().Equal(handle) {
		r.mu.Unlock()
		return rc.claim, nil
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	record := ownerRecord{Handle: handle, ClaimedAt: now, RenewedAt: now}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	_, err = r.kv.Create(ctx, key, data)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, ErrClaimHeld
		}
		return nil, fmt.Errorf("claim %q: %w", key, err)
	}

	claim := newClaim(key, handle)
	kctx, kcancel := context.WithCancel(r.ctx)
	rc := &registryClaim{claim: claim, resolver: resolver, cancel: kcancel}

	r.mu.Lock()
	r.claims[key] = rc
	r.mu.Unlock()

	go r.keep(kctx, rc, key, handle)

	r.logger.Info("claim registered", "key", key, "handle", handle.String())
	return claim, nil
}

// LookupHolder implements Registry.
func (r *NATSRegistry) LookupHolder(ctx context.Context, key string) (Handle, error) {
	entry, err := r.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Handle{}, ErrNotFound
		}
		return Handle{}, fmt.Errorf("lookup %q: %w", key, err)
	}

	var record ownerRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return Handle{}, fmt.Errorf("lookup %q: decode record: %w", key, err)
	}
	return record.Handle, nil
}

// Release implements Registry. The record is deleted only if handle is
// still the registered holder, guarded by the entry revision so a
// concurrent re-claim is never clobbered.
func (r *NATSRegistry) Release(ctx context.Context, key string, handle Handle) error {
	r.mu.Lock()
	if rc, ok := r.claims[key]; ok && rc.claim.Handle().Equal(handle) {
		rc.cancel()
		delete(r.claims, key)
	}
	r.mu.Unlock()

	entry, err := r.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("release %q: %w", key, err)
	}

	var record ownerRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return fmt.Errorf("release %q: decode record: %w", key, err)
	}
	if !record.Handle.Equal(handle) {
		return nil
	}

	if err := r.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision())); err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}

	r.logger.Info("claim released", "key", key, "handle", handle.String())
	return nil
}

// Close revokes all keeper goroutines. Held records are left to expire.
func (r *NATSRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	for key, rc := range r.claims {
		rc.cancel()
		delete(r.claims, key)
	}
	r.mu.Unlock()
	r.cancel()
}

// keep refreshes the claim record every heartbeat so it outlives the
// bucket TTL, and watches for foreign records that signal duplicate
// ownership after a partition heal.
func (r *NATSRegistry) keep(ctx context.Context, rc *registryClaim, key string, handle Handle) {
	ticker := time.NewTicker(r.opts.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		entry, err := r.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				// Our record expired (e.g. a long pause); re-create it
				// before anyone else claims. If someone already has, the
				// next tick sees their record and resolves the conflict.
				_, _ = r.putRecord(ctx, key, handle, 0)
			}
			continue
		}

		var record ownerRecord
		if err := json.Unmarshal(entry.Value(), &record); err != nil {
			continue
		}

		if record.Handle.Equal(handle) {
			_, _ = r.putRecord(ctx, key, handle, entry.Revision())
			continue
		}

		// Two holders believe they own the key. Both sides see the same
		// pair and run the same pure resolver, so they converge.
		a, b := orderPair(handle, record.Handle)
		survivor := rc.resolver(key, a, b)

		if survivor.Equal(handle) {
			r.logger.Warn("duplicate holder detected, re-asserting claim",
				"key", key, "local", handle.String(), "remote", record.Handle.String())
			_, _ = r.putRecord(ctx, key, handle, 0)
			continue
		}

		r.logger.Warn("duplicate holder detected, revoking local claim",
			"key", key, "local", handle.String(), "survivor", survivor.String())

		ev := ConflictEvent{Key: key, Local: handle, Remote: record.Handle, Survivor: survivor}
		rc.lostOnce.Do(func() { rc.claim.lose(ev) })

		r.mu.Lock()
		if cur, ok := r.claims[key]; ok && cur == rc {
			delete(r.claims, key)
		}
		r.mu.Unlock()
		return
	}
}

// putRecord writes a fresh owner record. rev 0 writes unconditionally
// (create-or-overwrite), otherwise the write is revision-checked.
func (r *NATSRegistry) putRecord(ctx context.Context, key string, handle Handle, rev uint64) (uint64, error) {
	record := ownerRecord{Handle: handle, ClaimedAt: handle.StartedAt, RenewedAt: time.Now().UTC()}
	data, err := json.Marshal(record)
	if err != nil {
		return 0, err
	}
	if rev == 0 {
		return r.kv.Put(ctx, key, data)
	}
	return r.kv.Update(ctx, key, data, rev)
}

var _ Registry = (*NATSRegistry)(nil)

// natsKeyEscape guards against subjects that would break NATS token
// rules when a key is embedded into a subject.
func natsKeyEscape(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '.', '*', '>', ' ':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
