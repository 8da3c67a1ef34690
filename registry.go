package singleton

import "context"

// Resolver deterministically selects the surviving holder when the
// registry discovers two simultaneous holders for one key (typically
// after a network partition heals). It must be a pure function of the
// two handles so that both sides of the former partition converge on the
// same survivor without further negotiation. The registry always
// presents the pair in canonical handle order.
type Resolver func(key string, a, b Handle) Handle

// ConflictEvent describes a resolved duplicate-ownership conflict. It is
// delivered exactly once to the losing claim.
type ConflictEvent struct {
	Key      string
	Local    Handle
	Remote   Handle
	Survivor Handle
}

// Claim represents a successfully claimed key. The registry keeps the
// claim alive until it is released; if conflict resolution later picks
// the other holder, the registry revokes the claim and delivers the
// conflict on Lost.
type Claim struct {
	key    string
	handle Handle
	lostCh chan ConflictEvent
}

func newClaim(key string, handle Handle) *Claim {
	return &Claim{
		key:    key,
		handle: handle,
		lostCh: make(chan ConflictEvent, 1),
	}
}

// Key returns the claimed uniqueness key.
func (c *Claim) Key() string { return c.key }

// Handle returns the holder's handle.
func (c *Claim) Handle() Handle { return c.handle }

// Lost delivers at most one conflict event, after which the claim is no
// longer valid.
func (c *Claim) Lost() <-chan ConflictEvent { return c.lostCh }

// lose delivers the conflict event. Must be called at most once.
func (c *Claim) lose(ev ConflictEvent) {
	c.lostCh <- ev
	close(c.lostCh)
}

// Registry is the cluster-wide name service coordinators claim through.
// Within a single partition it guarantees at most one holder per key.
type Registry interface {
	// Claim atomically registers handle as the holder of key. Exactly
	// one concurrent claim for a key succeeds; the rest fail with
	// ErrClaimHeld. The resolver is retained and invoked if the
	// registry later detects a duplicate holder for the key.
	Claim(ctx context.Context, key string, handle Handle, resolver Resolver) (*Claim, error)

	// LookupHolder returns the current holder of key, or ErrNotFound if
	// the key is unclaimed.
	LookupHolder(ctx context.Context, key string) (Handle, error)

	// Release removes the claim if handle is still the registered
	// holder. Releasing a key held by someone else is a no-op.
	Release(ctx context.Context, key string, handle Handle) error
}
