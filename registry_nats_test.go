package singleton_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/ozanturksever/go-singleton/testutil"
)

func fastOptions() []singleton.Option {
	return []singleton.Option{
		singleton.WithHeartbeat(200 * time.Millisecond),
		singleton.WithLeaseTTL(2 * time.Second),
		singleton.WithMissThreshold(3),
	}
}

func TestNATSRegistry_ClaimLookupRelease(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	g, err := singleton.Connect("regtest", "node-1", ns.URL(), fastOptions()...)
	require.NoError(t, err)
	defer g.Close()

	reg := g.Registry()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = reg.LookupHolder(ctx, "worker")
	assert.ErrorIs(t, err, singleton.ErrNotFound)

	h := singleton.NewHandle("node-1")
	claim, err := reg.Claim(ctx, "worker", h, nil)
	require.NoError(t, err)
	assert.Equal(t, "worker", claim.Key())
	assert.True(t, claim.Handle().Equal(h))

	holder, err := reg.LookupHolder(ctx, "worker")
	require.NoError(t, err)
	assert.True(t, holder.Equal(h))

	// Claiming the same key with the same handle is idempotent.
	again, err := reg.Claim(ctx, "worker", h, nil)
	require.NoError(t, err)
	assert.Same(t, claim, again)

	// A different handle loses the race.
	_, err = reg.Claim(ctx, "worker", singleton.NewHandle("node-2"), nil)
	assert.ErrorIs(t, err, singleton.ErrClaimHeld)

	require.NoError(t, reg.Release(ctx, "worker", h))
	_, err = reg.LookupHolder(ctx, "worker")
	assert.ErrorIs(t, err, singleton.ErrNotFound)

	// Releasing again is a no-op.
	require.NoError(t, reg.Release(ctx, "worker", h))
}

func TestNATSRegistry_ReleaseIgnoresForeignHandle(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	g, err := singleton.Connect("regtest", "node-1", ns.URL(), fastOptions()...)
	require.NoError(t, err)
	defer g.Close()

	reg := g.Registry()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := singleton.NewHandle("node-1")
	_, err = reg.Claim(ctx, "worker", h, nil)
	require.NoError(t, err)

	require.NoError(t, reg.Release(ctx, "worker", singleton.NewHandle("node-2")))

	holder, err := reg.LookupHolder(ctx, "worker")
	require.NoError(t, err)
	assert.True(t, holder.Equal(h), "record must survive a foreign release")
}

func TestNATSRegistry_RecordOutlivesLeaseWhileRefreshed(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	g, err := singleton.Connect("regtest", "node-1", ns.URL(),
		singleton.WithHeartbeat(100*time.Millisecond),
		singleton.WithLeaseTTL(time.Second),
	)
	require.NoError(t, err)
	defer g.Close()

	reg := g.Registry()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := singleton.NewHandle("node-1")
	_, err = reg.Claim(ctx, "worker", h, nil)
	require.NoError(t, err)

	// Well past the TTL, the keeper must have kept the record alive.
	time.Sleep(2 * time.Second)

	holder, err := reg.LookupHolder(ctx, "worker")
	require.NoError(t, err)
	assert.True(t, holder.Equal(h))
}

func TestNATSRegistry_DuplicateHoldersConverge(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	g1, err := singleton.Connect("conflict", "node-1", ns.URL(), fastOptions()...)
	require.NoError(t, err)
	defer g1.Close()

	g2, err := singleton.Connect("conflict", "node-2", ns.URL(), fastOptions()...)
	require.NoError(t, err)
	defer g2.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	h1 := singleton.NewHandle("node-1")
	claim1, err := g1.Registry().Claim(ctx, "worker", h1, nil)
	require.NoError(t, err)

	// Ensure a strict StartedAt order so the survivor is unambiguous.
	time.Sleep(10 * time.Millisecond)

	// Simulate the other side of a partition: the record vanishes for
	// node-2 and it claims the same key while node-1 still holds it.
	js, err := jetstream.New(g2.NATS())
	require.NoError(t, err)
	kv, err := js.KeyValue(ctx, "KV_SINGLETON_conflict")
	require.NoError(t, err)
	require.NoError(t, kv.Purge(ctx, "worker"))

	// node-1's keeper may re-create the record between the purge and our
	// claim; purge again and retry until the claim lands.
	h2 := singleton.NewHandle("node-2")
	var claim2 *singleton.Claim
	require.Eventually(t, func() bool {
		claim2, err = g2.Registry().Claim(ctx, "worker", h2, nil)
		if err != nil {
			_ = kv.Purge(ctx, "worker")
			return false
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	// Both keepers discover the duplicate. The earlier claimant survives
	// and the younger one is revoked with a conflict event.
	select {
	case ev := <-claim2.Lost():
		assert.Equal(t, "worker", ev.Key)
		assert.True(t, ev.Local.Equal(h2))
		assert.True(t, ev.Survivor.Equal(h1))
	case <-time.After(10 * time.Second):
		t.Fatal("losing claim never received its conflict event")
	}

	// The survivor keeps its claim and re-asserts the record.
	select {
	case ev := <-claim1.Lost():
		t.Fatalf("surviving claim was revoked: %+v", ev)
	case <-time.After(time.Second):
	}

	assert.Eventually(t, func() bool {
		holder, err := g1.Registry().LookupHolder(ctx, "worker")
		return err == nil && holder.Equal(h1)
	}, 5*time.Second, 100*time.Millisecond)
}
