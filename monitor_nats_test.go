package singleton_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/ozanturksever/go-singleton/testutil"
)

func TestNATSMonitor_CleanShutdownDeliversLastWord(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	owner, err := singleton.Connect("montest", "node-1", ns.URL(),
		singleton.WithHeartbeat(100*time.Millisecond),
		singleton.WithMissThreshold(5),
	)
	require.NoError(t, err)
	defer owner.Close()

	watcher, err := singleton.Connect("montest", "node-2", ns.URL(),
		singleton.WithHeartbeat(100*time.Millisecond),
		singleton.WithMissThreshold(5),
	)
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := singleton.NewHandle("node-1")
	p, err := owner.Monitor().Announce(ctx, h)
	require.NoError(t, err)

	w, err := watcher.Monitor().Watch(ctx, h)
	require.NoError(t, err)
	defer w.Stop()

	p.Close(singleton.ReasonClean)

	select {
	case term := <-w.Done():
		assert.True(t, term.Handle.Equal(h))
		assert.Equal(t, singleton.ReasonClean, term.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("watch never delivered the clean termination")
	}
}

func TestNATSMonitor_ConflictReasonPropagates(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	g, err := singleton.Connect("montest", "node-1", ns.URL(),
		singleton.WithHeartbeat(100*time.Millisecond),
		singleton.WithMissThreshold(5),
	)
	require.NoError(t, err)
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := singleton.NewHandle("node-1")
	p, err := g.Monitor().Announce(ctx, h)
	require.NoError(t, err)

	w, err := g.Monitor().Watch(ctx, h)
	require.NoError(t, err)
	defer w.Stop()

	p.Close(singleton.ReasonConflict)

	select {
	case term := <-w.Done():
		assert.Equal(t, singleton.ReasonConflict, term.Reason)
		assert.True(t, term.Reason.Intentional())
	case <-time.After(5 * time.Second):
		t.Fatal("watch never delivered the termination")
	}
}

func TestNATSMonitor_MissedBeatsReportAbnormal(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	owner, err := singleton.Connect("montest", "node-1", ns.URL(),
		singleton.WithHeartbeat(100*time.Millisecond),
		singleton.WithMissThreshold(3),
	)
	require.NoError(t, err)

	watcher, err := singleton.Connect("montest", "node-2", ns.URL(),
		singleton.WithHeartbeat(100*time.Millisecond),
		singleton.WithMissThreshold(3),
	)
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := singleton.NewHandle("node-1")
	_, err = owner.Monitor().Announce(ctx, h)
	require.NoError(t, err)

	w, err := watcher.Monitor().Watch(ctx, h)
	require.NoError(t, err)
	defer w.Stop()

	// The announcer dies without a last word.
	owner.NATS().Close()

	select {
	case term := <-w.Done():
		assert.True(t, term.Handle.Equal(h))
		assert.Equal(t, singleton.ReasonAbnormal, term.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("watch never timed out on missed beats")
	}
}

func TestNATSMonitor_StoppedWatchDeliversNothing(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	g, err := singleton.Connect("montest", "node-1", ns.URL(),
		singleton.WithHeartbeat(100*time.Millisecond),
		singleton.WithMissThreshold(3),
	)
	require.NoError(t, err)
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := singleton.NewHandle("node-1")
	p, err := g.Monitor().Announce(ctx, h)
	require.NoError(t, err)

	w, err := g.Monitor().Watch(ctx, h)
	require.NoError(t, err)
	w.Stop()
	w.Stop() // idempotent

	p.Close(singleton.ReasonClean)

	term, ok := <-w.Done()
	assert.False(t, ok, "stopped watch must close without delivering, got %+v", term)
}
