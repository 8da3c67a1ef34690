package singleton_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildRunner_StartAndStop(t *testing.T) {
	r := singleton.NewChildRunner("node-1", nil)

	started := make(chan struct{})
	spec := singleton.ChildSpec{
		ID: "worker",
		Start: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		},
		Shutdown: time.Second,
	}

	handle, err := r.Start(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "node-1", handle.NodeID)
	assert.NotEmpty(t, handle.Incarnation)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("child never started")
	}

	current, ok := r.Current()
	require.True(t, ok)
	assert.True(t, current.Equal(handle))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx, singleton.ReasonClean))

	_, ok = r.Current()
	assert.False(t, ok)

	// Stopping again is a no-op.
	require.NoError(t, r.Stop(ctx, singleton.ReasonClean))
}

func TestChildRunner_RejectsSecondChild(t *testing.T) {
	r := singleton.NewChildRunner("node-1", nil)

	spec := singleton.ChildSpec{
		ID: "worker",
		Start: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		Shutdown: time.Second,
	}

	_, err := r.Start(context.Background(), spec)
	require.NoError(t, err)

	_, err = r.Start(context.Background(), spec)
	assert.ErrorIs(t, err, singleton.ErrChildAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx, singleton.ReasonClean))
}

func TestChildRunner_StopReasonVisibleToChild(t *testing.T) {
	r := singleton.NewChildRunner("node-1", nil)

	reasonCh := make(chan singleton.Reason, 1)
	spec := singleton.ChildSpec{
		ID: "worker",
		Start: func(ctx context.Context) error {
			<-ctx.Done()
			reasonCh <- singleton.StopReason(ctx)
			return nil
		},
		Shutdown: time.Second,
	}

	_, err := r.Start(context.Background(), spec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx, singleton.ReasonConflict))

	select {
	case got := <-reasonCh:
		assert.Equal(t, singleton.ReasonConflict, got)
	case <-time.After(time.Second):
		t.Fatal("child never observed its stop reason")
	}
}

func TestChildRunner_StopTimesOutOnStuckChild(t *testing.T) {
	r := singleton.NewChildRunner("node-1", nil)

	release := make(chan struct{})
	spec := singleton.ChildSpec{
		ID: "stuck",
		Start: func(ctx context.Context) error {
			<-release // ignores cancellation
			return nil
		},
		Shutdown: 100 * time.Millisecond,
	}

	_, err := r.Start(context.Background(), spec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, r.Stop(ctx, singleton.ReasonClean), singleton.ErrStopTimeout)

	close(release)
}

func TestChildRunner_SpontaneousExitReported(t *testing.T) {
	r := singleton.NewChildRunner("node-1", nil)

	crash := make(chan struct{})
	spec := singleton.ChildSpec{
		ID: "worker",
		Start: func(ctx context.Context) error {
			<-crash
			return fmt.Errorf("boom")
		},
		Shutdown: time.Second,
	}

	handle, err := r.Start(context.Background(), spec)
	require.NoError(t, err)

	close(crash)

	select {
	case exit := <-r.Exits():
		assert.True(t, exit.Handle.Equal(handle))
		require.Error(t, exit.Err)
		assert.Contains(t, exit.Err.Error(), "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("spontaneous exit not reported")
	}

	_, ok := r.Current()
	assert.False(t, ok)
}

func TestChildRunner_CleanReturnNotAnError(t *testing.T) {
	r := singleton.NewChildRunner("node-1", nil)

	done := make(chan struct{})
	spec := singleton.ChildSpec{
		ID: "oneshot",
		Start: func(ctx context.Context) error {
			<-done
			return nil
		},
		Shutdown: time.Second,
	}

	_, err := r.Start(context.Background(), spec)
	require.NoError(t, err)

	close(done)

	select {
	case exit := <-r.Exits():
		assert.NoError(t, exit.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("exit not reported")
	}
}

func TestChildRunner_ValidatesSpec(t *testing.T) {
	r := singleton.NewChildRunner("node-1", nil)

	_, err := r.Start(context.Background(), singleton.ChildSpec{ID: "no-start"})
	assert.Error(t, err)

	_, err = r.Start(context.Background(), singleton.ChildSpec{
		Start: func(ctx context.Context) error { return nil },
	})
	assert.Error(t, err)
}
