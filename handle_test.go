package singleton_test

import (
	"testing"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/stretchr/testify/assert"
)

func TestHandle_FreshIncarnations(t *testing.T) {
	a := singleton.NewHandle("node-1")
	b := singleton.NewHandle("node-1")

	assert.Equal(t, "node-1", a.NodeID)
	assert.NotEmpty(t, a.Incarnation)
	assert.False(t, a.StartedAt.IsZero())

	// Same node, different incarnation: never equal.
	assert.NotEqual(t, a.Incarnation, b.Incarnation)
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a))
}

func TestHandle_Zero(t *testing.T) {
	var zero singleton.Handle
	assert.True(t, zero.IsZero())
	assert.Equal(t, "<none>", zero.String())

	h := singleton.NewHandle("node-1")
	assert.False(t, h.IsZero())
	assert.Contains(t, h.String(), "node-1/")
}

func TestHandle_LessIsTotalOrder(t *testing.T) {
	a := singleton.Handle{NodeID: "a", Incarnation: "1"}
	b := singleton.Handle{NodeID: "b", Incarnation: "1"}
	a2 := singleton.Handle{NodeID: "a", Incarnation: "2"}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Less(a2))
	assert.False(t, a.Less(a))

	// Antisymmetric over distinct handles.
	assert.NotEqual(t, a.Less(b), b.Less(a))
}
