package singleton_test

import (
	"encoding/json"
	"testing"
	"time"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_MarshalJSON(t *testing.T) {
	child := singleton.NewHandle("node-1")
	st := singleton.Status{
		Key:    "worker",
		NodeID: "node-1",
		State:  singleton.StateOwner,
		Owner:  child,
		Child:  &child,
		Uptime: 90 * time.Second,
	}

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "worker", decoded["key"])
	assert.Equal(t, "node-1", decoded["nodeId"])
	assert.Equal(t, "owner", decoded["state"])
	assert.Equal(t, child.String(), decoded["owner"])
	assert.Equal(t, float64(90000), decoded["uptimeMs"])
	assert.Contains(t, decoded, "child")
}

func TestStatus_FollowerOmitsChild(t *testing.T) {
	st := singleton.Status{
		Key:    "worker",
		NodeID: "node-2",
		State:  singleton.StateFollower,
		Owner:  singleton.NewHandle("node-1"),
	}

	assert.False(t, st.IsOwner())

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "follower", decoded["state"])
	assert.NotContains(t, decoded, "child")
}
