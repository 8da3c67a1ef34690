package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	singleton "github.com/ozanturksever/go-singleton"
)

// GroupConfig configures a test group.
type GroupConfig struct {
	Nodes     int
	GroupName string
	Key       string
	Child     singleton.ChildSpec
	Options   []singleton.Option
}

// TestGroup wraps multiple group nodes contending for one key.
type TestGroup struct {
	t     *testing.T
	nats  *NATSServer
	cfg   GroupConfig
	nodes map[string]*TestNode
}

// TestNode is one node in the test group.
type TestNode struct {
	Group *singleton.Group
	Coord *singleton.Coordinator

	cancel context.CancelFunc
}

// StartGroup starts an embedded NATS server and cfg.Nodes nodes each
// running a coordinator for cfg.Key.
func StartGroup(t *testing.T, cfg GroupConfig) *TestGroup {
	t.Helper()

	if cfg.Nodes < 1 {
		cfg.Nodes = 1
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "test"
	}
	if cfg.Key == "" {
		cfg.Key = "worker"
	}
	if cfg.Child.Start == nil {
		cfg.Child = singleton.ChildSpec{
			ID: cfg.Key,
			Start: func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			},
		}
	}

	tg := &TestGroup{
		t:     t,
		nats:  StartNATS(t),
		cfg:   cfg,
		nodes: make(map[string]*TestNode),
	}
	t.Cleanup(tg.Stop)

	for i := 0; i < cfg.Nodes; i++ {
		tg.AddNode(fmt.Sprintf("node-%d", i+1))
	}

	return tg
}

// AddNode starts a new node contending for the group's key.
func (tg *TestGroup) AddNode(nodeID string) *TestNode {
	tg.t.Helper()

	group, err := singleton.Connect(tg.cfg.GroupName, nodeID, tg.nats.URL(), tg.cfg.Options...)
	if err != nil {
		tg.t.Fatalf("failed to connect node %s: %v", nodeID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	coord, err := group.Start(ctx, singleton.Wrap(tg.cfg.Child), nil)
	if err != nil {
		cancel()
		tg.t.Fatalf("failed to start coordinator on %s: %v", nodeID, err)
	}

	node := &TestNode{Group: group, Coord: coord, cancel: cancel}
	tg.nodes[nodeID] = node
	return node
}

// Node returns the test node for the given node ID.
func (tg *TestGroup) Node(nodeID string) *TestNode {
	return tg.nodes[nodeID]
}

// URL returns the embedded NATS server URL.
func (tg *TestGroup) URL() string {
	return tg.nats.URL()
}

// WaitForOwner waits until exactly one node owns the key and returns
// its node ID.
func (tg *TestGroup) WaitForOwner(timeout time.Duration) string {
	tg.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if owner := tg.ownerID(); owner != "" && tg.OwnerCount() == 1 {
			return owner
		}
		time.Sleep(50 * time.Millisecond)
	}

	tg.t.Fatal("no single owner within timeout")
	return ""
}

func (tg *TestGroup) ownerID() string {
	for nodeID, node := range tg.nodes {
		if node.Coord.IsOwner() {
			return nodeID
		}
	}
	return ""
}

// OwnerCount returns the number of nodes that believe they own the key.
func (tg *TestGroup) OwnerCount() int {
	count := 0
	for _, node := range tg.nodes {
		if node.Coord.IsOwner() {
			count++
		}
	}
	return count
}

// Kill simulates an abnormal node death: the NATS connection is closed
// without any clean shutdown, so followers see missed heartbeats.
func (tg *TestGroup) Kill(nodeID string) {
	node, ok := tg.nodes[nodeID]
	if !ok {
		return
	}
	node.Group.NATS().Close()
	node.cancel()
	delete(tg.nodes, nodeID)
}

// StopNode shuts a node down cleanly.
func (tg *TestGroup) StopNode(nodeID string) {
	node, ok := tg.nodes[nodeID]
	if !ok {
		return
	}
	_ = node.Group.Close()
	node.cancel()
	delete(tg.nodes, nodeID)
}

// Stop tears down all nodes and the NATS server.
func (tg *TestGroup) Stop() {
	for id := range tg.nodes {
		tg.StopNode(id)
	}
	tg.nats.Stop()
}
