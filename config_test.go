package singleton_test

import (
	"os"
	"path/filepath"
	"testing"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/ozanturksever/go-singleton/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileConfig_Defaults(t *testing.T) {
	cfg := &singleton.FileConfig{Group: "myapp"}
	cfg.ApplyDefaults()

	host, _ := os.Hostname()
	assert.Equal(t, host, cfg.NodeID)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.Servers)
	assert.NoError(t, cfg.Validate())
}

func TestFileConfig_Validate(t *testing.T) {
	cfg := &singleton.FileConfig{}
	assert.Error(t, cfg.Validate(), "missing group")

	cfg.Group = "myapp"
	assert.Error(t, cfg.Validate(), "missing node ID")

	cfg.NodeID = "node-1"
	assert.Error(t, cfg.Validate(), "missing servers")

	cfg.NATS.Servers = []string{"nats://a:4222"}
	assert.NoError(t, cfg.Validate())
}

func TestFileConfig_URL(t *testing.T) {
	cfg := &singleton.FileConfig{
		NATS: singleton.NATSFileConfig{
			Servers: []string{"nats://a:4222", "nats://b:4222"},
		},
	}
	assert.Equal(t, "nats://a:4222,nats://b:4222", cfg.URL())
}

func TestFileConfig_Options(t *testing.T) {
	cfg := &singleton.FileConfig{
		Group:         "myapp",
		NodeID:        "node-1",
		HeartbeatMs:   500,
		LeaseTTLMs:    2000,
		MissThreshold: 5,
		RejoinDelayMs: 750,
		MetricsAddr:   ":9090",
	}

	opts := cfg.Options()
	assert.Len(t, opts, 5)
}

func TestFileConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "singleton.json")

	in := &singleton.FileConfig{
		Group:  "myapp",
		NodeID: "node-1",
		NATS: singleton.NATSFileConfig{
			Servers:     []string{"nats://a:4222"},
			Credentials: "/etc/nats/app.creds",
		},
		HeartbeatMs: 1000,
	}
	require.NoError(t, singleton.WriteConfigToFile(in, path))

	out, err := singleton.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, in.Group, out.Group)
	assert.Equal(t, in.NodeID, out.NodeID)
	assert.Equal(t, in.NATS.Servers, out.NATS.Servers)
	assert.Equal(t, in.NATS.Credentials, out.NATS.Credentials)
	assert.Equal(t, in.HeartbeatMs, out.HeartbeatMs)
}

func TestConnectFromConfig(t *testing.T) {
	ns := testutil.StartNATS(t)
	defer ns.Stop()

	cfg := &singleton.FileConfig{
		Group:  "cfgapp",
		NodeID: "node-1",
		NATS: singleton.NATSFileConfig{
			Servers: []string{ns.URL()},
		},
		HeartbeatMs: 100,
		LeaseTTLMs:  1000,
	}

	g, err := singleton.ConnectFromConfig(cfg)
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, "cfgapp", g.Name())
	assert.Equal(t, "node-1", g.NodeID())
	assert.True(t, g.NATS().IsConnected())
}

func TestConnectFromConfig_RejectsInvalid(t *testing.T) {
	_, err := singleton.ConnectFromConfig(&singleton.FileConfig{NodeID: "n1"})
	assert.Error(t, err, "config without a group must not connect")
}

func TestFileConfig_LoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"nodeId":"n1"}`), 0o644))
	_, err := singleton.LoadConfigFromFile(path)
	assert.Error(t, err, "config without a group must not load")

	_, err = singleton.LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
