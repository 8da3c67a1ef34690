package singleton

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileConfig is the JSON configuration consumed by the CLI and by
// applications that prefer a file over programmatic options.
type FileConfig struct {
	Group  string         `json:"group"`
	NodeID string         `json:"nodeId"`
	NATS   NATSFileConfig `json:"nats"`

	HeartbeatMs   int64  `json:"heartbeatMs,omitempty"`
	LeaseTTLMs    int64  `json:"leaseTtlMs,omitempty"`
	MissThreshold int    `json:"missThreshold,omitempty"`
	RejoinDelayMs int64  `json:"rejoinDelayMs,omitempty"`
	MetricsAddr   string `json:"metricsAddr,omitempty"`
}

// NATSFileConfig contains NATS connection settings.
type NATSFileConfig struct {
	Servers     []string `json:"servers"`
	Credentials string   `json:"credentials,omitempty"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *FileConfig) ApplyDefaults() {
	if c.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			c.NodeID = host
		}
	}
	if len(c.NATS.Servers) == 0 {
		c.NATS.Servers = []string{"nats://localhost:4222"}
	}
}

// Validate checks the configuration for required fields.
func (c *FileConfig) Validate() error {
	if c.Group == "" {
		return fmt.Errorf("group is required")
	}
	if c.NodeID == "" {
		return fmt.Errorf("nodeId is required")
	}
	if len(c.NATS.Servers) == 0 {
		return fmt.Errorf("at least one NATS server is required")
	}
	return nil
}

// URL returns the NATS server list as a single connect string.
func (c *FileConfig) URL() string {
	return strings.Join(c.NATS.Servers, ",")
}

// Options converts the file configuration into group options.
func (c *FileConfig) Options() []Option {
	var opts []Option
	if c.HeartbeatMs > 0 {
		opts = append(opts, WithHeartbeat(time.Duration(c.HeartbeatMs)*time.Millisecond))
	}
	if c.LeaseTTLMs > 0 {
		opts = append(opts, WithLeaseTTL(time.Duration(c.LeaseTTLMs)*time.Millisecond))
	}
	if c.MissThreshold > 0 {
		opts = append(opts, WithMissThreshold(c.MissThreshold))
	}
	if c.RejoinDelayMs > 0 {
		opts = append(opts, WithRejoinDelay(time.Duration(c.RejoinDelayMs)*time.Millisecond))
	}
	if c.MetricsAddr != "" {
		opts = append(opts, MetricsAddr(c.MetricsAddr))
	}
	if c.NATS.Credentials != "" {
		opts = append(opts, NATSCreds(c.NATS.Credentials))
	}
	return opts
}

// ConnectFromConfig joins the group described by cfg. Options given
// here are applied after the config's own, so they win on conflict.
func ConnectFromConfig(cfg *FileConfig, opts ...Option) (*Group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return Connect(cfg.Group, cfg.NodeID, cfg.URL(), append(cfg.Options(), opts...)...)
}

// LoadConfigFromFile reads and validates a FileConfig from path.
func LoadConfigFromFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// WriteConfigToFile writes the configuration as indented JSON.
func WriteConfigToFile(cfg *FileConfig, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
