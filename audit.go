package singleton

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Audit records coordination events to a JetStream stream so operators
// can reconstruct ownership history after the fact. A nil *Audit is
// valid and records nothing; logging is always best-effort.
type Audit struct {
	group  string
	nodeID string
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// AuditEntry represents one audit log entry.
type AuditEntry struct {
	Timestamp time.Time      `json:"ts"`
	NodeID    string         `json:"node"`
	Category  string         `json:"category"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
}

// AuditFilter narrows a Query. Zero-value fields match everything.
type AuditFilter struct {
	Since    time.Time
	Until    time.Time
	Category string
	Action   string
	NodeID   string
}

// NewAudit creates an audit logger for the group.
func NewAudit(group, nodeID string, nc *nats.Conn, js jetstream.JetStream) *Audit {
	return &Audit{
		group:  group,
		nodeID: nodeID,
		nc:     nc,
		js:     js,
	}
}

// Start creates the audit stream.
func (a *Audit) Start(ctx context.Context) error {
	if a == nil {
		return nil
	}

	streamName := fmt.Sprintf("%s_audit", a.group)
	subject := fmt.Sprintf("%s._.audit.>", a.group)

	stream, err := a.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: fmt.Sprintf("Singleton coordination audit log for group %s", a.group),
		Subjects:    []string{subject},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("create audit stream: %w", err)
	}

	a.stream = stream
	return nil
}

// Log publishes an audit entry. Failures are swallowed; audit logging
// must never block or fail coordination.
func (a *Audit) Log(ctx context.Context, entry AuditEntry) {
	if a == nil {
		return
	}

	entry.Timestamp = time.Now().UTC()
	entry.NodeID = a.nodeID

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	subject := fmt.Sprintf("%s._.audit.%s.%s", a.group, entry.Category, entry.Action)
	_ = a.nc.Publish(subject, data)
}

// Query retrieves recorded entries matching the filter, oldest first.
func (a *Audit) Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if a == nil || a.stream == nil {
		return nil, fmt.Errorf("audit stream not initialized")
	}

	category := "*"
	if filter.Category != "" {
		category = filter.Category
	}
	action := "*"
	if filter.Action != "" {
		action = filter.Action
	}
	subject := fmt.Sprintf("%s._.audit.%s.%s", a.group, category, action)

	consumerName := fmt.Sprintf("audit-query-%d", time.Now().UnixNano())

	cfg := jetstream.ConsumerConfig{
		Name:          consumerName,
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
		MaxDeliver:    1,
		MemoryStorage: true,
	}
	if !filter.Since.IsZero() {
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		cfg.OptStartTime = &filter.Since
	}

	consumer, err := a.stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create audit consumer: %w", err)
	}
	defer a.stream.DeleteConsumer(context.Background(), consumerName)

	var entries []AuditEntry

	msgs, err := consumer.Fetch(1000, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return entries, nil
	}

	for msg := range msgs.Messages() {
		var entry AuditEntry
		if err := json.Unmarshal(msg.Data(), &entry); err != nil {
			continue
		}

		if !filter.Until.IsZero() && entry.Timestamp.After(filter.Until) {
			continue
		}
		if filter.NodeID != "" && entry.NodeID != filter.NodeID {
			continue
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
