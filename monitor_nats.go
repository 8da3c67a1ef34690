package singleton

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSMonitor implements Monitor over plain NATS pub/sub. An announced
// claimant publishes heartbeats on its presence subject and a tagged
// last-word message when it closes; a watch is a subscription plus a
// missed-beat timer, so environments without push-based termination
// still detect silent death.
type NATSMonitor struct {
	group  string
	nc     *nats.Conn
	opts   *groupOptions
	logger *slog.Logger
}

// downMessage is the last-word payload published on clean withdrawal.
type downMessage struct {
	Handle Handle `json:"handle"`
	Reason Reason `json:"reason"`
}

// NewNATSMonitor creates a monitor for the group.
func NewNATSMonitor(group string, nc *nats.Conn, opts *groupOptions) *NATSMonitor {
	if opts == nil {
		opts = defaultGroupOptions()
	}
	return &NATSMonitor{
		group:  group,
		nc:     nc,
		opts:   opts,
		logger: opts.logger.With("component", "monitor", "group", group),
	}
}

func (m *NATSMonitor) beatSubject(h Handle) string {
	return fmt.Sprintf("%s.singleton.presence.%s.beat", m.group, natsKeyEscape(h.Incarnation))
}

func (m *NATSMonitor) downSubject(h Handle) string {
	return fmt.Sprintf("%s.singleton.presence.%s.down", m.group, natsKeyEscape(h.Incarnation))
}

// Announce implements Monitor. It beats immediately and then every
// heartbeat interval until the presence is closed.
func (m *NATSMonitor) Announce(ctx context.Context, handle Handle) (Presence, error) {
	if err := m.nc.Publish(m.beatSubject(handle), nil); err != nil {
		return nil, fmt.Errorf("announce %s: %w", handle, err)
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &natsPresence{monitor: m, handle: handle, cancel: cancel}

	go func() {
		ticker := time.NewTicker(m.opts.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-ticker.C:
				_ = m.nc.Publish(m.beatSubject(handle), nil)
			}
		}
	}()

	return p, nil
}

type natsPresence struct {
	monitor *NATSMonitor
	handle  Handle
	cancel  context.CancelFunc
	once    sync.Once
}

// Close withdraws the presence, publishing the termination reason as the
// last word so watchers see an intentional shutdown instead of a
// missed-beat timeout.
func (p *natsPresence) Close(reason Reason) {
	p.once.Do(func() {
		p.cancel()
		msg := downMessage{Handle: p.handle, Reason: reason}
		if data, err := json.Marshal(msg); err == nil {
			_ = p.monitor.nc.Publish(p.monitor.downSubject(p.handle), data)
			_ = p.monitor.nc.Flush()
		}
	})
}

// Watch implements Monitor. The returned watch delivers exactly one
// termination: the target's last word if it closes cleanly, or an
// abnormal termination after missThreshold heartbeats go missing.
func (m *NATSMonitor) Watch(ctx context.Context, target Handle) (Watch, error) {
	w := &natsWatch{
		term: make(chan Termination, 1),
	}

	timeout := time.Duration(m.opts.missThreshold) * m.opts.heartbeat
	timer := time.NewTimer(timeout)

	var mu sync.Mutex
	stopped := false

	deliver := func(t Termination) {
		w.once.Do(func() {
			w.term <- t
			close(w.term)
		})
	}

	beatSub, err := m.nc.Subscribe(m.beatSubject(target), func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(timeout)
	})
	if err != nil {
		timer.Stop()
		return nil, fmt.Errorf("watch %s: %w", target, err)
	}

	downSub, err := m.nc.Subscribe(m.downSubject(target), func(msg *nats.Msg) {
		var down downMessage
		if jerr := json.Unmarshal(msg.Data, &down); jerr != nil {
			return
		}
		deliver(Termination{Handle: target, Reason: down.Reason})
	})
	if err != nil {
		beatSub.Unsubscribe()
		timer.Stop()
		return nil, fmt.Errorf("watch %s: %w", target, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-timer.C:
			m.logger.Warn("watched handle missed heartbeats", "target", target.String(), "timeout", timeout)
			deliver(Termination{Handle: target, Reason: ReasonAbnormal})
		case <-done:
		}
	}()

	w.stop = func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		beatSub.Unsubscribe()
		downSub.Unsubscribe()
		timer.Stop()
		close(done)
		w.once.Do(func() { close(w.term) })
	}

	return w, nil
}

type natsWatch struct {
	term chan Termination
	once sync.Once

	stopOnce sync.Once
	stop     func()
}

// Done implements Watch.
func (w *natsWatch) Done() <-chan Termination {
	return w.term
}

// Stop implements Watch. A stopped watch delivers nothing further.
func (w *natsWatch) Stop() {
	w.stopOnce.Do(func() {
		if w.stop != nil {
			w.stop()
		}
	})
}

var _ Monitor = (*NATSMonitor)(nil)
