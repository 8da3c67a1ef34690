package singleton

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureHandler records log messages for assertions.
type captureHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, r.Message)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) has(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.messages {
		if m == msg {
			return true
		}
	}
	return false
}

func TestMetrics_StartLogsServeFailure(t *testing.T) {
	// Occupy a port so ListenAndServe fails to bind.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	capture := &captureHandler{}
	m := NewMetrics("myapp", "node-1", slog.New(capture))
	require.NoError(t, m.Start(context.Background(), ln.Addr().String()))
	defer m.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return capture.has("metrics server failed")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NoError(t, m.Start(context.Background(), ":0"))
	m.Stop(context.Background())
	m.SetOwner("job", true)
	m.ObserveClaim("job", "won", time.Millisecond)
	m.IncConflict("job")
	m.IncFailover("job")
	m.IncChildRestart("job")
	m.IncTermination("job", ReasonAbnormal)
	assert.Nil(t, m.Registry())
}
