// Package session tracks per-channel session health. A channel is marked
// degraded when the last adapter call on it reported an expired session;
// only an external reauthentication report clears the flag.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brokermate/messaging/internal/model"
)

type ChannelHealth struct {
	Degraded bool       `json:"degraded"`
	Reason   string     `json:"reason,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
}

type Monitor struct {
	mu       sync.Mutex
	degraded map[model.Channel]ChannelHealth
}

func NewMonitor() *Monitor {
	return &Monitor{
		degraded: make(map[model.Channel]ChannelHealth),
	}
}

func (m *Monitor) MarkDegraded(ch model.Channel, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.degraded[ch]; ok && h.Degraded {
		// Already degraded; keep the original Since.
		return
	}

	now := time.Now().UTC()
	m.degraded[ch] = ChannelHealth{
		Degraded: true,
		Reason:   reason,
		Since:    &now,
	}
	slog.Warn("channel session degraded", "channel", string(ch), "reason", reason)
}

// Resolve clears the degraded flag after an external reauthentication has
// completed and been reported back in.
func (m *Monitor) Resolve(ch model.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.degraded[ch]; !ok || !h.Degraded {
		return
	}
	delete(m.degraded, ch)
	slog.Info("channel session restored", "channel", string(ch))
}

func (m *Monitor) IsDegraded(ch model.Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.degraded[ch].Degraded
}

// Snapshot returns health for every known channel, healthy ones included.
func (m *Monitor) Snapshot() map[model.Channel]ChannelHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[model.Channel]ChannelHealth, len(model.Channels()))
	for _, ch := range model.Channels() {
		out[ch] = m.degraded[ch]
	}
	return out
}
