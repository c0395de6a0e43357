package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brokermate/messaging/internal/model"
)

// Memory keeps the full delivery ledger in process. It backs tests and the
// live run state when no database is attached; semantics mirror the
// Postgres implementation exactly.
type Memory struct {
	mu         sync.Mutex
	messages   map[string]*model.Message
	broadcasts map[string]*model.Broadcast
}

func NewMemory() *Memory {
	return &Memory{
		messages:   make(map[string]*model.Message),
		broadcasts: make(map[string]*model.Broadcast),
	}
}

func (m *Memory) InsertOptimistic(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		return fmt.Errorf("ledger: message id must not be empty")
	}
	if _, exists := m.messages[msg.ID]; exists {
		return fmt.Errorf("ledger: duplicate message id %s", msg.ID)
	}

	now := time.Now().UTC()
	cp := *msg
	cp.Status = model.StatusPending
	cp.Optimistic = true
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.messages[cp.ID] = &cp
	return nil
}

func (m *Memory) MarkSent(ctx context.Context, id, externalID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	msg.Status = model.StatusSent
	msg.Optimistic = false
	msg.SentAt = &now
	msg.UpdatedAt = now
	if externalID != "" {
		msg.ExternalID = &externalID
	}
	if note != "" {
		msg.Annotation = &note
	} else {
		msg.Annotation = nil
	}
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}

	msg.Status = model.StatusError
	msg.Optimistic = false
	msg.Annotation = &reason
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Annotate(ctx context.Context, id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}

	msg.Annotation = &note
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Requeue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}

	msg.Status = model.StatusPending
	msg.Optimistic = true
	msg.Annotation = nil
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) ListRecent(ctx context.Context, conversation string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var out []model.Message
	for _, msg := range m.messages {
		if msg.Conversation == conversation {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateBroadcast(ctx context.Context, b *model.Broadcast) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.ID == "" {
		return fmt.Errorf("ledger: broadcast id must not be empty")
	}
	if _, exists := m.broadcasts[b.ID]; exists {
		return fmt.Errorf("ledger: duplicate broadcast id %s", b.ID)
	}
	cp := *b
	m.broadcasts[cp.ID] = &cp
	return nil
}

func (m *Memory) UpdateProgress(ctx context.Context, id string, sent, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.broadcasts[id]
	if !ok {
		return ErrNotFound
	}
	b.SentCount = sent
	b.FailedCount = failed
	return nil
}

func (m *Memory) MarkInProgress(ctx context.Context, id string, startedAt time.Time, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.broadcasts[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = model.BroadcastInProgress
	b.StartedAt = startedAt.UTC()
	b.Total = total
	return nil
}

func (m *Memory) FinalizeBroadcast(ctx context.Context, id string, status model.BroadcastStatus, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.broadcasts[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	t := completedAt.UTC()
	b.CompletedAt = &t
	return nil
}

func (m *Memory) GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.broadcasts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}
