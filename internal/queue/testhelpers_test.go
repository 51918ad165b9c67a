package queue_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-kasir/internal/queue"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]queue.DeadLetter
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[uuid.UUID]queue.DeadLetter)}
}

func (m *memoryStore) Insert(_ context.Context, d queue.DeadLetter) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.entries[d.ID] = d
	return d.ID, nil
}

func (m *memoryStore) Get(_ context.Context, id uuid.UUID) (queue.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.entries[id]
	if !ok {
		return queue.DeadLetter{}, queue.ErrDeadLetterNotFound
	}
	return d, nil
}

func (m *memoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memoryStore) List(_ context.Context, kind string, limit, offset int) ([]queue.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.DeadLetter, 0, len(m.entries))
	for _, d := range m.entries {
		if kind == "" || d.Kind == kind {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) Count(ctx context.Context, kind string) (int64, error) {
	list, err := m.List(ctx, kind, 0, 0)
	return int64(len(list)), err
}
