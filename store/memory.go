package store

import (
	"context"
	"sync"
)

const DefaultMemoryCapacity = 1000

// MemoryRecorder keeps the most recent records in a fixed-size ring.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []PredictionRecord
	next    int
	full    bool
}

func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryRecorder{records: make([]PredictionRecord, capacity)}
}

func (m *MemoryRecorder) Save(ctx context.Context, rec PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[m.next] = rec
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *MemoryRecorder) Recent(ctx context.Context, model string, limit int) ([]PredictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = ClampLimit(limit)
	n := m.next
	if m.full {
		n = len(m.records)
	}

	var out []PredictionRecord
	for i := 1; i <= n && len(out) < limit; i++ {
		rec := m.records[(m.next-i+len(m.records))%len(m.records)]
		if rec.Model == model {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) Close() error {
	return nil
}
