package repository

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity bounds the in-memory log when no database is configured.
const DefaultMemoryCapacity = 1000

// MemoryRepository keeps the most recent prediction logs in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	capacity int
	logs     []*PredictionLog
	nextID   uint
}

// NewMemoryRepository returns a repository retaining at most capacity entries.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryRepository{capacity: capacity}
}

// SaveLog stores a copy of log, evicting the oldest entry when full.
func (r *MemoryRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	log.ID = r.nextID
	entry := *log
	r.logs = append(r.logs, &entry)
	if len(r.logs) > r.capacity {
		r.logs = r.logs[len(r.logs)-r.capacity:]
	}
	return nil
}

// Recent returns up to limit entries, most recent first.
func (r *MemoryRepository) Recent(ctx context.Context, limit int) ([]*PredictionLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := min(limit, len(r.logs))
	out := make([]*PredictionLog, 0, n)
	for i := len(r.logs) - 1; i >= 0 && len(out) < n; i-- {
		entry := *r.logs[i]
		out = append(out, &entry)
	}
	return out, nil
}
