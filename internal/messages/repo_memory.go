package messages

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo. Results keep insertion order.
type MemoryRepo struct {
	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{ids: make(map[string]struct{})}
}

func (r *MemoryRepo) PutRecord(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[rec.ID]; ok {
		return ErrDuplicateID
	}
	r.ids[rec.ID] = struct{}{}
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) GetByOwner(ctx context.Context, username string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Record{}
	for _, rec := range r.records {
		if rec.Username == username {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemoryRepo) QueryByPhoneSet(ctx context.Context, phones []string, hasObjectKey bool) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(phones) == 0 {
		return []Record{}, nil
	}
	return r.filter(phoneSet(phones), hasObjectKey), nil
}

func (r *MemoryRepo) ScanAll(ctx context.Context, hasObjectKey bool) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.filter(nil, hasObjectKey), nil
}

func (r *MemoryRepo) filter(phones map[string]struct{}, hasObjectKey bool) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Record{}
	for _, rec := range r.records {
		if matches(rec, phones, hasObjectKey) {
			out = append(out, rec)
		}
	}
	return out
}

var _ Repo = (*MemoryRepo)(nil)
