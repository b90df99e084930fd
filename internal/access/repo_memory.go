package access

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]Association
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[string]Association), now: time.Now}
}

func (r *MemoryRepo) Get(ctx context.Context, username string) (Association, error) {
	if err := ctx.Err(); err != nil {
		return Association{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[username]
	if !ok {
		return Association{}, ErrNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepo) AppendPhone(ctx context.Context, username, phone string) (Association, bool, error) {
	if err := ctx.Err(); err != nil {
		return Association{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[username]
	if !ok {
		a = Association{Username: username, Role: RoleViewer}
	}
	if a.Has(phone) {
		return a.clone(), false, nil
	}
	a.PhoneNumbers = append(append([]string{}, a.PhoneNumbers...), phone)
	a.Version++
	a.UpdatedAt = r.now().UTC()
	r.items[username] = a
	return a.clone(), true, nil
}

func (r *MemoryRepo) RemovePhone(ctx context.Context, username, phone string) (Association, error) {
	if err := ctx.Err(); err != nil {
		return Association{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[username]
	if !ok {
		return Association{}, ErrNotFound
	}
	if !a.Has(phone) {
		return Association{}, ErrPhoneNotAssociated
	}
	a.PhoneNumbers = withoutPhone(a.PhoneNumbers, phone)
	a.Version++
	a.UpdatedAt = r.now().UTC()
	r.items[username] = a
	return a.clone(), nil
}

func (r *MemoryRepo) SetRole(ctx context.Context, username string, role Role) (Association, error) {
	if err := ctx.Err(); err != nil {
		return Association{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[username]
	if !ok {
		a = Association{Username: username, PhoneNumbers: []string{}}
	}
	a.Role = role
	a.Version++
	a.UpdatedAt = r.now().UTC()
	r.items[username] = a
	return a.clone(), nil
}

var _ Repo = (*MemoryRepo)(nil)
