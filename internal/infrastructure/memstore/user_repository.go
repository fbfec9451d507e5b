package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/barterhub/barterhub/internal/domain/user"
)

// UserRepository is an in-memory user.Repository.
type UserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[uuid.UUID]*user.User
	byName map[string]uuid.UUID
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:  make(map[uuid.UUID]*user.User),
		byName: make(map[string]uuid.UUID),
	}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[u.Username]; ok {
		return errors.New("username already taken")
	}
	r.nextID++
	stored := *u
	stored.ID = r.nextID
	r.users[u.UserID] = &stored
	r.byName[u.Username] = u.UserID
	u.ID = stored.ID
	return nil
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[u.UserID]
	if !ok {
		return user.ErrNotFound
	}
	updated := *u
	updated.ID = stored.ID
	r.users[u.UserID] = &updated
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, user.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[user.NormalizeUsername(username)]
	if !ok {
		return nil, user.ErrNotFound
	}
	c := *r.users[id]
	return &c, nil
}

func (r *UserRepository) List(ctx context.Context, filter user.Filter, limit, offset int) ([]*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*user.User
	for _, u := range r.users {
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		if filter.Username != nil && u.Username != *filter.Username {
			continue
		}
		c := *u
		out = append(out, &c)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}
