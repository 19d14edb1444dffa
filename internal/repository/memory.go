package repository

import (
	"context"
	"slices"
	"sync"

	"patient-portal/internal/model"
)

type MemoryUser struct {
	mu      sync.RWMutex
	byId    map[string]model.User
	byEmail map[string]string
}

func NewMemoryUser() *MemoryUser {
	return &MemoryUser{
		byId:    make(map[string]model.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUser) Create(_ context.Context, user model.User) error {
	email := normalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return model.ErrUserExists
	}
	r.byEmail[email] = user.Id
	r.byId[user.Id] = user
	return nil
}

func (r *MemoryUser) GetById(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byId[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &user, nil
}

func (r *MemoryUser) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[normalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}
	return r.GetById(ctx, id)
}

type MemoryPost struct {
	mu    sync.RWMutex
	posts []model.Post
}

func NewMemoryPost() *MemoryPost {
	return &MemoryPost{}
}

func (r *MemoryPost) Create(_ context.Context, post model.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, post)
	return nil
}

func (r *MemoryPost) List(_ context.Context) ([]model.Post, error) {
	return r.filter(func(model.Post) bool { return true }), nil
}

func (r *MemoryPost) ListByUser(_ context.Context, userId string) ([]model.Post, error) {
	return r.filter(func(p model.Post) bool { return p.User == userId }), nil
}

// filter returns matching posts newest first; equal dates keep the latest
// insert first.
func (r *MemoryPost) filter(match func(model.Post) bool) []model.Post {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Post, 0, len(r.posts))
	for i := len(r.posts) - 1; i >= 0; i-- {
		if match(r.posts[i]) {
			out = append(out, r.posts[i])
		}
	}
	slices.SortStableFunc(out, func(a, b model.Post) int {
		return b.Date.Compare(a.Date)
	})
	return out
}
