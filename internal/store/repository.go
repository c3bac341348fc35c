package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tab-relay/internal/models"
)

// Repository is the session-level view over a SessionStore. Every call is a
// read-modify-write of the whole mapping, serialized in-process.
type Repository struct {
	mu    sync.Mutex
	store SessionStore
	key   string
}

// NewRepository binds a store to the mapping key (e.g. "activeSearches").
func NewRepository(store SessionStore, key string) *Repository {
	return &Repository{store: store, key: key}
}

// Create stores s, replacing any session with the same id. It reports whether one was replaced.
func (r *Repository) Create(ctx context.Context, s *models.Session) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.store.Get(ctx, r.key)
	if err != nil {
		return false, fmt.Errorf("load sessions: %w", err)
	}
	_, replaced := sessions[s.SessionID]
	sessions[s.SessionID] = s.Clone()
	if err := r.store.Set(ctx, r.key, sessions); err != nil {
		return false, fmt.Errorf("save sessions: %w", err)
	}
	return replaced, nil
}

// Load returns a copy of the session or ErrSessionNotFound.
func (r *Repository) Load(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.store.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	s, ok := sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Update applies fn to the session and persists the result. If fn returns ErrNoChange the
// write is skipped and the unmodified session is returned; any other error aborts the update.
func (r *Repository) Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.store.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	s, ok := sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	before := s.Clone()
	if err := fn(s); err != nil {
		if errors.Is(err, ErrNoChange) {
			return before, nil
		}
		return nil, err
	}
	if err := r.store.Set(ctx, r.key, sessions); err != nil {
		return nil, fmt.Errorf("save sessions: %w", err)
	}
	return s.Clone(), nil
}

// Delete removes the session and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.store.Get(ctx, r.key)
	if err != nil {
		return false, fmt.Errorf("load sessions: %w", err)
	}
	if _, ok := sessions[id]; !ok {
		return false, nil
	}
	delete(sessions, id)
	if err := r.store.Set(ctx, r.key, sessions); err != nil {
		return false, fmt.Errorf("save sessions: %w", err)
	}
	return true, nil
}

// IDs lists the stored session ids in sorted order.
func (r *Repository) IDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.store.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Reset clears the mapping.
func (r *Repository) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Set(ctx, r.key, map[string]*models.Session{}); err != nil {
		return fmt.Errorf("reset sessions: %w", err)
	}
	return nil
}
