package store

import (
	"context"
	"errors"

	"tab-relay/internal/models"
)

// ErrSessionNotFound is returned when a session id is not present in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoChange may be returned from an Update callback to skip the write.
var ErrNoChange = errors.New("no change")

// Backend persists opaque blobs by key.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// SessionStore reads and writes the whole session mapping stored under a key.
type SessionStore interface {
	Get(ctx context.Context, key string) (map[string]*models.Session, error)
	Set(ctx context.Context, key string, sessions map[string]*models.Session) error
}

// CodecStore is a SessionStore that encodes the mapping into a single Backend blob.
type CodecStore struct {
	backend Backend
}

// NewCodecStore wraps a backend.
func NewCodecStore(backend Backend) *CodecStore {
	return &CodecStore{backend: backend}
}

// Get loads and decodes the mapping; a missing key yields an empty mapping.
func (s *CodecStore) Get(ctx context.Context, key string) (map[string]*models.Session, error) {
	payload, ok, err := s.backend.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]*models.Session{}, nil
	}
	return DecodeSessions(payload)
}

// Set encodes and writes the mapping.
func (s *CodecStore) Set(ctx context.Context, key string, sessions map[string]*models.Session) error {
	payload, err := EncodeSessions(sessions)
	if err != nil {
		return err
	}
	return s.backend.Save(ctx, key, payload)
}
