// ABOUTME: Process-wide holder for the current credential with atomic replace and clear.
// ABOUTME: Optionally mirrors changes to a persister so a restart resumes the same session.

package auth

import (
	"context"
	"log/slog"
	"sync"
)

// Persister mirrors credential changes to durable storage. Implementations
// must tolerate DeleteCredential when nothing is stored.
type Persister interface {
	SaveCredential(ctx context.Context, cred *Credential) error
	LoadCredential(ctx context.Context) (*Credential, error)
	DeleteCredential(ctx context.Context) error
}

// Store holds the current credential. It is purely a value holder: readers
// observe either the previous or the new credential in full, never a mix.
type Store struct {
	mu      sync.RWMutex
	cred    *Credential
	persist Persister
	logger  *slog.Logger
}

// NewStore creates an empty credential store. persist may be nil for a
// memory-only store (tests, or when no credentials path is configured).
func NewStore(persist Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		persist: persist,
		logger:  logger.With("component", "auth"),
	}
}

// Load seeds the store from the persister. A missing stored credential is
// not an error; the store just starts empty.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	cred, err := s.persist.LoadCredential(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

// Get returns the current credential, or nil when logged out. The returned
// value is shared and must not be mutated.
func (s *Store) Get() *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Set atomically replaces the current credential.
func (s *Store) Set(cred *Credential) {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()

	if s.persist != nil && cred != nil {
		if err := s.persist.SaveCredential(context.Background(), cred); err != nil {
			s.logger.Warn("failed to persist credential", "error", err)
		}
	}
}

// Clear removes the current credential. Subsequent calls go out
// unauthenticated until a new login or refresh succeeds.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.DeleteCredential(context.Background()); err != nil {
			s.logger.Warn("failed to delete persisted credential", "error", err)
		}
	}
}
