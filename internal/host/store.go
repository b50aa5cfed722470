package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fedconnect/connector/oidc"
	gocache "github.com/patrickmn/go-cache"
)

// AttemptStore keeps attempts in memory until they expire.  It implements
// callback.AttemptReader.
//
// An AttemptContext isn't safe for concurrent use, so each stored attempt
// carries a lock which a request must hold, via Lock, for as long as it
// drives the attempt.
type AttemptStore struct {
	c *gocache.Cache
}

type attemptEntry struct {
	mu sync.Mutex
	ac *oidc.AttemptContext
}

// NewAttemptStore creates a store whose entries are evicted after ttl.
func NewAttemptStore(ttl time.Duration) *AttemptStore {
	return &AttemptStore{c: gocache.New(ttl, time.Minute)}
}

// Add stores the attempt under its ID until the attempt expires.
func (s *AttemptStore) Add(ac *oidc.AttemptContext) error {
	const op = "AttemptStore.Add"
	if ac == nil {
		return fmt.Errorf("%s: attempt is nil: %w", op, oidc.ErrNilParameter)
	}
	ttl := time.Until(ac.Expiration())
	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, oidc.ErrExpiredAttempt)
	}
	s.c.Set(ac.ID(), &attemptEntry{ac: ac}, ttl)
	return nil
}

// Read returns the attempt with the ID, or an error wrapping oidc.ErrNotFound.
func (s *AttemptStore) Read(_ context.Context, attemptID string) (*oidc.AttemptContext, error) {
	const op = "AttemptStore.Read"
	e, err := s.entry(attemptID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e.ac, nil
}

// Lock locks the attempt with the ID and returns the func which unlocks it.
// Locking an unknown attempt is a no-op, so the request goes on to fail
// when it reads the attempt.
func (s *AttemptStore) Lock(attemptID string) (unlock func()) {
	e, err := s.entry(attemptID)
	if err != nil {
		return func() {}
	}
	e.mu.Lock()
	return e.mu.Unlock
}

// Delete removes the attempt with the ID.
func (s *AttemptStore) Delete(attemptID string) {
	s.c.Delete(attemptID)
}

// Len returns the number of stored attempts, including expired attempts not
// yet evicted.
func (s *AttemptStore) Len() int {
	return s.c.ItemCount()
}

func (s *AttemptStore) entry(attemptID string) (*attemptEntry, error) {
	v, ok := s.c.Get(attemptID)
	if !ok {
		return nil, fmt.Errorf("attempt %q: %w", attemptID, oidc.ErrNotFound)
	}
	e, ok := v.(*attemptEntry)
	if !ok {
		return nil, fmt.Errorf("attempt %q is a %T: %w", attemptID, v, oidc.ErrNotFound)
	}
	return e, nil
}
