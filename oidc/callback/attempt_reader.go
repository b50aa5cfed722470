package callback

import (
	"context"
	"fmt"

	"github.com/fedconnect/connector/oidc"
)

// AttemptReader defines an interface for finding and reading an
// oidc.AttemptContext.  Implementations must be concurrently safe, since the
// reader will likely be used within a concurrent http.Handler
type AttemptReader interface {
	// Read an existing attempt.  The returned attempt's ID() must match the
	// attemptID used to look it up.  A missing (or expired and evicted)
	// attempt returns an error wrapping oidc.ErrNotFound.
	Read(ctx context.Context, attemptID string) (*oidc.AttemptContext, error)
}

// SingleAttemptReader implements the AttemptReader interface for a single
// attempt.
type SingleAttemptReader struct {
	Attempt *oidc.AttemptContext
}

// Read will return its single attempt if the attemptID matches its ID(),
// otherwise it returns an error of oidc.ErrNotFound.
func (s *SingleAttemptReader) Read(_ context.Context, attemptID string) (*oidc.AttemptContext, error) {
	const op = "SingleAttemptReader.Read"
	if s.Attempt == nil || s.Attempt.ID() != attemptID {
		return nil, fmt.Errorf("%s: attempt %q: %w", op, attemptID, oidc.ErrNotFound)
	}
	return s.Attempt, nil
}
