// Package sessionid generates spawned-session identifiers, grounded on
// routes.py's `f"spawn-{uuid.uuid4().hex[:12]}"`.
package sessionid

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentmesh/daemon/internal/store"
	"github.com/google/uuid"
)

// New returns a fresh "spawn-<12 hex>" identifier.
func New() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "spawn-" + raw[:12]
}

// Exists reports whether sid is already in use.
type Exists func(ctx context.Context, sid string) (bool, error)

// CheckedBy returns an Exists backed by store s.
func CheckedBy(s *store.Store) Exists {
	return func(ctx context.Context, sid string) (bool, error) {
		_, err := s.GetSession(ctx, sid)
		if err == store.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

// Unique generates a spawn id, retrying once on collision before giving
// up — collisions are astronomically unlikely with a 48-bit random
// identifier, so a single retry is enough (spec.md §9).
func Unique(ctx context.Context, exists Exists) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		sid := New()
		taken, err := exists(ctx, sid)
		if err != nil {
			return "", fmt.Errorf("sessionid: check existing: %w", err)
		}
		if !taken {
			return sid, nil
		}
	}
	return "", fmt.Errorf("sessionid: could not allocate a unique session id after retry")
}
