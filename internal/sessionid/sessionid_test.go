package sessionid

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var spawnIDPattern = regexp.MustCompile(`^spawn-[0-9a-f]{12}$`)

func TestNewMatchesSpawnIDShape(t *testing.T) {
	sid := New()
	require.Regexp(t, spawnIDPattern, sid)
}

func TestNewIsRandomized(t *testing.T) {
	require.NotEqual(t, New(), New())
}

func TestUniqueRetriesOnceOnCollision(t *testing.T) {
	calls := 0
	exists := func(ctx context.Context, sid string) (bool, error) {
		calls++
		return calls == 1, nil // first id taken, second is free
	}
	sid, err := Unique(context.Background(), exists)
	require.NoError(t, err)
	require.Regexp(t, spawnIDPattern, sid)
	require.Equal(t, 2, calls)
}

func TestUniqueFailsAfterTwoCollisions(t *testing.T) {
	exists := func(ctx context.Context, sid string) (bool, error) { return true, nil }
	_, err := Unique(context.Background(), exists)
	require.Error(t, err)
}
