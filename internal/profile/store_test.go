package profile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"learnhub/messaging-service/internal/models"

	"github.com/stretchr/testify/require"
)

type countingStore struct {
	inner Store
	calls atomic.Int32
}

func (s *countingStore) GetProfile(ctx context.Context, principalID string) (models.Profile, error) {
	s.calls.Add(1)
	return s.inner.GetProfile(ctx, principalID)
}

func TestMapStore_FallbackForUnknownPrincipal(t *testing.T) {
	req := require.New(t)
	store := NewMapStore(models.Profile{ID: "alice", DisplayName: "Alice"})

	p, err := store.GetProfile(context.Background(), "alice")
	req.NoError(err)
	req.Equal("Alice", p.DisplayName)

	p, err = store.GetProfile(context.Background(), "ghost")
	req.NoError(err)
	req.Equal(Fallback("ghost"), p)
}

func TestCachedStore_ServesFromCache(t *testing.T) {
	req := require.New(t)
	inner := &countingStore{inner: NewMapStore(models.Profile{ID: "bob", DisplayName: "Bob"})}
	cached, err := NewCachedStore(inner, 100, time.Minute)
	req.NoError(err)
	defer cached.Close()

	p, err := cached.GetProfile(context.Background(), "bob")
	req.NoError(err)
	req.Equal("Bob", p.DisplayName)

	// ristretto applies sets asynchronously
	cached.cache.Wait()

	p, err = cached.GetProfile(context.Background(), "bob")
	req.NoError(err)
	req.Equal("Bob", p.DisplayName)
	req.LessOrEqual(inner.calls.Load(), int32(2))
}
