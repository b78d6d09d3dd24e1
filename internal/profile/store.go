// Package profile resolves the public profile of a principal. Profiles are
// owned by the identity side of the platform; this service only reads them.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"learnhub/messaging-service/internal/models"

	"github.com/dgraph-io/ristretto/v2"
)

type Store interface {
	GetProfile(ctx context.Context, principalID string) (models.Profile, error)
}

// Fallback is used when a principal has no profile row.
func Fallback(principalID string) models.Profile {
	return models.Profile{ID: principalID, DisplayName: "Unknown user"}
}

type sqlStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) GetProfile(ctx context.Context, principalID string) (models.Profile, error) {
	query := `
	SELECT id, COALESCE(display_name, ''), COALESCE(avatar_url, '')
	FROM profiles
	WHERE id = $1
	`

	var p models.Profile
	err := s.db.QueryRowContext(ctx, query, principalID).Scan(&p.ID, &p.DisplayName, &p.AvatarURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Fallback(principalID), nil
		}
		return models.Profile{}, err
	}
	if p.DisplayName == "" {
		p.DisplayName = Fallback(principalID).DisplayName
	}
	return p, nil
}

// MapStore serves profiles from memory.
type MapStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewMapStore(profiles ...models.Profile) *MapStore {
	s := &MapStore{profiles: make(map[string]models.Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *MapStore) Put(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *MapStore) GetProfile(ctx context.Context, principalID string) (models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[principalID]; ok {
		return p, nil
	}
	return Fallback(principalID), nil
}

// CachedStore fronts another Store with a ristretto cache. Entries expire
// after ttl so renamed users eventually show their new name.
type CachedStore struct {
	next  Store
	cache *ristretto.Cache[string, models.Profile]
	ttl   time.Duration
}

func NewCachedStore(next Store, maxEntries int64, ttl time.Duration) (*CachedStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, models.Profile]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, cache: cache, ttl: ttl}, nil
}

func (s *CachedStore) GetProfile(ctx context.Context, principalID string) (models.Profile, error) {
	if p, ok := s.cache.Get(principalID); ok {
		return p, nil
	}
	p, err := s.next.GetProfile(ctx, principalID)
	if err != nil {
		return models.Profile{}, err
	}
	s.cache.SetWithTTL(principalID, p, 1, s.ttl)
	return p, nil
}

func (s *CachedStore) Close() {
	s.cache.Close()
}
