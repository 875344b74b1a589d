package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 4096

// CachedStore keeps recently read objects of an underlying store in an LRU.
type CachedStore struct {
	ObjectStore
	cache *lru.Cache[string, []byte]
}

// NewCachedStore wraps inner with an LRU of size objects. A size of zero or
// less uses DefaultCacheSize.
func NewCachedStore(inner ObjectStore, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create object cache: %w", err)
	}
	return &CachedStore{ObjectStore: inner, cache: cache}, nil
}

func (s *CachedStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if data, ok := s.cache.Get(hash); ok {
		return cloneBytes(data), nil
	}
	data, err := s.ObjectStore.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	s.cache.Add(hash, cloneBytes(data))
	return data, nil
}

func (s *CachedStore) Put(ctx context.Context, hash string, data []byte) error {
	if err := s.ObjectStore.Put(ctx, hash, data); err != nil {
		return err
	}
	s.cache.Add(hash, cloneBytes(data))
	return nil
}

func (s *CachedStore) Has(ctx context.Context, hash string) (bool, error) {
	if s.cache.Contains(hash) {
		return true, nil
	}
	return s.ObjectStore.Has(ctx, hash)
}
