package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps objects, commits and branches in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	commits  map[string]*Commit
	branches map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string][]byte),
		commits:  make(map[string]*Commit),
		branches: make(map[string]string),
	}
}

func cloneBytes(data []byte) []byte {
	result := make([]byte, len(data))
	copy(result, data)
	return result
}

func (s *MemoryStore) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", hash, ErrNotFound)
	}
	return cloneBytes(data), nil
}

func (s *MemoryStore) Put(_ context.Context, hash string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[hash]; exists {
		return nil
	}
	s.objects[hash] = cloneBytes(data)
	return nil
}

func (s *MemoryStore) Has(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[hash]
	return ok, nil
}

// Count returns the number of stored objects.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) MakeCommit(ctx context.Context, parents []string, rootHash string, objects map[string][]byte, message string) (*Commit, error) {
	for hash, data := range objects {
		if err := s.Put(ctx, hash, data); err != nil {
			return nil, err
		}
	}
	c, _, err := newCommit(parents, rootHash, message)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[c.Hash] = c
	copied := *c
	return &copied, nil
}

func (s *MemoryStore) LoadCommit(_ context.Context, hash string) (*Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.commits[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", hash, ErrCommitNotFound)
	}
	copied := *c
	copied.Parents = append([]string{}, c.Parents...)
	return &copied, nil
}

func (s *MemoryStore) GetCommonAncestorCommit(ctx context.Context, hashA, hashB string) (string, error) {
	return commonAncestor(ctx, s.LoadCommit, hashA, hashB)
}

func (s *MemoryStore) GetBranchHash(_ context.Context, branch string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, ok := s.branches[branch]
	if !ok {
		return "", fmt.Errorf("%s: %w", branch, ErrBranchNotFound)
	}
	return hash, nil
}

func (s *MemoryStore) SetBranchHash(_ context.Context, branch, newHash, oldHash string) (BranchStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.branches[branch] != oldHash {
		return Forked, nil
	}
	if newHash == "" {
		delete(s.branches, branch)
	} else {
		s.branches[branch] = newHash
	}
	return Synced, nil
}

func (s *MemoryStore) Branches(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string, len(s.branches))
	for name, hash := range s.branches {
		result[name] = hash
	}
	return result, nil
}
