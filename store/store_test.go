package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fullStore interface {
	ObjectStore
	CommitStore
}

func openStores(t *testing.T) map[string]fullStore {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]fullStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestObjectStore(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte(`{"guid":"x"}`)
			hash := HashObject(data)

			ok, err := s.Has(ctx, hash)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, hash)
			assert.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, s.Put(ctx, hash, data))
			require.NoError(t, s.Put(ctx, hash, data))

			got, err := s.Get(ctx, hash)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestCommonAncestor(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			root, err := s.MakeCommit(ctx, nil, "r0", nil, "initial")
			require.NoError(t, err)
			left, err := s.MakeCommit(ctx, []string{root.Hash}, "r1", nil, "left")
			require.NoError(t, err)
			left2, err := s.MakeCommit(ctx, []string{left.Hash}, "r2", nil, "left again")
			require.NoError(t, err)
			right, err := s.MakeCommit(ctx, []string{root.Hash}, "r3", nil, "right")
			require.NoError(t, err)

			tests := []struct {
				name string
				a, b string
				want string
			}{
				{"diverged", left2.Hash, right.Hash, root.Hash},
				{"same", left.Hash, left.Hash, left.Hash},
				{"descendant", left2.Hash, root.Hash, root.Hash},
				{"ancestor first", left.Hash, left2.Hash, left.Hash},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := s.GetCommonAncestorCommit(ctx, tt.a, tt.b)
					require.NoError(t, err)
					assert.Equal(t, tt.want, got)
				})
			}

			loaded, err := s.LoadCommit(ctx, left2.Hash)
			require.NoError(t, err)
			assert.Equal(t, []string{left.Hash}, loaded.Parents)
			assert.Equal(t, "r2", loaded.RootHash)
			assert.True(t, IsCommitHash(loaded.Hash))
		})
	}
}

func TestNoCommonAncestor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, err := s.MakeCommit(ctx, nil, "a", nil, "a")
	require.NoError(t, err)
	b, err := s.MakeCommit(ctx, nil, "b", nil, "b")
	require.NoError(t, err)

	_, err = s.GetCommonAncestorCommit(ctx, a.Hash, b.Hash)
	assert.ErrorIs(t, err, ErrNoAncestor)
}

func TestSetBranchHash(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			status, err := s.SetBranchHash(ctx, "main", "#1", "")
			require.NoError(t, err)
			assert.Equal(t, Synced, status)

			status, err = s.SetBranchHash(ctx, "main", "#2", "#stale")
			require.NoError(t, err)
			assert.Equal(t, Forked, status)

			status, err = s.SetBranchHash(ctx, "main", "#2", "#1")
			require.NoError(t, err)
			assert.Equal(t, Synced, status)

			hash, err := s.GetBranchHash(ctx, "main")
			require.NoError(t, err)
			assert.Equal(t, "#2", hash)

			branches, err := s.Branches(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"main": "#2"}, branches)

			status, err = s.SetBranchHash(ctx, "main", "", "#2")
			require.NoError(t, err)
			assert.Equal(t, Synced, status)
			_, err = s.GetBranchHash(ctx, "main")
			assert.ErrorIs(t, err, ErrBranchNotFound)
		})
	}
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	cached, err := NewCachedStore(inner, 2)
	require.NoError(t, err)

	data := []byte("payload")
	hash := HashObject(data)
	require.NoError(t, cached.Put(ctx, hash, data))
	assert.Equal(t, 1, inner.Count())

	got, err := cached.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got[0] = 'X'
	again, err := cached.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, again)

	ok, err := cached.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBranchStatusString(t *testing.T) {
	assert.Equal(t, "SYNCED", Synced.String())
	assert.Equal(t, "FORKED", Forked.String())
	assert.Equal(t, "UNKNOWN", BranchStatus(9).String())
}
