// Package store holds the content-addressed object store and the commit and
// branch bookkeeping that sits on top of it.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrCommitNotFound = errors.New("commit not found")
	ErrBranchNotFound = errors.New("branch not found")
	ErrNoAncestor     = errors.New("commits have no common ancestor")
)

// ObjectStore is a hash-keyed blob store. Objects are immutable once written.
type ObjectStore interface {
	Get(ctx context.Context, hash string) ([]byte, error)
	Put(ctx context.Context, hash string, data []byte) error
	Has(ctx context.Context, hash string) (bool, error)
}

// BranchStatus is the outcome of a compare-and-swap on a branch pointer.
type BranchStatus int

const (
	Synced BranchStatus = iota
	Forked
)

var branchStatusNames = map[BranchStatus]string{
	Synced: "SYNCED",
	Forked: "FORKED",
}

func (s BranchStatus) String() string {
	if name, ok := branchStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

type Commit struct {
	Hash     string    `json:"hash"`
	Parents  []string  `json:"parents"`
	RootHash string    `json:"root"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// CommitStore keeps commits and branch pointers.
type CommitStore interface {
	MakeCommit(ctx context.Context, parents []string, rootHash string, objects map[string][]byte, message string) (*Commit, error)
	LoadCommit(ctx context.Context, hash string) (*Commit, error)
	GetCommonAncestorCommit(ctx context.Context, hashA, hashB string) (string, error)
	GetBranchHash(ctx context.Context, branch string) (string, error)
	// SetBranchHash moves branch from oldHash to newHash. An empty newHash
	// deletes the branch, an empty oldHash expects it not to exist yet.
	SetBranchHash(ctx context.Context, branch, newHash, oldHash string) (BranchStatus, error)
	Branches(ctx context.Context) (map[string]string, error)
}

// HashObject returns the hex SHA-256 digest used as the key of data.
func HashObject(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newCommit(parents []string, rootHash, message string) (*Commit, []byte, error) {
	c := &Commit{
		Parents:  append([]string{}, parents...),
		RootHash: rootHash,
		Message:  message,
		Time:     time.Now().UTC(),
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode commit: %w", err)
	}
	c.Hash = "#" + HashObject(body)
	data, err := json.Marshal(c)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode commit: %w", err)
	}
	return c, data, nil
}

// IsCommitHash reports whether ref looks like a commit hash rather than a
// branch name.
func IsCommitHash(ref string) bool {
	if len(ref) != 65 || ref[0] != '#' {
		return false
	}
	_, err := hex.DecodeString(ref[1:])
	return err == nil
}

// commonAncestor walks the parents of a and b breadth-first, one generation
// per side at a time, and returns the first commit reached from both.
func commonAncestor(ctx context.Context, load func(context.Context, string) (*Commit, error), a, b string) (string, error) {
	if a == b {
		return a, nil
	}
	seenA := map[string]bool{a: true}
	seenB := map[string]bool{b: true}
	frontA := []string{a}
	frontB := []string{b}

	step := func(front []string, seen, other map[string]bool) ([]string, string, error) {
		var next []string
		for _, hash := range front {
			if other[hash] {
				return nil, hash, nil
			}
			c, err := load(ctx, hash)
			if err != nil {
				return nil, "", err
			}
			for _, p := range c.Parents {
				if other[p] {
					return nil, p, nil
				}
				if !seen[p] {
					seen[p] = true
					next = append(next, p)
				}
			}
		}
		return next, "", nil
	}

	for len(frontA) > 0 || len(frontB) > 0 {
		var found string
		var err error
		if frontA, found, err = step(frontA, seenA, seenB); err != nil {
			return "", err
		} else if found != "" {
			return found, nil
		}
		if frontB, found, err = step(frontB, seenB, seenA); err != nil {
			return "", err
		} else if found != "" {
			return found, nil
		}
	}
	return "", fmt.Errorf("%s and %s: %w", a, b, ErrNoAncestor)
}
