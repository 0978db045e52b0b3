package cache

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// evictionPolicy orders entries so that victims come first.
type evictionPolicy interface {
	// sortEntries reorders entries in eviction order (first evicted first).
	sortEntries(entries []*Entry)
}

// fifoPolicy evicts the oldest insertion first.
type fifoPolicy struct{}

func (fifoPolicy) sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].InsertedAt < entries[j].InsertedAt
	})
}

// lruPolicy evicts the least recently accessed entry first.
type lruPolicy struct{}

func (lruPolicy) sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed < entries[j].LastAccessed
	})
}

// randomPolicy evicts uniformly sampled entries.
type randomPolicy struct{}

func (randomPolicy) sortEntries(entries []*Entry) {
	rand.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}

// noEvictionPolicy never selects victims; the size bound is not enforced.
type noEvictionPolicy struct{}

func (noEvictionPolicy) sortEntries([]*Entry) {}

func newEvictionPolicy(name string) (evictionPolicy, error) {
	switch name {
	case PolicyFIFO:
		return fifoPolicy{}, nil
	case PolicyLRU:
		return lruPolicy{}, nil
	case PolicyRandom:
		return randomPolicy{}, nil
	case PolicyNoEviction:
		return noEvictionPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown eviction policy %q", types.ErrInvalidArgument, name)
	}
}
