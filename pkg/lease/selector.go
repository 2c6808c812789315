package lease

import (
	"context"

	"github.com/jdziat/shardwork/pkg/core"
)

// DefaultClaimAttempts bounds how many lost acquire races a single Claim
// call absorbs before reporting no work.
const DefaultClaimAttempts = 3

// Serviceability reports whether a worker should be handed work at all.
// The worker registry implements this; a nil gate admits everyone.
type Serviceability interface {
	Serviceable(ctx context.Context, workerID string) (bool, error)
}

// SelectorOption configures a Selector.
type SelectorOption interface {
	ApplySelector(*Selector)
}

type selectorOptionFunc func(*Selector)

func (f selectorOptionFunc) ApplySelector(s *Selector) { f(s) }

// WithServiceability gates candidate hand-out on worker health.
func WithServiceability(gate Serviceability) SelectorOption {
	return selectorOptionFunc(func(s *Selector) {
		s.gate = gate
	})
}

// WithMaxActivePerUser caps how many shards may be assigned or running
// for one user at a time. Zero means no cap.
func WithMaxActivePerUser(n int) SelectorOption {
	return selectorOptionFunc(func(s *Selector) {
		s.maxActivePerUser = n
	})
}

// WithClaimAttempts sets how many candidates one Claim call will race
// for before giving up.
func WithClaimAttempts(n int) SelectorOption {
	return selectorOptionFunc(func(s *Selector) {
		s.claimAttempts = n
	})
}

// Selector hands out shard candidates and runs the read-then-acquire
// claim loop. The candidate read and the lease write are deliberately
// separate steps: the read is advisory, Acquire is the sole source of
// truth, and a lost race just means query again.
type Selector struct {
	store            core.Store
	shards           *Manager
	gate             Serviceability
	maxActivePerUser int
	claimAttempts    int
}

// NewSelector creates a Selector claiming through the given shard lease
// manager.
func NewSelector(store core.Store, shards *Manager, opts ...SelectorOption) *Selector {
	s := &Selector{
		store:         store,
		shards:        shards,
		claimAttempts: DefaultClaimAttempts,
	}
	for _, opt := range opts {
		opt.ApplySelector(s)
	}
	if s.claimAttempts <= 0 {
		s.claimAttempts = DefaultClaimAttempts
	}
	return s
}

// Next returns the oldest, highest-priority assignable shard, or nil
// when none qualifies or a capacity gate refuses the caller. The result
// is advisory only; the caller must still win Acquire on it.
func (s *Selector) Next(ctx context.Context, workerID, userID string) (*core.Shard, error) {
	if s.gate != nil {
		ok, err := s.gate.Serviceable(ctx, workerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
	if s.maxActivePerUser > 0 && userID != "" {
		active, err := s.store.CountActiveShardsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if active >= int64(s.maxActivePerUser) {
			return nil, nil
		}
	}
	return s.store.NextAvailableShard(ctx)
}

// Claim queries a candidate and tries to win its lease, re-querying on
// a lost race. Returns the claimed shard with its lease fields stamped,
// or nil when no shard could be claimed.
func (s *Selector) Claim(ctx context.Context, workerID, userID string) (*core.Shard, error) {
	for i := 0; i < s.claimAttempts; i++ {
		shard, err := s.Next(ctx, workerID, userID)
		if err != nil || shard == nil {
			return nil, err
		}
		won, err := s.shards.Acquire(ctx, shard.ID, workerID, userID)
		if err != nil {
			return nil, err
		}
		if won {
			return s.store.GetShard(ctx, shard.ID)
		}
	}
	return nil, nil
}
