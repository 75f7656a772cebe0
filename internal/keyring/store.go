// Package keyring resolves and caches share keys. Keys are immutable once
// issued, so the cache is append-only: newly observed rotations are merged
// in and nothing is ever evicted or rewritten.
package keyring

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nguyenkims/pass/internal/domain"
	"github.com/nguyenkims/pass/internal/logging"
)

// RemoteSource fetches a share's keys from the server.
type RemoteSource interface {
	GetShareKeys(ctx context.Context, account domain.Account, shareID domain.ShareID) ([]domain.ShareKey, error)
}

// Store is a read-through cache of share keys keyed by share id, ordered by
// rotation sequence. Concurrent readers never see a half-written key.
type Store struct {
	remote RemoteSource
	log    logging.Logger

	mu   sync.RWMutex
	keys map[domain.ShareID][]domain.ShareKey
}

func NewStore(remote RemoteSource, log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop{}
	}
	return &Store{
		remote: remote,
		log:    log,
		keys:   make(map[domain.ShareID][]domain.ShareKey),
	}
}

// AllKeys returns every rotation of the share, oldest first. Needed to
// decrypt historical items encrypted under older rotations. The returned
// slice is the caller's own; later refreshes never touch it.
func (s *Store) AllKeys(ctx context.Context, account domain.Account, shareID domain.ShareID) ([]domain.ShareKey, error) {
	s.mu.RLock()
	cached := s.keys[shareID]
	if len(cached) > 0 {
		out := make([]domain.ShareKey, len(cached))
		copy(out, cached)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()
	return s.Refresh(ctx, account, shareID)
}

// LatestKey returns the key with the highest rotation sequence.
func (s *Store) LatestKey(ctx context.Context, account domain.Account, shareID domain.ShareID) (domain.ShareKey, error) {
	keys, err := s.AllKeys(ctx, account, shareID)
	if err != nil {
		return domain.ShareKey{}, err
	}
	if len(keys) == 0 {
		return domain.ShareKey{}, fmt.Errorf("%w: share=%s", domain.ErrShareKeyUnavailable, shareID)
	}
	return keys[len(keys)-1], nil
}

// Refresh fetches the share's keys from the server and merges any rotations
// not seen before into the cache. Returns the full ordered key list.
func (s *Store) Refresh(ctx context.Context, account domain.Account, shareID domain.ShareID) ([]domain.ShareKey, error) {
	fetched, err := s.remote.GetShareKeys(ctx, account, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch share keys: %w", err)
	}
	s.log.Debug(ctx, "fetched share keys", "share", shareID, "count", len(fetched))

	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[domain.RotationID]struct{}, len(s.keys[shareID]))
	for _, k := range s.keys[shareID] {
		known[k.RotationID] = struct{}{}
	}
	// merge into a fresh slice: previously handed-out key slices share the
	// old backing array and must not be reordered underneath their readers
	merged := make([]domain.ShareKey, 0, len(s.keys[shareID])+len(fetched))
	merged = append(merged, s.keys[shareID]...)
	for _, k := range fetched {
		if _, ok := known[k.RotationID]; ok {
			continue
		}
		merged = append(merged, k)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Rotation < merged[j].Rotation })
	s.keys[shareID] = merged

	out := make([]domain.ShareKey, len(merged))
	copy(out, merged)
	return out, nil
}
