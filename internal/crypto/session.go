package crypto

import (
	"context"
	"fmt"
	"sync"

	"github.com/nguyenkims/pass/internal/domain"
)

// Session is a scoped decryption context. It unwraps share vault keys
// through the device KeyStore on first use, caches them for its lifetime,
// and wipes them on Close. Sessions are cheap; open one per operation.
type Session struct {
	ks KeyStore

	mu     sync.Mutex
	keys   map[domain.RotationID][]byte
	closed bool
}

// WithSession runs fn with a fresh session and guarantees the session is
// closed (and its key material wiped) on every exit path, panics included.
func (c *Codec) WithSession(ctx context.Context, fn func(s *Session) error) error {
	s := &Session{ks: c.ks, keys: make(map[domain.RotationID][]byte)}
	defer s.Close()
	return fn(s)
}

// vaultKey returns the unwrapped vault key for the given share key rotation.
func (s *Session) vaultKey(ctx context.Context, key domain.ShareKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session already closed")
	}
	if k, ok := s.keys[key.RotationID]; ok {
		return k, nil
	}
	k, err := s.ks.Decrypt(ctx, key.WrappedKey)
	if err != nil {
		return nil, &domain.CryptoError{Op: "unwrap share key", Err: err}
	}
	s.keys[key.RotationID] = k
	return k, nil
}

// Close wipes every cached vault key. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for id, k := range s.keys {
		zeroize(k)
		delete(s.keys, id)
	}
	s.closed = true
}
