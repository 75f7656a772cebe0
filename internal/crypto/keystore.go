package crypto

import (
	"context"

	"golang.org/x/crypto/argon2"
)

// KeyStore is the opaque device key storage boundary (secure enclave or
// equivalent). The engine uses it only to wrap and unwrap share vault keys;
// how the device key is guarded is not this engine's concern.
type KeyStore interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, blob []byte) ([]byte, error)
}

// LocalKeyStore is a software KeyStore backed by a key derived from a
// password with argon2id. Intended for hosts without hardware key storage
// and for tests.
type LocalKeyStore struct {
	key []byte
}

// NewLocalKeyStore derives the device key from password and salt.
func NewLocalKeyStore(password, salt []byte) *LocalKeyStore {
	return &LocalKeyStore{key: argon2.IDKey(password, salt, 1, 64*1024, 4, keySize)}
}

func (s *LocalKeyStore) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return seal(s.key, plaintext)
}

func (s *LocalKeyStore) Decrypt(_ context.Context, blob []byte) ([]byte, error) {
	return open(s.key, blob)
}

// Close wipes the derived key.
func (s *LocalKeyStore) Close() {
	zeroize(s.key)
}
