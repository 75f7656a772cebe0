// Package crypto implements the item payload codec: encrypting typed item
// contents for creation, opening server revisions, and re-encrypting
// ciphertext for migration between shares. All decryption happens inside a
// short-lived Session so plaintext key material never outlives its scope.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	keySize   = 32
	nonceSize = 12
)

var errCiphertextTooShort = errors.New("ciphertext too short")

// seal encrypts plaintext with AES-256-GCM under key and returns
// nonce||ciphertext.
func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal.
func open(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize {
		return nil, errCiphertextTooShort
	}
	return aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
}

// newKey returns a fresh random 256-bit key.
func newKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// zeroize overwrites sensitive bytes in place.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
