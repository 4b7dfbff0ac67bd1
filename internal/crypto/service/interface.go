// Package service implements payload sealing: AEAD ciphers (AES-256-GCM,
// ChaCha20-Poly1305) keyed by a data key that is unwrapped through a KMS keeper.
package service

import (
	"context"

	cryptoDomain "github.com/fieldops/resilience/internal/crypto/domain"
)

// AEAD defines the interface for Authenticated Encryption with Associated Data.
type AEAD interface {
	// Encrypt encrypts plaintext with optional AAD and returns ciphertext and nonce.
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)

	// Decrypt decrypts ciphertext using the provided nonce and AAD.
	Decrypt(ciphertext, nonce, aad []byte) ([]byte, error)
}

// AEADManager defines the interface for creating AEAD cipher instances.
type AEADManager interface {
	CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error)
}

// Sealer protects opaque payloads at rest. aad binds the sealed bytes to their owner
// (e.g. a job id) so they cannot be moved to another row.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// KMSService opens keepers by URI.
type KMSService interface {
	// OpenKeeper opens a keeper for the configured KMS provider.
	OpenKeeper(ctx context.Context, keyURI string) (cryptoDomain.KMSKeeper, error)
}
