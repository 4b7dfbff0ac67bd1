// Package domain defines payload sealing algorithms, the sealed envelope format and
// the KMS keeper abstraction used to unwrap the payload key.
package domain

import "context"

// Algorithm represents the cryptographic algorithm used for encryption.
//
// Both algorithms are AEAD ciphers with 256-bit keys and 12-byte nonces. Use AESGCM on
// hardware with AES-NI and ChaCha20 elsewhere.
type Algorithm string

const (
	// AESGCM represents the AES-256-GCM authenticated encryption algorithm.
	AESGCM Algorithm = "aes-gcm"

	// ChaCha20 represents the ChaCha20-Poly1305 authenticated encryption algorithm.
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// KeySize is the required key length in bytes for every supported algorithm.
const KeySize = 32

// Zero overwrites key material once it is no longer needed. Safe on nil.
func Zero(key []byte) {
	clear(key)
}

// KMSKeeper wraps and unwraps key material. *secrets.Keeper satisfies it.
type KMSKeeper interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Close() error
}
