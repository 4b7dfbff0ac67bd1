package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	cryptoDomain "github.com/fieldops/resilience/internal/crypto/domain"
	apperrors "github.com/fieldops/resilience/internal/errors"
)

// PayloadSealer encrypts payloads with a single data key held in memory.
type PayloadSealer struct {
	alg    cryptoDomain.Algorithm
	cipher AEAD
}

// NewPayloadSealer builds a sealer from raw key material. The key slice is not retained.
func NewPayloadSealer(manager AEADManager, key []byte, alg cryptoDomain.Algorithm) (*PayloadSealer, error) {
	cipher, err := manager.CreateCipher(key, alg)
	if err != nil {
		return nil, err
	}
	return &PayloadSealer{alg: alg, cipher: cipher}, nil
}

// OpenPayloadSealer unwraps the base64 encoded data key with the keeper at keyURI and
// builds a sealer around it. The plaintext key is zeroed after the cipher is built.
func OpenPayloadSealer(
	ctx context.Context,
	kms KMSService,
	manager AEADManager,
	keyURI, wrappedKey string,
	alg cryptoDomain.Algorithm,
) (*PayloadSealer, error) {
	if keyURI == "" || wrappedKey == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "payload key uri and wrapped key are required")
	}

	wrapped, err := base64.StdEncoding.DecodeString(wrappedKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "wrapped payload key is not valid base64")
	}

	keeper, err := kms.OpenKeeper(ctx, keyURI)
	if err != nil {
		return nil, err
	}
	defer func() { _ = keeper.Close() }()

	key, err := keeper.Decrypt(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap payload key: %w", err)
	}
	defer cryptoDomain.Zero(key)

	return NewPayloadSealer(manager, key, alg)
}

// GenerateWrappedKey creates a random data key and returns it wrapped by the keeper at
// keyURI, base64 encoded for PAYLOAD_WRAPPED_KEY.
func GenerateWrappedKey(ctx context.Context, kms KMSService, keyURI string) (string, error) {
	key := make([]byte, cryptoDomain.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate payload key: %w", err)
	}
	defer cryptoDomain.Zero(key)

	keeper, err := kms.OpenKeeper(ctx, keyURI)
	if err != nil {
		return "", err
	}
	defer func() { _ = keeper.Close() }()

	wrapped, err := keeper.Encrypt(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to wrap payload key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// Seal encrypts plaintext and returns a self-describing envelope.
func (s *PayloadSealer) Seal(plaintext, aad []byte) ([]byte, error) {
	ciphertext, nonce, err := s.cipher.Encrypt(plaintext, aad)
	if err != nil {
		return nil, err
	}
	return cryptoDomain.Envelope{Algorithm: s.alg, Nonce: nonce, Ciphertext: ciphertext}.Marshal()
}

// Open decrypts an envelope produced by Seal. Unsealed input is rejected.
func (s *PayloadSealer) Open(sealed, aad []byte) ([]byte, error) {
	env, err := cryptoDomain.UnmarshalEnvelope(sealed)
	if err != nil {
		return nil, err
	}
	if env.Algorithm != s.alg {
		return nil, cryptoDomain.ErrDecryptionFailed
	}
	plaintext, err := s.cipher.Decrypt(env.Ciphertext, env.Nonce, aad)
	if err != nil {
		return nil, apperrors.Join(cryptoDomain.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// NoopSealer stores payloads as is. Used when payload encryption is disabled.
type NoopSealer struct{}

func (NoopSealer) Seal(plaintext, aad []byte) ([]byte, error) { return plaintext, nil }

func (NoopSealer) Open(sealed, aad []byte) ([]byte, error) { return sealed, nil }
