package domain

import (
	"bytes"
)

// envelopeMagic prefixes every sealed payload so unsealed data is never fed to a cipher.
var envelopeMagic = []byte("rsl1")

var algorithmIDs = map[Algorithm]byte{AESGCM: 1, ChaCha20: 2}

// Envelope is a sealed payload: magic | algorithm id | nonce length | nonce | ciphertext.
type Envelope struct {
	Algorithm  Algorithm
	Nonce      []byte
	Ciphertext []byte
}

// Marshal encodes the envelope into its binary form.
func (e Envelope) Marshal() ([]byte, error) {
	id, ok := algorithmIDs[e.Algorithm]
	if !ok {
		return nil, ErrUnsupportedAlgorithm
	}
	out := make([]byte, 0, len(envelopeMagic)+2+len(e.Nonce)+len(e.Ciphertext))
	out = append(out, envelopeMagic...)
	out = append(out, id, byte(len(e.Nonce)))
	out = append(out, e.Nonce...)
	out = append(out, e.Ciphertext...)
	return out, nil
}

// IsSealed reports whether data carries the envelope prefix.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, envelopeMagic)
}

// UnmarshalEnvelope decodes data produced by Envelope.Marshal.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	if !IsSealed(data) || len(data) < len(envelopeMagic)+2 {
		return Envelope{}, ErrDecryptionFailed
	}
	rest := data[len(envelopeMagic):]

	var alg Algorithm
	for a, id := range algorithmIDs {
		if id == rest[0] {
			alg = a
		}
	}
	if alg == "" {
		return Envelope{}, ErrUnsupportedAlgorithm
	}

	nonceLen := int(rest[1])
	rest = rest[2:]
	if len(rest) < nonceLen {
		return Envelope{}, ErrDecryptionFailed
	}

	return Envelope{
		Algorithm:  alg,
		Nonce:      rest[:nonceLen],
		Ciphertext: rest[nonceLen:],
	}, nil
}
