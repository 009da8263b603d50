package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// NonceSize is the length of an AES-128-GCM nonce, doubling as the AuthTag
// on the discv5 wire (spec.md section 3, "AuthTagPacket").
const NonceSize = 12

var (
	ErrDecrypt     = errors.New("crypto: AEAD decryption failed")
	ErrNonceLength = errors.New("crypto: nonce must be 12 bytes")
)

// EncryptGCM seals plaintext with AES-128-GCM under key, authenticating
// associatedData alongside it. key must be 16 bytes.
func EncryptGCM(key [16]byte, nonce, associatedData, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrNonceLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, associatedData), nil
}

// DecryptGCM opens a ciphertext sealed by EncryptGCM. Any authentication
// failure is reported uniformly as ErrDecrypt, matching spec.md's
// DecryptionError handling — callers must not distinguish "bad key" from
// "bad tag" from "truncated ciphertext".
func DecryptGCM(key [16]byte, nonce, associatedData, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrNonceLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	pt, err := gcm.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func newGCM(key [16]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
