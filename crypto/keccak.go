// Package crypto provides the cryptographic primitives discv5 is built on:
// secp256k1 key generation, signing and recovery, Keccak-256 hashing,
// ECDH key agreement, HKDF session-key derivation, and AES-128-GCM framing.
// It wraps github.com/ethereum/go-ethereum/crypto rather than reimplementing
// curve arithmetic, and golang.org/x/crypto for the pieces go-ethereum does
// not expose (HKDF).
package crypto

import (
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Keccak256 returns the Keccak-256 hash of the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	return gethcrypto.Keccak256(data...)
}
