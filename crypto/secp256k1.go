package crypto

import (
	"crypto/ecdsa"
	"errors"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PubkeySizeCompressed and SignatureSize are the encoded lengths used on the
// discv5 wire: public keys always travel in 33-byte compressed form (a
// private scalar is never transmitted), and signatures are 64 bytes.
const (
	PubkeySizeCompressed = 33
	SignatureSize        = 64 // R || S, no recovery byte — discv5 never recovers pubkeys from sigs
)

var (
	ErrInvalidPubkey   = errors.New("crypto: invalid secp256k1 public key")
	ErrInvalidSigLen   = errors.New("crypto: signature must be 64 bytes")
	ErrInvalidHashLen  = errors.New("crypto: hash must be 32 bytes")
)

// GenerateKey creates a fresh secp256k1 keypair, used for both long-term
// node identities and per-handshake ephemeral keys.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return gethcrypto.GenerateKey()
}

// CompressPubkey encodes pub in 33-byte compressed form.
func CompressPubkey(pub *ecdsa.PublicKey) []byte {
	return gethcrypto.CompressPubkey(pub)
}

// DecompressPubkey parses a 33-byte compressed secp256k1 public key,
// validating that it lies on the curve.
func DecompressPubkey(b []byte) (*ecdsa.PublicKey, error) {
	if len(b) != PubkeySizeCompressed {
		return nil, ErrInvalidPubkey
	}
	pub, err := gethcrypto.DecompressPubkey(b)
	if err != nil {
		return nil, ErrInvalidPubkey
	}
	return pub, nil
}

// ValidatePublicKey checks that b decodes to a valid point on the curve,
// without returning the parsed key. Used by the handshake engine to reject
// malformed ephemeral keys before doing any ECDH with them.
func ValidatePublicKey(b []byte) error {
	_, err := DecompressPubkey(b)
	return err
}

// SignIdentity produces a 64-byte non-recoverable ECDSA signature over hash
// using priv. ENR signatures and id-nonce signatures both use this form —
// discv5 never needs to recover a public key from a signature, since the
// signer's identity is always known from context (the ENR, or the expected
// remote NodeId).
func SignIdentity(hash []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	if len(hash) != 32 {
		return nil, ErrInvalidHashLen
	}
	sig, err := gethcrypto.Sign(hash, priv)
	if err != nil {
		return nil, err
	}
	return sig[:64], nil
}

// VerifyIdentity checks a 64-byte signature produced by SignIdentity against
// the given parsed public key and 32-byte hash.
func VerifyIdentity(pub *ecdsa.PublicKey, hash, sig []byte) bool {
	if len(sig) != SignatureSize || len(hash) != 32 {
		return false
	}
	return gethcrypto.VerifySignature(gethcrypto.FromECDSAPub(pub), hash, sig)
}
