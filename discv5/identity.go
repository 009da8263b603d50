package discv5

import (
	"crypto/ecdsa"
	"errors"

	discv5crypto "github.com/eth2030/discv5/crypto"
)

// ErrUnknownIdentityScheme is returned when a name has no registered scheme.
var ErrUnknownIdentityScheme = errors.New("discv5: unknown identity scheme")

// IdentityScheme abstracts the cryptographic operations the handshake
// engine needs beyond ENR signing: ephemeral keypair generation, public-key
// validation, id-nonce signing, and session-key derivation. Per spec.md
// section 9 ("no global singletons"), the registry lives on the Service, not
// in a package-level map, so independent Services (as in tests) never share
// state through it.
type IdentityScheme interface {
	Name() string
	CreateHandshakeKeyPair() (priv *ecdsa.PrivateKey, compressedPub []byte, err error)
	ValidateHandshakePublicKey(compressedPub []byte) error
	SignIDNonce(nonce []byte, priv *ecdsa.PrivateKey) ([]byte, error)
	VerifyIDNonce(pub *ecdsa.PublicKey, nonce, sig []byte) bool
	ComputeSessionKeys(localPriv *ecdsa.PrivateKey, remotePub []byte, localID, remoteID [32]byte, idNonce []byte, isInitiator bool) (discv5crypto.SessionKeys, error)
}

// schemeRegistry maps scheme names to implementations for a single Service
// instance.
type schemeRegistry map[string]IdentityScheme

func newSchemeRegistry() schemeRegistry {
	r := make(schemeRegistry)
	r.register(v4IdentityScheme{})
	return r
}

func (r schemeRegistry) register(s IdentityScheme) { r[s.Name()] = s }

func (r schemeRegistry) lookup(name string) (IdentityScheme, error) {
	s, ok := r[name]
	if !ok {
		return nil, ErrUnknownIdentityScheme
	}
	return s, nil
}

// v4IdentityScheme is the reference scheme: secp256k1 keys, ECDH session
// secrets, HKDF-SHA256 key expansion.
type v4IdentityScheme struct{}

func (v4IdentityScheme) Name() string { return "v4" }

func (v4IdentityScheme) CreateHandshakeKeyPair() (*ecdsa.PrivateKey, []byte, error) {
	priv, err := discv5crypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	return priv, discv5crypto.CompressPubkey(&priv.PublicKey), nil
}

func (v4IdentityScheme) ValidateHandshakePublicKey(compressedPub []byte) error {
	return discv5crypto.ValidatePublicKey(compressedPub)
}

func (v4IdentityScheme) SignIDNonce(nonce []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	return discv5crypto.SignIdentity(nonce, priv)
}

func (v4IdentityScheme) VerifyIDNonce(pub *ecdsa.PublicKey, nonce, sig []byte) bool {
	return discv5crypto.VerifyIdentity(pub, nonce, sig)
}

func (v4IdentityScheme) ComputeSessionKeys(localPriv *ecdsa.PrivateKey, remotePub []byte, localID, remoteID [32]byte, idNonce []byte, isInitiator bool) (discv5crypto.SessionKeys, error) {
	secret, err := discv5crypto.ECDH(localPriv, remotePub)
	if err != nil {
		return discv5crypto.SessionKeys{}, err
	}
	initiatorID, recipientID := remoteID, localID
	if isInitiator {
		initiatorID, recipientID = localID, remoteID
	}
	return discv5crypto.DeriveSessionKeys(secret, initiatorID[:], recipientID[:], idNonce), nil
}
