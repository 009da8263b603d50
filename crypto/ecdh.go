package crypto

import (
	"crypto/ecdsa"
	"errors"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrECDHFailed is returned when the shared point is the point at infinity,
// which cannot happen for valid keys but is checked anyway since a silent
// zero secret would be a catastrophic session-key weakness.
var ErrECDHFailed = errors.New("crypto: ECDH produced no shared secret")

// ECDH performs elliptic-curve Diffie-Hellman between a local private key
// and a remote compressed public key, returning the big-endian X coordinate
// of the shared point. This is the raw secret handed to the session-key KDF;
// it is never used directly as a key.
func ECDH(priv *ecdsa.PrivateKey, remotePub []byte) ([]byte, error) {
	pub, err := DecompressPubkey(remotePub)
	if err != nil {
		return nil, err
	}
	curve := gethcrypto.S256()
	x, y := curve.ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	if x.Sign() == 0 && y.Sign() == 0 {
		return nil, ErrECDHFailed
	}
	secret := make([]byte, 32)
	xb := x.Bytes()
	copy(secret[32-len(xb):], xb)
	return secret, nil
}
