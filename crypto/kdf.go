package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeys holds the three symmetric keys a discv5 handshake derives:
// one per direction of traffic, plus a single-use key for the auth-response
// envelope inside the AuthHeader packet.
type SessionKeys struct {
	InitiatorKey [16]byte // encrypts messages sent by the initiator
	RecipientKey [16]byte // encrypts messages sent by the recipient
	AuthRespKey  [16]byte // encrypts the AuthHeader's auth-response section
}

// DeriveSessionKeys expands an ECDH secret into SessionKeys using
// HKDF-SHA256, per spec.md section 4.1. The info string binds in the
// handshake's initiator and recipient NodeIds (in that fixed role order,
// not "local/remote" order) plus the id-nonce, so that both participants —
// regardless of which one is computing the derivation — build an identical
// info string and therefore identical keys. This is what makes invariant 4
// in spec.md section 8 hold: the initiator's encryption key is always
// InitiatorKey and the recipient's decryption key is always InitiatorKey too.
func DeriveSessionKeys(secret, initiatorID, recipientID, idNonce []byte) SessionKeys {
	info := make([]byte, 0, len(initiatorID)+len(recipientID)+len(idNonce)+len("discovery v5 key agreement"))
	info = append(info, "discovery v5 key agreement"...)
	info = append(info, initiatorID...)
	info = append(info, recipientID...)
	info = append(info, idNonce...)

	r := hkdf.New(sha256.New, secret, nil, info)
	var out [48]byte
	io.ReadFull(r, out[:])

	var keys SessionKeys
	copy(keys.InitiatorKey[:], out[0:16])
	copy(keys.RecipientKey[:], out[16:32])
	copy(keys.AuthRespKey[:], out[32:48])
	return keys
}

// EncryptKey and DecryptKey select the two session keys a participant uses
// for outbound and inbound message traffic respectively, given its role.
func (k SessionKeys) EncryptKey(isInitiator bool) [16]byte {
	if isInitiator {
		return k.InitiatorKey
	}
	return k.RecipientKey
}

func (k SessionKeys) DecryptKey(isInitiator bool) [16]byte {
	if isInitiator {
		return k.RecipientKey
	}
	return k.InitiatorKey
}
