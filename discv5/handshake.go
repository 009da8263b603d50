package discv5

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/subtle"
	"errors"

	discv5crypto "github.com/eth2030/discv5/crypto"
	"github.com/eth2030/discv5/enr"
	"github.com/eth2030/discv5/rlp"
)

// ErrHandshakeFailure covers every validation failure during a handshake:
// a bad ephemeral key, a bad id-nonce signature, an ENR that doesn't match
// its claimed owner, or a stale ENR sequence number. Per spec.md section 7,
// any of these tears down the Packer and the peer may retry later.
var ErrHandshakeFailure = errors.New("discv5: handshake failure")

const authResponseVersion = 5

var zeroNonce = make([]byte, discv5crypto.NonceSize)

// authResponse is the plaintext structure carried inside an AuthHeader's
// encrypted auth-response envelope.
type authResponse struct {
	Version     uint64
	IDNonceSig  []byte
	ENR         []byte // empty if the responder's ENR is not included
}

func encodeAuthResponse(sig, enrBytes []byte) ([]byte, error) {
	if enrBytes == nil {
		enrBytes = []byte{}
	}
	return rlp.EncodeToBytes([]interface{}{uint64(authResponseVersion), sig, enrBytes})
}

func decodeAuthResponse(data []byte) (*authResponse, error) {
	var r authResponse
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return nil, err
	}
	if r.Version != authResponseVersion {
		return nil, ErrHandshakeFailure
	}
	return &r, nil
}

// InitiatorHandshake drives the initiator side of a handshake: it holds the
// local static key, the remote's known ENR sequence number, and the random
// auth-tag sent in the probing AuthTagPacket so it can recognize the
// matching WhoAreYou.
type InitiatorHandshake struct {
	scheme         IdentityScheme
	localPriv      *ecdsa.PrivateKey
	localID        [32]byte
	remoteID       [32]byte
	localENR       *enr.Record
	remoteENRSeq   uint64
	pendingAuthTag []byte
}

// NewInitiatorHandshake starts a new initiator-side handshake state.
func NewInitiatorHandshake(scheme IdentityScheme, localPriv *ecdsa.PrivateKey, localID, remoteID [32]byte, localENR *enr.Record, remoteENRSeq uint64) *InitiatorHandshake {
	return &InitiatorHandshake{
		scheme:       scheme,
		localPriv:    localPriv,
		localID:      localID,
		remoteID:     remoteID,
		localENR:     localENR,
		remoteENRSeq: remoteENRSeq,
	}
}

// BuildProbe produces the random AuthTagPacket that kicks off the
// handshake. Its ciphertext cannot be decrypted by the recipient; its only
// purpose is to elicit a WhoAreYou.
func (h *InitiatorHandshake) BuildProbe() ([]byte, error) {
	h.pendingAuthTag = make([]byte, discv5crypto.NonceSize)
	if _, err := rand.Read(h.pendingAuthTag); err != nil {
		return nil, err
	}
	randomCiphertext := make([]byte, 16)
	if _, err := rand.Read(randomCiphertext); err != nil {
		return nil, err
	}
	return EncodeAuthTagPacket(h.remoteID, h.localID, h.pendingAuthTag, randomCiphertext)
}

// MatchesWhoAreYou reports whether p's token is the auth_tag from this
// handshake's probe packet, compared in constant time as spec.md requires.
func (h *InitiatorHandshake) MatchesWhoAreYou(p *Packet) bool {
	if p.Kind != KindWhoAreYou || h.pendingAuthTag == nil {
		return false
	}
	return subtle.ConstantTimeCompare(h.pendingAuthTag, p.Token) == 1
}

// Complete finishes the handshake once a matching WhoAreYou has arrived,
// producing the AuthHeaderPacket that carries initialMessage and the
// session keys both sides will now share.
func (h *InitiatorHandshake) Complete(p *Packet, remoteStaticPub []byte, initialMessage []byte) ([]byte, discv5crypto.SessionKeys, error) {
	ephemeralPriv, ephemeralPub, err := h.scheme.CreateHandshakeKeyPair()
	if err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}
	keys, err := h.scheme.ComputeSessionKeys(ephemeralPriv, remoteStaticPub, h.localID, h.remoteID, p.IDNonce, true)
	if err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}

	sig, err := h.scheme.SignIDNonce(p.IDNonce, h.localPriv)
	if err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}

	var enrBytes []byte
	if h.localENR != nil && p.ENRSeq < h.localENR.Seq {
		enrBytes, err = enr.EncodeENR(h.localENR)
		if err != nil {
			return nil, discv5crypto.SessionKeys{}, err
		}
	}

	respPlain, err := encodeAuthResponse(sig, enrBytes)
	if err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}
	encResp, err := discv5crypto.EncryptGCM(keys.AuthRespKey, zeroNonce, nil, respPlain)
	if err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}

	msgNonce := make([]byte, discv5crypto.NonceSize)
	if _, err := rand.Read(msgNonce); err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}
	header := &AuthHeader{
		Nonce:        msgNonce,
		IDNonce:      p.IDNonce,
		Scheme:       authScheme,
		EphemeralPub: ephemeralPub,
		EncAuthResp:  encResp,
	}

	tag := ComputeTag(h.remoteID, h.localID)
	aad, err := AuthHeaderAAD(tag, header)
	if err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}
	ciphertext, err := discv5crypto.EncryptGCM(keys.EncryptKey(true), msgNonce, aad, initialMessage)
	if err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}

	packet, err := EncodeAuthHeaderPacket(h.remoteID, h.localID, header, ciphertext)
	if err != nil {
		return nil, discv5crypto.SessionKeys{}, err
	}
	return packet, keys, nil
}

// RecipientHandshake drives the recipient side: it issued a WhoAreYou
// challenge with a fresh id_nonce and is waiting for the matching
// AuthHeaderPacket.
type RecipientHandshake struct {
	scheme    IdentityScheme
	localPriv *ecdsa.PrivateKey
	localID   [32]byte
	remoteID  [32]byte
	token     []byte
	idNonce   []byte
}

// NewRecipientHandshake records the WhoAreYou challenge this handshake is
// waiting on a response to.
func NewRecipientHandshake(scheme IdentityScheme, localPriv *ecdsa.PrivateKey, localID, remoteID [32]byte, token, idNonce []byte) *RecipientHandshake {
	return &RecipientHandshake{scheme: scheme, localPriv: localPriv, localID: localID, remoteID: remoteID, token: token, idNonce: idNonce}
}

// BuildChallenge produces the WhoAreYou packet for this handshake. Its
// enr_seq is knownRemoteENRSeq, the sequence number of the remote's ENR this
// side already holds (0 if none), so the initiator includes its ENR only
// when it has a newer one.
func (h *RecipientHandshake) BuildChallenge(knownRemoteENRSeq uint64) ([]byte, error) {
	return EncodeWhoAreYou(h.remoteID, h.token, h.idNonce, knownRemoteENRSeq)
}

// Complete validates and finishes the handshake once the matching
// AuthHeaderPacket has arrived, returning the session keys, the decrypted
// initial message, and the remote's ENR if one was included and is valid.
// knownRemoteStaticPub may be nil if the remote's ENR is not yet known; in
// that case the embedded ENR (if any) must supply the static public key, or
// the handshake fails.
func (h *RecipientHandshake) Complete(p *Packet, knownRemoteStaticPub []byte, knownRemoteENRSeq uint64) (discv5crypto.SessionKeys, []byte, *enr.Record, error) {
	if p.Kind != KindAuthHeader || p.AuthHeader == nil {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}
	header := p.AuthHeader

	if err := h.scheme.ValidateHandshakePublicKey(header.EphemeralPub); err != nil {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}

	keys, err := h.scheme.ComputeSessionKeys(h.localPriv, header.EphemeralPub, h.localID, h.remoteID, header.IDNonce, false)
	if err != nil {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}

	respPlain, err := discv5crypto.DecryptGCM(keys.AuthRespKey, zeroNonce, nil, header.EncAuthResp)
	if err != nil {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}
	resp, err := decodeAuthResponse(respPlain)
	if err != nil {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}

	remoteStaticPub := knownRemoteStaticPub
	var remoteENR *enr.Record
	if len(resp.ENR) > 0 {
		remoteENR, err = enr.DecodeENR(resp.ENR)
		if err != nil {
			return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
		}
		if err := enr.Verify(remoteENR); err != nil {
			return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
		}
		nodeID, err := remoteENR.NodeID()
		if err != nil || nodeID != h.remoteID {
			return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
		}
		if remoteENR.Seq <= knownRemoteENRSeq {
			return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
		}
		remoteStaticPub = remoteENR.Get(enr.KeySecp256k1)
	}
	if len(remoteStaticPub) == 0 {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}

	remotePub, err := discv5crypto.DecompressPubkey(remoteStaticPub)
	if err != nil {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}
	if !h.scheme.VerifyIDNonce(remotePub, h.idNonce, resp.IDNonceSig) {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}

	aad, err := AuthHeaderAAD(p.Tag, header)
	if err != nil {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}
	plaintext, err := discv5crypto.DecryptGCM(keys.DecryptKey(false), header.Nonce, aad, p.Ciphertext)
	if err != nil {
		return discv5crypto.SessionKeys{}, nil, nil, ErrHandshakeFailure
	}

	return keys, plaintext, remoteENR, nil
}
