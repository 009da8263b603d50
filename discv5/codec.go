package discv5

import (
	"bytes"
	"crypto/sha256"
	"errors"

	"github.com/eth2030/discv5/rlp"
)

// MaxPacketSize is the largest encoded packet this codec will produce or
// accept, chosen to stay clear of IPv6 path-MTU fragmentation.
const MaxPacketSize = 1280

const (
	nonceSize   = 12
	idNonceSize = 32
	authScheme  = "gcm"
)

// ErrMalformedPacket covers every structural decode failure: wrong prefix
// length, bad RLP, an auth section of the wrong shape, or a field of the
// wrong size. Per spec.md section 7, the packet is simply dropped; no
// session state is touched.
var ErrMalformedPacket = errors.New("discv5: malformed packet")

// ErrOversizePacket is returned for a packet larger than MaxPacketSize.
var ErrOversizePacket = errors.New("discv5: packet exceeds maximum size")

// PacketKind discriminates the three wire variants.
type PacketKind int

const (
	KindAuthTag PacketKind = iota
	KindAuthHeader
	KindWhoAreYou
)

// AuthHeader carries a completed handshake's ephemeral key and signed
// id-nonce alongside the encrypted auth-response envelope.
type AuthHeader struct {
	Nonce          []byte // AES-GCM nonce for the accompanying ciphertext
	IDNonce        []byte // the id_nonce this header answers
	Scheme         string // always "gcm" for this codec
	EphemeralPub   []byte // 33-byte compressed ephemeral public key
	EncAuthResp    []byte // RLP([version, id_nonce_sig, enr_or_empty]) under auth_response_key
}

// Packet is the decoded form of any of the three wire variants. Exactly the
// fields relevant to Kind are populated.
type Packet struct {
	Kind PacketKind

	// Tag packets (AuthTag, AuthHeader).
	Tag        [32]byte
	SourceID   [32]byte
	AuthTag    []byte // 12-byte GCM nonce, AuthTagPacket only
	AuthHeader *AuthHeader
	Ciphertext []byte

	// WhoAreYou packets.
	Magic   [32]byte
	Token   []byte
	IDNonce []byte
	ENRSeq  uint64
}

// ComputeTag returns SHA-256(destID) XOR srcID, the 32-byte prefix that lets
// a recipient recover the sender's NodeId from an ordinary message packet.
func ComputeTag(destID, srcID [32]byte) [32]byte {
	h := sha256.Sum256(destID[:])
	var tag [32]byte
	for i := range tag {
		tag[i] = h[i] ^ srcID[i]
	}
	return tag
}

// RecoverSourceID inverts ComputeTag given the known destination id.
func RecoverSourceID(tag, destID [32]byte) [32]byte {
	h := sha256.Sum256(destID[:])
	var src [32]byte
	for i := range src {
		src[i] = tag[i] ^ h[i]
	}
	return src
}

// ComputeMagic returns SHA-256(destID || "WHOAREYOU"), the 32-byte prefix of
// a WhoAreYou challenge addressed to destID.
func ComputeMagic(destID [32]byte) [32]byte {
	h := sha256.New()
	h.Write(destID[:])
	h.Write([]byte("WHOAREYOU"))
	var magic [32]byte
	copy(magic[:], h.Sum(nil))
	return magic
}

// EncodeAuthTagPacket builds an ordinary message packet: tag ||
// RLP(auth_tag) || ciphertext.
func EncodeAuthTagPacket(destID, srcID [32]byte, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != nonceSize {
		return nil, ErrMalformedPacket
	}
	tag := ComputeTag(destID, srcID)
	nonceRLP, err := rlp.EncodeToBytes(nonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 32+len(nonceRLP)+len(ciphertext))
	out = append(out, tag[:]...)
	out = append(out, nonceRLP...)
	out = append(out, ciphertext...)
	return checkSize(out)
}

// EncodeAuthHeaderPacket builds a handshake-completion packet: tag ||
// RLP(auth_header) || ciphertext.
func EncodeAuthHeaderPacket(destID, srcID [32]byte, h *AuthHeader, ciphertext []byte) ([]byte, error) {
	if len(h.Nonce) != nonceSize || len(h.IDNonce) != idNonceSize {
		return nil, ErrMalformedPacket
	}
	tag := ComputeTag(destID, srcID)
	headerRLP, err := rlp.EncodeToBytes([]interface{}{
		h.Nonce, h.IDNonce, []byte(h.Scheme), h.EphemeralPub, h.EncAuthResp,
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 32+len(headerRLP)+len(ciphertext))
	out = append(out, tag[:]...)
	out = append(out, headerRLP...)
	out = append(out, ciphertext...)
	return checkSize(out)
}

// EncodeWhoAreYou builds a handshake challenge: magic || RLP([token,
// id_nonce, enr_seq]).
func EncodeWhoAreYou(destID [32]byte, token, idNonce []byte, enrSeq uint64) ([]byte, error) {
	if len(token) != nonceSize || len(idNonce) != idNonceSize {
		return nil, ErrMalformedPacket
	}
	magic := ComputeMagic(destID)
	body, err := rlp.EncodeToBytes([]interface{}{token, idNonce, enrSeq})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 32+len(body))
	out = append(out, magic[:]...)
	out = append(out, body...)
	return checkSize(out)
}

// AuthTagAAD returns the associated data authenticated alongside an
// AuthTagPacket's ciphertext: tag || RLP(auth_tag), per spec.md section 4.2.
func AuthTagAAD(tag [32]byte, nonce []byte) ([]byte, error) {
	nonceRLP, err := rlp.EncodeToBytes(nonce)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, tag[:]...), nonceRLP...), nil
}

// AuthHeaderAAD returns the associated data authenticated alongside an
// AuthHeaderPacket's ciphertext: tag || RLP(auth_header).
func AuthHeaderAAD(tag [32]byte, h *AuthHeader) ([]byte, error) {
	headerRLP, err := rlp.EncodeToBytes([]interface{}{
		h.Nonce, h.IDNonce, []byte(h.Scheme), h.EphemeralPub, h.EncAuthResp,
	})
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, tag[:]...), headerRLP...), nil
}

func checkSize(b []byte) ([]byte, error) {
	if len(b) > MaxPacketSize {
		return nil, ErrOversizePacket
	}
	return b, nil
}

// DecodePacket parses any of the three wire variants. localID is the
// recipient's own NodeId, needed to recover the sender's id from the tag
// (for AuthTag/AuthHeader packets) and to validate the magic (for
// WhoAreYou). Any structural inconsistency is reported as ErrMalformedPacket
// so the caller can drop the datagram uniformly, per spec.md section 7.
func DecodePacket(data []byte, localID [32]byte) (*Packet, error) {
	if len(data) > MaxPacketSize {
		return nil, ErrOversizePacket
	}
	if len(data) < 32 {
		return nil, ErrMalformedPacket
	}
	var prefix [32]byte
	copy(prefix[:], data[:32])
	rest := data[32:]

	s := rlp.NewStreamFromBytes(rest)
	kind, _, err := s.Kind()
	if err != nil {
		return nil, ErrMalformedPacket
	}

	switch kind {
	case rlp.String, rlp.Byte:
		nonce, err := s.Bytes()
		if err != nil || len(nonce) != nonceSize {
			return nil, ErrMalformedPacket
		}
		p := &Packet{
			Kind:       KindAuthTag,
			Tag:        prefix,
			SourceID:   RecoverSourceID(prefix, localID),
			AuthTag:    nonce,
			Ciphertext: s.Remaining(),
		}
		return p, nil

	case rlp.List:
		fields, err := readByteList(s)
		if err != nil {
			return nil, ErrMalformedPacket
		}
		switch len(fields) {
		case 3:
			if len(s.Remaining()) != 0 {
				return nil, ErrMalformedPacket
			}
			magic := ComputeMagic(localID)
			if !bytes.Equal(prefix[:], magic[:]) {
				return nil, ErrMalformedPacket
			}
			token, idNonce, seqBytes := fields[0], fields[1], fields[2]
			if len(token) != nonceSize || len(idNonce) != idNonceSize {
				return nil, ErrMalformedPacket
			}
			seq, err := decodeUintBytes(seqBytes)
			if err != nil {
				return nil, ErrMalformedPacket
			}
			return &Packet{
				Kind:    KindWhoAreYou,
				Magic:   prefix,
				Token:   token,
				IDNonce: idNonce,
				ENRSeq:  seq,
			}, nil
		case 5:
			nonce, idNonce, scheme, ephemeralPub, encResp := fields[0], fields[1], fields[2], fields[3], fields[4]
			if len(nonce) != nonceSize || len(idNonce) != idNonceSize || string(scheme) != authScheme {
				return nil, ErrMalformedPacket
			}
			p := &Packet{
				Kind:     KindAuthHeader,
				Tag:      prefix,
				SourceID: RecoverSourceID(prefix, localID),
				AuthHeader: &AuthHeader{
					Nonce:        nonce,
					IDNonce:      idNonce,
					Scheme:       string(scheme),
					EphemeralPub: ephemeralPub,
					EncAuthResp:  encResp,
				},
				Ciphertext: s.Remaining(),
			}
			return p, nil
		default:
			return nil, ErrMalformedPacket
		}

	default:
		return nil, ErrMalformedPacket
	}
}

// readByteList enters an RLP list and reads every element as a raw byte
// string. Both the WhoAreYou auth section and the AuthHeader auth section
// are, at the wire level, lists of plain RLP strings (RLP has no distinct
// integer type; enr_seq is itself a minimal big-endian byte string), so this
// single helper serves both shapes.
func readByteList(s *rlp.Stream) ([][]byte, error) {
	if _, err := s.List(); err != nil {
		return nil, err
	}
	var items [][]byte
	for {
		b, err := s.Bytes()
		if err != nil {
			break
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		items = append(items, cp)
	}
	if err := s.ListEnd(); err != nil {
		return nil, err
	}
	return items, nil
}

func decodeUintBytes(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, ErrMalformedPacket
	}
	var v uint64
	for _, x := range b {
		v = (v << 8) | uint64(x)
	}
	return v, nil
}
