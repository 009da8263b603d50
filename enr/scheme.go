package enr

import (
	"crypto/ecdsa"

	discv5crypto "github.com/eth2030/discv5/crypto"
)

// Scheme abstracts the cryptographic binding between a NodeID, a public
// key, and a record's signature. Schemes are identified by the name stored
// under the record's "id" key.
type Scheme interface {
	Name() string
	NodeID(r *Record) ([32]byte, error)
	Sign(r *Record, priv interface{}) error
	Verify(r *Record) error
}

var registry = map[string]Scheme{}

// Register adds a Scheme to the global registry, keyed by its Name().
// Registering a scheme under a name that is already taken replaces it.
func Register(s Scheme) {
	registry[s.Name()] = s
}

// Lookup returns the Scheme registered under name, if any.
func Lookup(name string) (Scheme, bool) {
	s, ok := registry[name]
	return s, ok
}

func init() {
	Register(v4Scheme{})
}

// v4Scheme is the reference identity scheme: secp256k1 keys, Keccak-256
// node-ids, non-recoverable ECDSA signatures over the Keccak-256 digest of
// the record's unsigned RLP content.
type v4Scheme struct{}

func (v4Scheme) Name() string { return "v4" }

func (v4Scheme) NodeID(r *Record) ([32]byte, error) {
	pub := r.Get(KeySecp256k1)
	if len(pub) == 0 {
		return [32]byte{}, ErrMissingKey
	}
	ecPub, err := discv5crypto.DecompressPubkey(pub)
	if err != nil {
		return [32]byte{}, err
	}
	var id [32]byte
	copy(id[:], discv5crypto.Keccak256(ellipticUncompressed(ecPub)))
	return id, nil
}

func (v4Scheme) Sign(r *Record, priv interface{}) error {
	key, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return ErrInvalidSig
	}
	r.Set(KeyID, []byte("v4"))
	r.Set(KeySecp256k1, discv5crypto.CompressPubkey(&key.PublicKey))

	content, err := r.contentForSigning()
	if err != nil {
		return err
	}
	hash := discv5crypto.Keccak256(content)

	sig, err := discv5crypto.SignIdentity(hash, key)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

func (v4Scheme) Verify(r *Record) error {
	if len(r.Signature) != discv5crypto.SignatureSize {
		return ErrInvalidSig
	}
	pub := r.Get(KeySecp256k1)
	if len(pub) == 0 {
		return ErrMissingKey
	}
	ecPub, err := discv5crypto.DecompressPubkey(pub)
	if err != nil {
		return err
	}

	content, err := r.contentForSigning()
	if err != nil {
		return err
	}
	hash := discv5crypto.Keccak256(content)

	if !discv5crypto.VerifyIdentity(ecPub, hash, r.Signature) {
		return ErrInvalidSig
	}
	return nil
}

// ellipticUncompressed renders an ECDSA public key in the uncompressed
// 0x04 || X || Y form used for node-id hashing, matching the reference
// discv5 "v4" scheme (NodeID = Keccak256(uncompressed pubkey)).
func ellipticUncompressed(pub *ecdsa.PublicKey) []byte {
	byteLen := (pub.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 1+2*byteLen)
	out[0] = 4
	pub.X.FillBytes(out[1 : 1+byteLen])
	pub.Y.FillBytes(out[1+byteLen:])
	return out
}
