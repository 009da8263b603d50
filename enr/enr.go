// Package enr implements Ethereum Node Records as defined in EIP-778.
// A node record holds arbitrary key/value pairs describing a node on the
// peer-to-peer network, signed under a named identity scheme. The "v4"
// scheme (secp256k1-keccak) is registered by default; other schemes can be
// registered by callers that need to interoperate with them.
package enr

import (
	"errors"

	"github.com/eth2030/discv5/rlp"
)

// SizeLimit is the maximum encoded size of a node record (EIP-778).
const SizeLimit = 300

// Standard ENR key names.
const (
	KeyID        = "id"
	KeySecp256k1 = "secp256k1"
	KeyIP        = "ip"
	KeyTCP       = "tcp"
	KeyUDP       = "udp"
	KeyIP6       = "ip6"
	KeyTCP6      = "tcp6"
	KeyUDP6      = "udp6"
)

var (
	ErrInvalidSig    = errors.New("enr: invalid signature")
	ErrTooBig        = errors.New("enr: record exceeds size limit")
	ErrNotSigned     = errors.New("enr: record not signed")
	ErrNotSorted     = errors.New("enr: pairs not sorted by key")
	ErrDuplicateKey  = errors.New("enr: duplicate key")
	ErrUnknownScheme = errors.New("enr: unregistered identity scheme")
	ErrMissingKey    = errors.New("enr: missing identity key")
)

// Pair is a key/value entry in an ENR record.
type Pair struct {
	Key   string
	Value []byte
}

// Record is an Ethereum Node Record (EIP-778).
type Record struct {
	Seq       uint64
	Pairs     []Pair // sorted by key
	Signature []byte
}

// pairIndex locates key's slot in the sorted Pairs slice: the index of an
// existing entry, or the index a new entry belonging at key would need to
// be inserted at, plus whether it was found. A record carries at most a
// handful of pairs (the whole record must fit in SizeLimit bytes), so a
// linear scan is simpler than a binary search and costs nothing measurable.
func (r *Record) pairIndex(key string) (idx int, found bool) {
	for i, p := range r.Pairs {
		if p.Key == key {
			return i, true
		}
		if p.Key > key {
			return i, false
		}
	}
	return len(r.Pairs), false
}

// Set adds or updates a key/value pair, keeping Pairs sorted by key per
// spec.md section 3. Setting a value invalidates the signature, since the
// signature covers the full pair list.
func (r *Record) Set(key string, value []byte) {
	r.Signature = nil
	v := make([]byte, len(value))
	copy(v, value)

	i, found := r.pairIndex(key)
	if found {
		r.Pairs[i].Value = v
		return
	}
	r.Pairs = append(r.Pairs, Pair{})
	copy(r.Pairs[i+1:], r.Pairs[i:])
	r.Pairs[i] = Pair{Key: key, Value: v}
}

// Get returns the value for key, or nil if not present.
func (r *Record) Get(key string) []byte {
	if i, found := r.pairIndex(key); found {
		return r.Pairs[i].Value
	}
	return nil
}

// SetSeq sets the sequence number. Invalidates the signature.
func (r *Record) SetSeq(seq uint64) {
	r.Signature = nil
	r.Seq = seq
}

// Scheme returns the name of the identity scheme declared by the record's
// "id" entry, or the empty string if none is set.
func (r *Record) Scheme() string {
	return string(r.Get(KeyID))
}

// NodeID returns the record's node identifier as computed by its declared
// identity scheme. It returns an error if the scheme is missing or
// unregistered.
func (r *Record) NodeID() ([32]byte, error) {
	scheme, ok := Lookup(r.Scheme())
	if !ok {
		return [32]byte{}, ErrUnknownScheme
	}
	return scheme.NodeID(r)
}

// seqAndPairs returns the [seq, k1, v1, k2, v2, ...] element list shared by
// both the signed content and the full wire encoding; only whether a
// leading signature element is prepended differs between the two.
func (r *Record) seqAndPairs() []interface{} {
	items := make([]interface{}, 0, 1+2*len(r.Pairs))
	items = append(items, r.Seq)
	for _, p := range r.Pairs {
		items = append(items, p.Key, p.Value)
	}
	return items
}

// contentForSigning builds the RLP list [seq, k1, v1, k2, v2, ...] used for
// both signing and verification — the signature never covers itself.
func (r *Record) contentForSigning() ([]byte, error) {
	return rlp.EncodeToBytes(r.seqAndPairs())
}

// EncodeENR produces the full RLP-encoded record: [sig, seq, k1, v1, ...].
// Per spec.md section 3 the wire form must not exceed SizeLimit bytes; an
// oversize record is rejected here rather than left for a later transport
// check to catch.
func EncodeENR(r *Record) ([]byte, error) {
	if r.Signature == nil {
		return nil, ErrNotSigned
	}
	items := append([]interface{}{r.Signature}, r.seqAndPairs()...)
	data, err := rlp.EncodeToBytes(items)
	if err != nil {
		return nil, err
	}
	if len(data) > SizeLimit {
		return nil, ErrTooBig
	}
	return data, nil
}

// DecodeENR decodes an RLP-encoded ENR record.
// Format: RLP list [signature, seq, k1, v1, k2, v2, ...]
func DecodeENR(data []byte) (*Record, error) {
	if len(data) > SizeLimit {
		return nil, ErrTooBig
	}
	s := rlp.NewStreamFromBytes(data)
	_, err := s.List()
	if err != nil {
		return nil, err
	}

	sig, err := s.Bytes()
	if err != nil {
		return nil, err
	}

	seq, err := s.Uint64()
	if err != nil {
		return nil, err
	}

	pairs, err := decodePairs(s)
	if err != nil {
		return nil, err
	}

	return &Record{
		Seq:       seq,
		Pairs:     pairs,
		Signature: sig,
	}, nil
}

// decodePairs reads the trailing key/value run of an ENR's RLP list,
// enforcing the wire-form ordering invariant from spec.md section 3: keys
// strictly increasing, no duplicates.
func decodePairs(s *rlp.Stream) ([]Pair, error) {
	var pairs []Pair
	for {
		keyBytes, err := s.Bytes()
		if err != nil {
			return pairs, nil // end of list
		}
		valBytes, err := s.Bytes()
		if err != nil {
			return nil, errors.New("enr: incomplete key/value pair")
		}
		key := string(keyBytes)
		if len(pairs) > 0 {
			switch prev := pairs[len(pairs)-1].Key; {
			case key == prev:
				return nil, ErrDuplicateKey
			case key < prev:
				return nil, ErrNotSorted
			}
		}
		pairs = append(pairs, Pair{Key: key, Value: valBytes})
	}
}

// Sign signs the record under the named identity scheme, setting whatever
// identity-specific keys that scheme requires (at minimum "id") before
// computing the signature over [seq, k1, v1, ...].
func Sign(r *Record, schemeName string, priv interface{}) error {
	scheme, ok := Lookup(schemeName)
	if !ok {
		return ErrUnknownScheme
	}
	return scheme.Sign(r, priv)
}

// Verify verifies the signature on the record using the identity scheme
// named by its "id" entry.
func Verify(r *Record) error {
	if r.Signature == nil {
		return ErrNotSigned
	}
	scheme, ok := Lookup(r.Scheme())
	if !ok {
		return ErrUnknownScheme
	}
	return scheme.Verify(r)
}
