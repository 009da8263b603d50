package discv5

import (
	"errors"
	"sync"

	"github.com/eth2030/discv5/enr"
)

// ErrStaleENR is returned when inserting an ENR whose sequence number is not
// newer than the one already on file for that node.
var ErrStaleENR = errors.New("discv5: stale ENR sequence number")

// ENRStore holds the latest known ENR for every node this instance has ever
// learned about, keyed by NodeId. Inserts are sequence-gated: an ENR with a
// seq less than or equal to the one already stored is rejected rather than
// silently ignored, so callers can tell a genuine no-op from a stale replay.
type ENRStore struct {
	mu   sync.RWMutex
	byID map[[32]byte]*enr.Record
}

// NewENRStore creates an empty store.
func NewENRStore() *ENRStore {
	return &ENRStore{byID: make(map[[32]byte]*enr.Record)}
}

// Get returns the stored record for id, or nil if none is known.
func (s *ENRStore) Get(id [32]byte) *enr.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Seq returns the sequence number stored for id, or 0 if none is known.
func (s *ENRStore) Seq(id [32]byte) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.byID[id]; ok {
		return r.Seq
	}
	return 0
}

// StaticPubkey returns the stored node's compressed secp256k1 public key, or
// nil if the node (or its key) is unknown.
func (s *ENRStore) StaticPubkey(id [32]byte) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil
	}
	return r.Get(enr.KeySecp256k1)
}

// Insert verifies r's signature and node id, then stores it if its sequence
// number is strictly newer than what's on file. An equal seq is treated as a
// no-op (err is nil, stored is false); a lower seq is ErrStaleENR.
func (s *ENRStore) Insert(id [32]byte, r *enr.Record) (stored bool, err error) {
	if err := enr.Verify(r); err != nil {
		return false, err
	}
	gotID, err := r.NodeID()
	if err != nil {
		return false, err
	}
	if gotID != id {
		return false, enr.ErrInvalidSig
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[id]
	if !ok {
		s.byID[id] = r
		return true, nil
	}
	if r.Seq == existing.Seq {
		return false, nil
	}
	if r.Seq < existing.Seq {
		return false, ErrStaleENR
	}
	s.byID[id] = r
	return true, nil
}

// Delete removes any stored record for id.
func (s *ENRStore) Delete(id [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Len returns the number of stored records.
func (s *ENRStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
