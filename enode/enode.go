// Package enode holds the one notion of node identity the discv5 core
// actually reaches for: the 32-byte NodeId and the XOR-distance metric that
// the Kademlia routing table and iterative lookup are built on. The
// devp2p/RLPx "enode://" URL format and TCP dial-address bookkeeping that
// the teacher's equivalent package also carried are a different subsystem
// (spec.md section 1 places the legacy RLPx transport out of scope) and
// have no caller here, so they are not reproduced.
package enode

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"
)

// NodeID is the 32-byte identifier a node's long-term public key hashes to
// (see the v4 identity scheme's Keccak-256 derivation). It is its own type,
// rather than a bare [32]byte, so the distance helpers below read as
// operating on identities rather than arbitrary byte arrays.
type NodeID [32]byte

// String returns the hex encoding of the ID, used in log lines and in
// routing-table dumps.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value, the sentinel the routing
// table and session maps use for "no entry".
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// ParseID decodes a hex-encoded NodeID, accepting an optional "0x" prefix.
// Used when loading bootstrap peers or test fixtures that name a NodeID
// directly rather than via a full ENR.
func ParseID(s string) (NodeID, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, err
	}
	if len(b) != 32 {
		return NodeID{}, fmt.Errorf("enode: wrong ID length %d, want 32", len(b))
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// Distance returns the XOR log-distance log2(a XOR b) used to pick a
// NodeID's routing-table bucket index, per spec.md section 3. Distance(a,
// a) is 0; callers that must reject a==b outright (Table.Update) check
// that separately rather than relying on this return value.
func Distance(a, b NodeID) int {
	var x NodeID
	for i := range x {
		x[i] = a[i] ^ b[i]
	}
	return bitLen(x)
}

// bitLen returns the position of the highest set bit in x, counting from 1
// (bitLen of the zero value is 0) — exactly the Kademlia bucket index for
// an XOR distance.
func bitLen(x NodeID) int {
	for i := 0; i < len(x); i += 8 {
		word := binary.BigEndian.Uint64(x[i : i+8])
		if word != 0 {
			return (len(x)-i)*8 - bits.LeadingZeros64(word)
		}
	}
	return 0
}

// DistCmp orders a and b by their XOR distance to target: -1 if a is
// closer, 1 if b is closer, 0 if equidistant. The routing table's
// closest-neighbor iteration and the iterative lookup's closest-set
// ordering both reduce to repeated calls to this.
func DistCmp(target, a, b NodeID) int {
	for i := 0; i < len(target); i += 8 {
		tn := binary.BigEndian.Uint64(target[i : i+8])
		da := tn ^ binary.BigEndian.Uint64(a[i:i+8])
		db := tn ^ binary.BigEndian.Uint64(b[i:i+8])
		if da != db {
			if da > db {
				return 1
			}
			return -1
		}
	}
	return 0
}
