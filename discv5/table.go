package discv5

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/eth2030/discv5/enode"
	"github.com/eth2030/discv5/log"
)

// ErrLocalNode is returned when an operation names the table's own NodeId,
// which per spec.md section 3 must never appear in any bucket.
var ErrLocalNode = errors.New("discv5: cannot add local node to routing table")

// TableNode is the routing table's view of a peer: enough to dial it
// without going back to the ENR store on every lookup.
type TableNode struct {
	ID   [32]byte
	IP   net.IP
	Port uint16
}

// bucket holds up to Table.k entries, most-recently-used first, plus an
// unbounded-in-spirit (practically capped, see DESIGN.md) replacement cache
// in the same most-recently-added-first order.
type bucket struct {
	entries      []TableNode
	replacements []TableNode
}

func (b *bucket) indexOf(id [32]byte) int {
	for i, n := range b.entries {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (b *bucket) replacementIndexOf(id [32]byte) int {
	for i, n := range b.replacements {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Table is the Kademlia-style XOR-distance routing table of spec.md
// section 4.8: 256 buckets indexed by log-distance to the local NodeId,
// each a bounded recency-ordered list plus a replacement cache, grounded on
// the teacher's standalone KademliaTable (bucket/replacement-cache split,
// XOR log-distance bucketing) but reshaped around spec.md's exact
// update/remove contract (move-to-head, tail-as-eviction-candidate,
// newest-replacement-promoted-to-head) rather than the teacher's
// staleness/fail-count eviction policy.
type Table struct {
	mu      sync.Mutex
	localID [32]byte
	k       int
	capRepl int
	buckets [256]bucket
	touched [256]time.Time
	log     *log.Logger
}

// NewTable creates an empty table for localID with bucket capacity k and
// per-bucket replacement-cache capacity replacementCap.
func NewTable(localID [32]byte, k, replacementCap int, logger *log.Logger) *Table {
	if logger == nil {
		logger = log.Default()
	}
	return &Table{
		localID: localID,
		k:       k,
		capRepl: replacementCap,
		log:     logger.Module("table"),
	}
}

// bucketIndex returns the bucket index (0..255) for id relative to the
// local NodeId, per "bucket index uniquely determined by log2(NodeId XOR
// local_id)". Returns -1 for the local NodeId itself.
func (t *Table) bucketIndex(id [32]byte) int {
	d := enode.Distance(enode.NodeID(t.localID), enode.NodeID(id))
	if d == 0 {
		return -1
	}
	return d - 1
}

// Update implements the policy of spec.md section 4.8: move an existing
// entry to the head, insert a new one if the bucket has room, or — if the
// bucket is full — stash it in the replacement cache and hand back the
// current bucket tail as an eviction candidate for the caller to probe.
// candidate is populated, with needsProbe true, exactly when the bucket was
// already full, in which case node sits only in the replacement cache.
func (t *Table) Update(node TableNode) (candidate TableNode, needsProbe bool, err error) {
	if node.ID == t.localID {
		return TableNode{}, false, ErrLocalNode
	}
	idx := t.bucketIndex(node.ID)

	t.mu.Lock()
	defer t.mu.Unlock()
	b := &t.buckets[idx]
	t.touch(idx)

	if i := b.indexOf(node.ID); i >= 0 {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		b.entries = append([]TableNode{node}, b.entries...)
		return TableNode{}, false, nil
	}

	if len(b.entries) < t.k {
		b.entries = append([]TableNode{node}, b.entries...)
		return TableNode{}, false, nil
	}

	t.pushReplacementLocked(b, node)
	tail := b.entries[len(b.entries)-1]
	return tail, true, nil
}

func (t *Table) pushReplacementLocked(b *bucket, node TableNode) {
	if i := b.replacementIndexOf(node.ID); i >= 0 {
		b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
	} else if len(b.replacements) >= t.capRepl {
		b.replacements = b.replacements[:len(b.replacements)-1]
	}
	b.replacements = append([]TableNode{node}, b.replacements...)
}

// Remove evicts id from its bucket, if present, and promotes the newest
// replacement-cache entry (if any) into the vacated bucket's head — per
// spec.md section 4.8 and the worked eviction example in section 8.
func (t *Table) Remove(id [32]byte) {
	if id == t.localID {
		return
	}
	idx := t.bucketIndex(id)

	t.mu.Lock()
	defer t.mu.Unlock()
	b := &t.buckets[idx]

	if i := b.indexOf(id); i >= 0 {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		if len(b.replacements) > 0 {
			promoted := b.replacements[0]
			b.replacements = b.replacements[1:]
			b.entries = append([]TableNode{promoted}, b.entries...)
		}
		t.touch(idx)
		return
	}
	if i := b.replacementIndexOf(id); i >= 0 {
		b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
	}
}

// Contains reports whether id currently occupies a bucket slot (not merely
// the replacement cache).
func (t *Table) Contains(id [32]byte) bool {
	idx := t.bucketIndex(id)
	if idx < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buckets[idx].indexOf(id) >= 0
}

// BucketLen returns the number of occupied entries in the bucket id would
// fall into.
func (t *Table) BucketLen(id [32]byte) int {
	idx := t.bucketIndex(id)
	if idx < 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets[idx].entries)
}

// NodesAtDistance returns the entries of the bucket at exactly the given
// log-distance (1..256) from the local NodeId, used to answer a FindNode
// request for a nonzero distance (spec.md section 4.9).
func (t *Table) NodesAtDistance(distance int) []TableNode {
	if distance < 1 || distance > 256 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[distance-1]
	out := make([]TableNode, len(b.entries))
	copy(out, b.entries)
	return out
}

// ClosestTo returns up to n table entries nearest to target by XOR
// distance, ascending — spec.md section 4.8's iter_nodes_around, used by
// the iterative lookup.
func (t *Table) ClosestTo(target [32]byte, n int) []TableNode {
	t.mu.Lock()
	all := make([]TableNode, 0, 256*t.k)
	for i := range t.buckets {
		all = append(all, t.buckets[i].entries...)
	}
	t.mu.Unlock()

	for i := 1; i < len(all); i++ {
		for j := i; j > 0; j-- {
			if enode.DistCmp(enode.NodeID(target), enode.NodeID(all[j].ID), enode.NodeID(all[j-1].ID)) < 0 {
				all[j], all[j-1] = all[j-1], all[j]
			} else {
				break
			}
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Len returns the total number of occupied entries across all buckets.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.buckets {
		n += len(t.buckets[i].entries)
	}
	return n
}

func (t *Table) touch(idx int) {
	t.touched[idx] = time.Now()
}

// OldestEntry returns the routing-table entry that has gone longest without
// an Update() call touching its bucket, scanning from the least-recently
// modified non-empty bucket per the "bucket_update_order LRU" of spec.md
// section 4.8. It is the target the ping prober refreshes next. ok is false
// if the table is empty.
func (t *Table) OldestEntry() (node TableNode, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	best := -1
	for i := range t.buckets {
		if len(t.buckets[i].entries) == 0 {
			continue
		}
		if best == -1 || t.touched[i].Before(t.touched[best]) {
			best = i
		}
	}
	if best == -1 {
		return TableNode{}, false
	}
	entries := t.buckets[best].entries
	return entries[len(entries)-1], true
}
