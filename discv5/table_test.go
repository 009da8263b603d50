package discv5

import (
	"testing"

	"github.com/eth2030/discv5/log"
)

func idAt(b byte) [32]byte {
	var id [32]byte
	id[31] = b
	return id
}

func TestTableUpdate_RejectsLocalID(t *testing.T) {
	var local [32]byte
	tbl := NewTable(local, 16, 10, log.Default())
	if _, _, err := tbl.Update(TableNode{ID: local}); err != ErrLocalNode {
		t.Fatalf("want ErrLocalNode, got %v", err)
	}
}

func TestTableUpdate_InsertsAtHeadUntilFull(t *testing.T) {
	var local [32]byte
	tbl := NewTable(local, 2, 10, log.Default())

	n1 := TableNode{ID: idAt(4)} // 4 and 5 are both at log-distance 3
	n2 := TableNode{ID: idAt(5)}
	if _, needsProbe, err := tbl.Update(n1); err != nil || needsProbe {
		t.Fatalf("unexpected: %v %v", needsProbe, err)
	}
	if _, needsProbe, err := tbl.Update(n2); err != nil || needsProbe {
		t.Fatalf("unexpected: %v %v", needsProbe, err)
	}
	if tbl.BucketLen(n1.ID) != 2 {
		t.Fatalf("want 2 entries, got %d", tbl.BucketLen(n1.ID))
	}
}

// TestTableEvictionScenario reproduces spec.md section 8, scenario 4 exactly:
// a full K=2 bucket {n1, n2} (n2 most recent), adding n3 returns n1 as the
// eviction candidate and stashes n3 in the replacement cache; after
// Remove(n1) the bucket is {n2, n3} with n3 promoted to the head.
func TestTableEvictionScenario(t *testing.T) {
	var local [32]byte
	tbl := NewTable(local, 2, 10, log.Default())

	n1 := TableNode{ID: idAt(4)} // 4, 5 and 6 are all at log-distance 3
	n2 := TableNode{ID: idAt(5)}
	n3 := TableNode{ID: idAt(6)}

	mustNoProbe := func(n TableNode) {
		t.Helper()
		if _, needsProbe, err := tbl.Update(n); err != nil || needsProbe {
			t.Fatalf("Update(%v): needsProbe=%v err=%v", n.ID, needsProbe, err)
		}
	}
	mustNoProbe(n1)
	mustNoProbe(n2) // n2 now most recent

	candidate, needsProbe, err := tbl.Update(n3)
	if err != nil {
		t.Fatalf("Update(n3): %v", err)
	}
	if !needsProbe {
		t.Fatalf("want needsProbe=true, bucket is full")
	}
	if candidate.ID != n1.ID {
		t.Fatalf("want eviction candidate n1, got %v", candidate.ID)
	}
	if tbl.BucketLen(n1.ID) != 2 {
		t.Fatalf("bucket must be unchanged before Remove, got len %d", tbl.BucketLen(n1.ID))
	}

	tbl.Remove(n1.ID)

	if tbl.Contains(n1.ID) {
		t.Fatalf("n1 should have been evicted")
	}
	if !tbl.Contains(n2.ID) || !tbl.Contains(n3.ID) {
		t.Fatalf("n2 and n3 should both be present after promotion")
	}
	if tbl.BucketLen(n1.ID) != 2 {
		t.Fatalf("bucket should hold exactly 2 entries after promotion, got %d", tbl.BucketLen(n1.ID))
	}
}

func TestTableUpdate_EmptyReplacementCacheStillReturnsCandidate(t *testing.T) {
	// spec.md section 9: "the current design returns the bucket tail as
	// eviction candidate even when no replacement is available."
	var local [32]byte
	tbl := NewTable(local, 1, 10, log.Default())

	n1 := TableNode{ID: idAt(4)} // 4 and 5 are both at log-distance 3
	n2 := TableNode{ID: idAt(5)}
	if _, needsProbe, err := tbl.Update(n1); err != nil || needsProbe {
		t.Fatalf("unexpected: %v %v", needsProbe, err)
	}

	candidate, needsProbe, err := tbl.Update(n2)
	if err != nil || !needsProbe || candidate.ID != n1.ID {
		t.Fatalf("want candidate=n1 needsProbe=true, got %v %v %v", candidate.ID, needsProbe, err)
	}

	// Update parked n2 in the replacement cache; dropping it leaves nothing
	// to promote when n1 is removed.
	tbl.Remove(n2.ID)
	tbl.Remove(n1.ID)
	if tbl.BucketLen(n1.ID) != 0 {
		t.Fatalf("bucket should shrink to 0 with no replacement available")
	}
}

func TestTableUpdate_MovesExistingToHead(t *testing.T) {
	var local [32]byte
	tbl := NewTable(local, 16, 10, log.Default())
	n1 := TableNode{ID: idAt(1)}

	if _, _, err := tbl.Update(n1); err != nil {
		t.Fatal(err)
	}
	if _, needsProbe, err := tbl.Update(n1); err != nil || needsProbe {
		t.Fatalf("re-update of present node should be a plain move-to-head: %v %v", needsProbe, err)
	}
	if tbl.BucketLen(n1.ID) != 1 {
		t.Fatalf("duplicate update must not duplicate the entry, got len %d", tbl.BucketLen(n1.ID))
	}
}

func TestTableClosestTo_SortsAscending(t *testing.T) {
	var local [32]byte
	tbl := NewTable(local, 16, 10, log.Default())
	for _, b := range []byte{1, 2, 3, 4} {
		if _, _, err := tbl.Update(TableNode{ID: idAt(b)}); err != nil {
			t.Fatal(err)
		}
	}

	target := idAt(0)
	closest := tbl.ClosestTo(target, 10)
	if len(closest) != 4 {
		t.Fatalf("want 4 entries, got %d", len(closest))
	}
	for i := 1; i < len(closest); i++ {
		if xorDistGreater(target, closest[i-1].ID, closest[i].ID) {
			t.Fatalf("ClosestTo not ascending at index %d: %v", i, closest)
		}
	}
}

// xorDistGreater reports whether a is farther from target than b.
func xorDistGreater(target, a, b [32]byte) bool {
	for i := 0; i < 32; i++ {
		da := target[i] ^ a[i]
		db := target[i] ^ b[i]
		if da != db {
			return da > db
		}
	}
	return false
}

func TestTableOldestEntry_EmptyTable(t *testing.T) {
	var local [32]byte
	tbl := NewTable(local, 16, 10, log.Default())
	if _, ok := tbl.OldestEntry(); ok {
		t.Fatalf("empty table must report ok=false")
	}
}

func TestTableNodesAtDistance(t *testing.T) {
	var local [32]byte
	tbl := NewTable(local, 16, 10, log.Default())
	n1 := TableNode{ID: idAt(1)} // distance 1 -> bucket index 0

	if _, _, err := tbl.Update(n1); err != nil {
		t.Fatal(err)
	}
	nodes := tbl.NodesAtDistance(1)
	if len(nodes) != 1 || nodes[0].ID != n1.ID {
		t.Fatalf("want [n1] at distance 1, got %v", nodes)
	}
	if nodes := tbl.NodesAtDistance(2); len(nodes) != 0 {
		t.Fatalf("want no entries at distance 2, got %v", nodes)
	}
}
