package discv5

import (
	"context"
	"sort"

	"github.com/eth2030/discv5/enode"
	"github.com/eth2030/discv5/enr"
)

// LookupAlpha is the number of concurrent FindNode queries issued per
// round of an iterative lookup, the standard Kademlia concurrency factor.
const LookupAlpha = 3

// closestSet is a bounded, distance-sorted, deduplicated accumulator of
// lookup results, grounded on the teacher's own closestSet in lookup.go.
type closestSet struct {
	target [32]byte
	nodes  []TableNode
	seen   map[[32]byte]bool
	limit  int
}

func newClosestSet(target [32]byte, limit int) *closestSet {
	return &closestSet{target: target, seen: make(map[[32]byte]bool), limit: limit}
}

func (cs *closestSet) push(n TableNode) bool {
	if cs.seen[n.ID] {
		return false
	}
	cs.seen[n.ID] = true

	if len(cs.nodes) < cs.limit {
		cs.insertSorted(n)
		return true
	}
	farthest := cs.nodes[len(cs.nodes)-1]
	if enode.DistCmp(enode.NodeID(cs.target), enode.NodeID(n.ID), enode.NodeID(farthest.ID)) >= 0 {
		return false
	}
	cs.nodes = cs.nodes[:len(cs.nodes)-1]
	cs.insertSorted(n)
	return true
}

func (cs *closestSet) insertSorted(n TableNode) {
	i := sort.Search(len(cs.nodes), func(i int) bool {
		return enode.DistCmp(enode.NodeID(cs.target), enode.NodeID(n.ID), enode.NodeID(cs.nodes[i].ID)) < 0
	})
	cs.nodes = append(cs.nodes, TableNode{})
	copy(cs.nodes[i+1:], cs.nodes[i:])
	cs.nodes[i] = n
}

// Lookup drives an iterative, alpha-concurrent FindNode lookup for target
// starting from the local routing table, grounded on the teacher's own
// IterativeLookup but issuing real FindNode requests (at each queried
// peer's log-distance to target, see queryFindNode) through the Dispatcher
// instead of a caller-supplied QueryFunc, and inserting
// every returned ENR into the ENR store and routing table as it arrives
// (the teacher's AddNode-on-response step). It returns up to resultSize
// nodes ordered by ascending XOR distance to target.
func (s *Service) Lookup(ctx context.Context, target [32]byte, resultSize int) []TableNode {
	if resultSize <= 0 {
		resultSize = s.cfg.BucketSize
	}
	closest := newClosestSet(target, resultSize)
	asked := map[[32]byte]bool{s.localID: true}

	for _, seed := range s.table.ClosestTo(target, resultSize) {
		closest.push(seed)
	}
	if len(closest.nodes) == 0 {
		return nil
	}

	for {
		var toAsk []TableNode
		for _, n := range closest.nodes {
			if !asked[n.ID] {
				toAsk = append(toAsk, n)
				if len(toAsk) >= LookupAlpha {
					break
				}
			}
		}
		if len(toAsk) == 0 {
			break
		}

		type round struct {
			from  [32]byte
			found []*enr.Record
		}
		results := make(chan round, len(toAsk))
		for _, n := range toAsk {
			asked[n.ID] = true
			go func(n TableNode) {
				results <- round{from: n.ID, found: s.queryFindNode(ctx, n.ID, target)}
			}(n)
		}

		improved := false
		for i := 0; i < len(toAsk); i++ {
			r := <-results
			for _, record := range r.found {
				id, err := record.NodeID()
				if err != nil || id == s.localID || asked[id] {
					continue
				}
				if _, err := s.enrs.Insert(id, record); err != nil {
					continue
				}
				tn := tableNodeFromENR(id, record)
				s.touchTable(tn)
				if closest.push(tn) {
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}

	return closest.nodes
}

// queryFindNode asks remoteID for the entries in its own bucket at the
// exact log-distance between remoteID and target — the bucket remoteID
// itself would place target's neighbors in, and so the one most likely to
// contain nodes usefully closer to target than remoteID itself.
func (s *Service) queryFindNode(ctx context.Context, remoteID, target [32]byte) []*enr.Record {
	distance := enode.Distance(enode.NodeID(remoteID), enode.NodeID(target))
	if distance == 0 {
		distance = 1
	}
	resp, err := s.dispatch.Request(ctx, remoteID, &FindNode{Distance: uint64(distance)})
	if err != nil {
		return nil
	}
	nodes, ok := resp.(*Nodes)
	if !ok {
		return nil
	}
	var out []*enr.Record
	for _, raw := range nodes.ENRs {
		record, err := enr.DecodeENR(raw)
		if err != nil {
			continue
		}
		out = append(out, record)
	}
	return out
}

func tableNodeFromENR(id [32]byte, r *enr.Record) TableNode {
	tn := TableNode{ID: id}
	if ip := enr.IP(r); ip != nil {
		tn.IP = ip
	} else if ip := enr.IP6(r); ip != nil {
		tn.IP = ip
	}
	tn.Port = enr.UDP(r)
	return tn
}

// touchTable records a lookup-discovered node in the routing table. A
// lookup response is not itself proof of liveness for whatever it might
// evict, so this never removes anything on its own — eviction stays the
// ping prober's job (probe the returned candidate, then Remove on
// failure).
func (s *Service) touchTable(n TableNode) {
	s.table.Update(n)
}
