package discv5

import (
	"crypto/ecdsa"
	"errors"
	"sync"

	"github.com/eth2030/discv5/enr"
	"github.com/eth2030/discv5/log"
)

// ErrSessionCapReached is returned when a message or packet names a peer
// with no existing Packer and the instance is already at Config.MaxSessions.
var ErrSessionCapReached = errors.New("discv5: session capacity reached")

// Supervisor demultiplexes incoming packets to per-peer Packers, per
// spec.md section 4.5. A Packer is spawned the first time a peer is seen,
// either because we initiate a handshake to it or because an AuthTagPacket
// probe arrives from it; packets for a peer with no existing Packer and no
// recognizable handshake state are dropped.
type Supervisor struct {
	mu       sync.Mutex
	localID  [32]byte
	scheme   IdentityScheme
	key      *ecdsa.PrivateKey
	localENR func() *enr.Record
	enrs     *ENRStore
	cfg      *Config
	log      *log.Logger
	sink     PacketSink
	messages MessageSink

	peers map[[32]byte]*Packer
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor(localID [32]byte, scheme IdentityScheme, key *ecdsa.PrivateKey, localENR func() *enr.Record, enrs *ENRStore, cfg *Config, sink PacketSink, messages MessageSink) *Supervisor {
	return &Supervisor{
		localID:  localID,
		scheme:   scheme,
		key:      key,
		localENR: localENR,
		enrs:     enrs,
		cfg:      cfg,
		log:      cfg.Log.Module("supervisor"),
		sink:     sink,
		messages: messages,
		peers:    make(map[[32]byte]*Packer),
	}
}

// PackerFor returns the Packer for remoteID, spawning one if this is the
// first packet or outbound message ever seen for that peer. When the peer
// count is already at Config.MaxSessions and remoteID has no existing
// Packer, spawning is refused and the packet must be dropped by the caller.
func (s *Supervisor) PackerFor(remoteID [32]byte, spawnIfMissing bool) (*Packer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.peers[remoteID]; ok {
		return p, true
	}
	if !spawnIfMissing {
		return nil, false
	}
	if len(s.peers) >= s.cfg.MaxSessions {
		s.log.WithNodeID("remote", remoteID).Warn("refusing to spawn packer, at session cap")
		return nil, false
	}
	p := NewPacker(s.localID, remoteID, s.scheme, s.key, s.localENR, s.enrs, s.cfg, s.sink, s.messages)
	s.peers[remoteID] = p
	return p, true
}

// Dispatch routes an already-decoded packet to the right Packer, spawning
// one on demand for AuthTag probes (any other kind arriving with no known
// Packer has nothing to match and is dropped). remoteID is supplied by the
// caller rather than read off the packet: AuthTag and AuthHeader packets can
// self-identify their sender via the tag (SourceID), but a WhoAreYou packet
// carries no sender identity at all, so the UDP layer resolves it from the
// source address of the AuthTagPacket it originally provoked.
func (s *Supervisor) Dispatch(remoteID [32]byte, pkt *Packet) {
	spawn := pkt.Kind == KindAuthTag
	p, ok := s.PackerFor(remoteID, spawn)
	if !ok {
		s.log.WithNodeID("remote", remoteID).Debug("dropping packet, no packer", "kind", pkt.Kind)
		return
	}
	p.HandlePacket(pkt)
}

// Send routes an outbound application message through the Packer for
// remoteID, spawning one if necessary.
func (s *Supervisor) Send(remoteID [32]byte, body []byte) error {
	p, _ := s.PackerFor(remoteID, true)
	if p == nil {
		return ErrSessionCapReached
	}
	return p.SendMessage(body)
}

// Remove drops a peer's Packer entirely, discarding any session state and
// in-flight handshake.
func (s *Supervisor) Remove(remoteID [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, remoteID)
}

// Len returns the number of peers with a live Packer.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
