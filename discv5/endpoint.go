package discv5

import (
	"crypto/ecdsa"
	"net"
	"sync"

	"github.com/eth2030/discv5/enr"
	"github.com/eth2030/discv5/log"
)

// EndpointVote reports a peer's observation of this node's externally
// reachable address, delivered by the Pong it sent us (its PacketIP /
// PacketPort) or any other source-address observation the caller wants to
// feed in.
type EndpointVote struct {
	IP      net.IP
	Port    uint16
	VoterID [32]byte
}

// EndpointTracker implements spec.md section 4.10: it watches a channel of
// endpoint votes and, the moment the voted endpoint disagrees with (or is
// simply absent from) the local ENR, bumps the ENR's sequence number,
// installs the new ip/udp keys, resigns it, and swaps it in. Per the spec's
// own words this is the "minimum correct behavior" — a single-sample
// update with no vote weighting or staleness discard, left as a documented
// simplification (see DESIGN.md).
type EndpointTracker struct {
	mu     sync.Mutex
	scheme IdentityScheme
	priv   *ecdsa.PrivateKey
	log    *log.Logger

	votes chan EndpointVote
	stop  chan struct{}

	current func() *enr.Record
	install func(*enr.Record)
}

// NewEndpointTracker creates a tracker. current returns the ENR currently
// installed on the Service; install swaps in a newly signed one.
func NewEndpointTracker(scheme IdentityScheme, priv *ecdsa.PrivateKey, current func() *enr.Record, install func(*enr.Record), logger *log.Logger) *EndpointTracker {
	if logger == nil {
		logger = log.Default()
	}
	return &EndpointTracker{
		scheme:  scheme,
		priv:    priv,
		log:     logger.Module("endpoint"),
		votes:   make(chan EndpointVote, 64),
		stop:    make(chan struct{}),
		current: current,
		install: install,
	}
}

// Vote submits an endpoint observation. Non-blocking: a full vote queue
// drops the vote, since a later Pong will carry the same information again.
func (e *EndpointTracker) Vote(v EndpointVote) {
	select {
	case e.votes <- v:
	default:
		e.log.Debug("dropping endpoint vote, queue full", "voter", v.VoterID)
	}
}

// Run consumes votes until Stop is called. It is meant to be launched as
// its own goroutine by the Service.
func (e *EndpointTracker) Run() {
	for {
		select {
		case v := <-e.votes:
			e.apply(v)
		case <-e.stop:
			return
		}
	}
}

// Stop ends Run's loop.
func (e *EndpointTracker) Stop() {
	close(e.stop)
}

func (e *EndpointTracker) apply(v EndpointVote) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.current()
	if rec == nil {
		return
	}
	if !e.endpointDiffers(rec, v) {
		return
	}

	updated := &enr.Record{Seq: rec.Seq + 1}
	for _, p := range rec.Pairs {
		if p.Key == enr.KeyIP || p.Key == enr.KeyIP6 || p.Key == enr.KeyUDP || p.Key == enr.KeyUDP6 {
			continue
		}
		updated.Set(p.Key, p.Value)
	}
	if ip4 := v.IP.To4(); ip4 != nil {
		enr.SetIP(updated, ip4)
		enr.SetUDP(updated, v.Port)
	} else {
		enr.SetIP6(updated, v.IP)
		enr.SetUDP6(updated, v.Port)
	}

	if err := enr.Sign(updated, e.scheme.Name(), e.priv); err != nil {
		e.log.Warn("failed to resign updated ENR", "err", err)
		return
	}
	e.install(updated)
	e.log.Debug("installed updated local ENR from endpoint vote", "voter", v.VoterID, "seq", updated.Seq)
}

func (e *EndpointTracker) endpointDiffers(rec *enr.Record, v EndpointVote) bool {
	if v.IP.To4() != nil {
		return !enr.IP(rec).Equal(v.IP) || enr.UDP(rec) != v.Port
	}
	return !enr.IP6(rec).Equal(v.IP) || enr.UDP6(rec) != v.Port
}
