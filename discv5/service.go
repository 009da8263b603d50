package discv5

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"net"
	"sync"

	discv5crypto "github.com/eth2030/discv5/crypto"
	"github.com/eth2030/discv5/enr"
	"github.com/eth2030/discv5/log"
)

// ErrNoPrivateKey is returned by NewService when Config.PrivateKey is nil.
var ErrNoPrivateKey = errors.New("discv5: Config.PrivateKey is required")

// Service wires every component in spec.md section 2's leaves-first
// dependency order into one running discv5 node: identity + ENR (crypto,
// enr), ENR store, packet codec + handshake engine (via Supervisor/Packer),
// message dispatcher, routing table, and routing-table manager, bound to a
// live UDP socket. It is the single entry point a caller constructs;
// everything else is reachable through it for tests and diagnostics.
type Service struct {
	cfg     *Config
	log     *log.Logger
	scheme  IdentityScheme
	localID [32]byte

	mu        sync.RWMutex
	localENR  *enr.Record
	enrs      *ENRStore
	table     *Table
	sup       *Supervisor
	dispatch  *Dispatcher
	transport *Transport
	endpoints *EndpointTracker
	routing   *RoutingManager
}

// NewService constructs every component and binds the UDP socket, but does
// not yet start the read loop or background services; call Start for that.
func NewService(cfg Config) (*Service, error) {
	cfg.applyDefaults()
	if cfg.PrivateKey == nil {
		return nil, ErrNoPrivateKey
	}

	schemes := newSchemeRegistry()
	scheme, err := schemes.lookup("v4")
	if err != nil {
		return nil, err
	}

	localID, err := nodeIDFromKey(&cfg.PrivateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	localENR, err := buildInitialENR(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	if udpAddr, ok := conn.LocalAddr().(*net.UDPAddr); ok && udpAddr.Port != 0 {
		enr.SetUDP(localENR, uint16(udpAddr.Port))
		if err := enr.Sign(localENR, scheme.Name(), cfg.PrivateKey); err != nil {
			conn.Close()
			return nil, err
		}
	}

	s := &Service{
		cfg:      &cfg,
		log:      cfg.Log.Module("service"),
		scheme:   scheme,
		localID:  localID,
		localENR: localENR,
		enrs:     NewENRStore(),
		table:    NewTable(localID, cfg.BucketSize, cfg.ReplacementCacheSize, cfg.Log),
	}

	s.sup = NewSupervisor(localID, scheme, cfg.PrivateKey, s.LocalENR, s.enrs, s.cfg, nil, nil)
	s.dispatch = NewDispatcher(s.sup, s.cfg)
	s.sup.messages = s.dispatch

	s.transport = NewTransport(conn, localID, s.sup, s.cfg)
	s.sup.sink = s.transport

	s.endpoints = NewEndpointTracker(scheme, cfg.PrivateKey, s.LocalENR, s.installLocalENR, s.cfg.Log)
	s.routing = NewRoutingManager(s.cfg, s.table, s.dispatch, s.enrs, s.transport, s.endpoints, localID, s.LocalENR)
	if err := s.routing.RegisterHandlers(); err != nil {
		conn.Close()
		return nil, err
	}

	for _, rec := range cfg.BootstrapENRs {
		s.AddBootstrapNode(rec)
	}

	return s, nil
}

// LocalID returns this node's NodeId.
func (s *Service) LocalID() [32]byte { return s.localID }

// LocalENR returns the currently installed local ENR.
func (s *Service) LocalENR() *enr.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localENR
}

func (s *Service) installLocalENR(r *enr.Record) {
	s.mu.Lock()
	s.localENR = r
	s.mu.Unlock()
}

// Table exposes the routing table, mainly for tests and diagnostics.
func (s *Service) Table() *Table { return s.table }

// ENRStore exposes the ENR store, mainly for tests and diagnostics.
func (s *Service) ENRStore() *ENRStore { return s.enrs }

// AddBootstrapNode seeds the ENR store and routing table with rec, and
// teaches the transport the address to reach it at so a later handshake
// probe has somewhere to go.
func (s *Service) AddBootstrapNode(rec *enr.Record) {
	id, err := rec.NodeID()
	if err != nil {
		s.log.Warn("skipping bootstrap ENR with invalid node id", "err", err)
		return
	}
	if id == s.localID {
		return
	}
	if _, err := s.enrs.Insert(id, rec); err != nil {
		s.log.Debug("bootstrap ENR rejected", "id", id, "err", err)
	}

	ip := enr.IP(rec)
	if ip == nil {
		ip = enr.IP6(rec)
	}
	port := enr.UDP(rec)
	if ip == nil || port == 0 {
		s.log.Warn("bootstrap ENR has no usable endpoint", "id", id)
		return
	}
	addr := &net.UDPAddr{IP: ip, Port: int(port)}
	s.transport.Remember(id, addr)
	s.table.Update(TableNode{ID: id, IP: ip, Port: port})
}

// Start launches the UDP read loop, the ping prober, and the endpoint
// tracker as background goroutines. It returns immediately; call Stop to
// shut them down.
func (s *Service) Start() {
	go func() {
		if err := s.transport.Serve(); err != nil {
			s.log.Debug("transport read loop exited", "err", err)
		}
	}()
	go s.routing.RunProber()
	go s.endpoints.Run()
}

// Stop tears down the service: closes the UDP socket (ending the read
// loop), stops the prober and endpoint tracker, and unblocks any in-flight
// Request calls with ErrDispatcherClosed.
func (s *Service) Stop() error {
	s.routing.Stop()
	s.endpoints.Stop()
	s.dispatch.Close()
	return s.transport.Close()
}

// Ping sends a Ping to remoteID and waits for its Pong, per spec.md
// scenario 2. remoteID's ENR must already be in the ENR store, since the
// handshake needs its static key, and the transport must know its address;
// AddBootstrapNode provides both.
func (s *Service) Ping(ctx context.Context, remoteID [32]byte) (*Pong, error) {
	var seq uint64
	if r := s.LocalENR(); r != nil {
		seq = r.Seq
	}
	resp, err := s.dispatch.Request(ctx, remoteID, &Ping{ENRSeq: seq})
	if err != nil {
		return nil, err
	}
	pong, ok := resp.(*Pong)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	return pong, nil
}

// FindNode asks remoteID for its ENRs at the given log-distance, per
// spec.md scenario 3 when distance is 0.
func (s *Service) FindNode(ctx context.Context, remoteID [32]byte, distance uint64) (*Nodes, error) {
	resp, err := s.dispatch.Request(ctx, remoteID, &FindNode{Distance: distance})
	if err != nil {
		return nil, err
	}
	nodes, ok := resp.(*Nodes)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	return nodes, nil
}

func nodeIDFromKey(pub *ecdsa.PublicKey) ([32]byte, error) {
	rec := &enr.Record{Seq: 0}
	rec.Set(enr.KeyID, []byte("v4"))
	rec.Set(enr.KeySecp256k1, discv5crypto.CompressPubkey(pub))
	return rec.NodeID()
}

func buildInitialENR(priv *ecdsa.PrivateKey) (*enr.Record, error) {
	rec := &enr.Record{Seq: 1}
	if err := enr.Sign(rec, "v4", priv); err != nil {
		return nil, err
	}
	return rec, nil
}
