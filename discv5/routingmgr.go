package discv5

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/eth2030/discv5/enr"
	"github.com/eth2030/discv5/log"
)

// RoutingManager implements spec.md section 4.9: the Ping/FindNode request
// handlers and the periodic ping prober that keeps the routing table's
// liveness information current, grounded on the teacher's
// NeedRefresh/RandomNodeInBucket table-maintenance hooks but driven by real
// Ping round trips through the Dispatcher instead of a refresh timer over
// bucket indices.
type RoutingManager struct {
	cfg       *Config
	log       *log.Logger
	table     *Table
	dispatch  *Dispatcher
	enrs      *ENRStore
	transport *Transport
	endpoints *EndpointTracker
	localID   [32]byte
	localENR  func() *enr.Record

	stop chan struct{}
}

// NewRoutingManager wires the three sub-services described in spec.md
// section 4.9 against a shared Dispatcher, Table, and ENRStore.
func NewRoutingManager(cfg *Config, table *Table, dispatch *Dispatcher, enrs *ENRStore, transport *Transport, endpoints *EndpointTracker, localID [32]byte, localENR func() *enr.Record) *RoutingManager {
	return &RoutingManager{
		cfg:       cfg,
		log:       cfg.Log.Module("routingmgr"),
		table:     table,
		dispatch:  dispatch,
		enrs:      enrs,
		transport: transport,
		endpoints: endpoints,
		localID:   localID,
		localENR:  localENR,
		stop:      make(chan struct{}),
	}
}

// RegisterHandlers installs the Ping and FindNode request handlers on the
// Dispatcher. Must be called once before the Dispatcher starts receiving
// traffic.
func (m *RoutingManager) RegisterHandlers() error {
	if err := m.dispatch.RegisterHandler(TypePing, m.handlePing); err != nil {
		return err
	}
	return m.dispatch.RegisterHandler(TypeFindNode, m.handleFindNode)
}

// handlePing answers an inbound Ping: updates the routing table for the
// sender, replies with our ENR sequence number and the address we observed
// the Ping arrive from, and — if the sender claims a newer ENR than we have
// on file — kicks off an asynchronous FindNode(distance=0) to fetch it.
func (m *RoutingManager) handlePing(remoteID [32]byte, msg Message) (Message, error) {
	ping := msg.(*Ping)

	if addr, ok := m.transport.AddrOf(remoteID); ok {
		ip, port := splitUDPAddr(addr)
		m.table.Update(TableNode{ID: remoteID, IP: ip, Port: port})
	}

	var localSeq uint64
	if r := m.localENR(); r != nil {
		localSeq = r.Seq
	}

	pong := &Pong{RequestID: ping.RequestID, ENRSeq: localSeq}
	if addr, ok := m.transport.AddrOf(remoteID); ok {
		ip, port := splitUDPAddr(addr)
		pong.PacketIP = ip
		pong.PacketPort = port
	}

	if ping.ENRSeq > m.enrs.Seq(remoteID) {
		go m.refreshENR(remoteID)
	}

	return pong, nil
}

// handleFindNode answers FindNode. Distance 0 returns our own ENR; nonzero
// distance returns the table entries at that exact log-distance, split
// across multiple Nodes messages sharing Total when they would not fit one
// packet (spec.md section 4.9).
func (m *RoutingManager) handleFindNode(remoteID [32]byte, msg Message) (Message, error) {
	fn := msg.(*FindNode)

	if fn.Distance == 0 {
		local := m.localENR()
		var enrs [][]byte
		if local != nil {
			if raw, err := enr.EncodeENR(local); err == nil {
				enrs = [][]byte{raw}
			}
		}
		return &Nodes{RequestID: fn.RequestID, Total: 1, ENRs: enrs}, nil
	}

	nodes := m.table.NodesAtDistance(int(fn.Distance))
	var records [][]byte
	for _, n := range nodes {
		rec := m.enrs.Get(n.ID)
		if rec == nil {
			continue
		}
		raw, err := enr.EncodeENR(rec)
		if err != nil {
			continue
		}
		records = append(records, raw)
	}

	return m.sendNodesChunked(remoteID, fn.RequestID, records), nil
}

// sendNodesChunked returns the first Nodes packet and, if records spill
// over Config.MaxNodesPerPacket, sends the remaining packets directly
// through the Dispatcher's underlying Supervisor (they are not themselves
// request/response round trips; every packet shares the same request_id
// and carries Total = the total number of Nodes packets in this answer,
// per spec.md section 4.9 and its own "total" field in section 4.7).
func (m *RoutingManager) sendNodesChunked(remoteID [32]byte, requestID uint64, records [][]byte) *Nodes {
	max := m.cfg.MaxNodesPerPacket
	if max <= 0 {
		max = 1
	}

	chunks := [][][]byte{nil}
	if len(records) > 0 {
		chunks = chunks[:0]
		for len(records) > 0 {
			n := max
			if n > len(records) {
				n = len(records)
			}
			chunks = append(chunks, records[:n])
			records = records[n:]
		}
	}
	total := uint64(len(chunks))

	for _, chunk := range chunks[1:] {
		body, err := EncodeMessage(&Nodes{RequestID: requestID, Total: total, ENRs: chunk})
		if err != nil {
			continue
		}
		if err := m.dispatch.sup.Send(remoteID, body); err != nil {
			m.log.WithNodeID("remote", remoteID).Warn("failed to send trailing Nodes chunk", "err", err)
		}
	}
	return &Nodes{RequestID: requestID, Total: total, ENRs: chunks[0]}
}

// refreshENR issues a FindNode(distance=0) to remoteID to fetch its current
// ENR and stores it, used both when a Ping claims a newer seq than we have
// on file and by the ping prober after a successful probe.
func (m *RoutingManager) refreshENR(remoteID [32]byte) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()

	resp, err := m.dispatch.Request(ctx, remoteID, &FindNode{Distance: 0})
	if err != nil {
		m.log.WithNodeID("remote", remoteID).Debug("ENR refresh failed", "err", err)
		return
	}
	nodes, ok := resp.(*Nodes)
	if !ok || len(nodes.ENRs) == 0 {
		return
	}
	record, err := enr.DecodeENR(nodes.ENRs[0])
	if err != nil {
		return
	}
	if _, err := m.enrs.Insert(remoteID, record); err != nil {
		m.log.WithNodeID("remote", remoteID).Debug("ignoring refreshed ENR", "err", err)
	}
}

// RunProber periodically selects the routing table's least-recently-touched
// entry, pings it, and evicts it on timeout or a mismatched response type,
// per spec.md section 4.9's "Ping prober". Meant to run as its own
// goroutine; returns when Stop is called.
func (m *RoutingManager) RunProber() {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.probeOnce()
		case <-m.stop:
			return
		}
	}
}

// Stop ends RunProber's loop.
func (m *RoutingManager) Stop() {
	close(m.stop)
}

func (m *RoutingManager) probeOnce() {
	node, ok := m.table.OldestEntry()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()

	var localSeq uint64
	if r := m.localENR(); r != nil {
		localSeq = r.Seq
	}

	resp, err := m.dispatch.Request(ctx, node.ID, &Ping{ENRSeq: localSeq})
	if err != nil {
		m.log.WithNodeID("remote", node.ID).Debug("ping probe timed out, evicting", "err", err)
		m.table.Remove(node.ID)
		return
	}
	pong, ok := resp.(*Pong)
	if !ok {
		m.log.WithNodeID("remote", node.ID).Debug("ping probe got wrong response type, evicting")
		m.table.Remove(node.ID)
		return
	}

	if m.endpoints != nil && len(pong.PacketIP) > 0 {
		m.endpoints.Vote(EndpointVote{IP: pong.PacketIP, Port: uint16(pong.PacketPort), VoterID: node.ID})
	}
	if pong.ENRSeq > m.enrs.Seq(node.ID) {
		m.refreshENR(node.ID)
	}
}

func splitUDPAddr(addr net.Addr) (net.IP, uint16) {
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return udpAddr.IP, uint16(udpAddr.Port)
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, 0
	}
	ip := net.ParseIP(host)
	p, _ := strconv.Atoi(port)
	return ip, uint16(p)
}
