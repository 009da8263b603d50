package discv5

import (
	"net"
	"sync"

	"github.com/eth2030/discv5/log"
)

// Transport reads and writes discv5 packets over a UDP socket, resolving
// the sender's identity for packets that don't carry it (WhoAreYou) by
// remembering which address every outbound AuthTagPacket probe went to.
type Transport struct {
	conn    net.PacketConn
	localID [32]byte
	sup     *Supervisor
	log     *log.Logger

	mu       sync.Mutex
	addrToID map[string][32]byte
	idToAddr map[[32]byte]net.Addr
}

// NewTransport wraps an already-bound PacketConn.
func NewTransport(conn net.PacketConn, localID [32]byte, sup *Supervisor, cfg *Config) *Transport {
	return &Transport{
		conn:     conn,
		localID:  localID,
		sup:      sup,
		log:      cfg.Log.Module("udp"),
		addrToID: make(map[string][32]byte),
		idToAddr: make(map[[32]byte]net.Addr),
	}
}

// Remember records the UDP address a node is known to be reachable at, so a
// later WhoAreYou from that address can be attributed to it. Called whenever
// the caller learns (or assumes) a node's address, e.g. from an ENR or
// before sending it a probe.
func (t *Transport) Remember(id [32]byte, addr net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idToAddr[id] = addr
	t.addrToID[addr.String()] = id
}

// AddrOf returns the last known UDP address for id, as observed from an
// inbound packet or recorded via Remember. Used by the routing-table
// manager's Ping handler to fill in a Pong's observed packet_ip/packet_port.
func (t *Transport) AddrOf(id [32]byte) (net.Addr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.idToAddr[id]
	return addr, ok
}

// SendPacket implements PacketSink: it looks up the address on file for
// remoteID and writes data to it.
func (t *Transport) SendPacket(remoteID [32]byte, data []byte) error {
	t.mu.Lock()
	addr, ok := t.idToAddr[remoteID]
	t.mu.Unlock()
	if !ok {
		return ErrNoRemoteKey
	}
	_, err := t.conn.WriteTo(data, addr)
	return err
}

// Serve reads datagrams until the socket is closed or the read loop hits an
// unrecoverable error, dispatching each to the Supervisor.
func (t *Transport) Serve() error {
	buf := make([]byte, MaxPacketSize)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.handleDatagram(data, addr)
	}
}

func (t *Transport) handleDatagram(data []byte, addr net.Addr) {
	pkt, err := DecodePacket(data, t.localID)
	if err != nil {
		t.log.Debug("dropping malformed packet", "from", addr, "err", err)
		return
	}

	var remoteID [32]byte
	switch pkt.Kind {
	case KindAuthTag, KindAuthHeader:
		remoteID = pkt.SourceID
		t.Remember(remoteID, addr)
	case KindWhoAreYou:
		t.mu.Lock()
		id, ok := t.addrToID[addr.String()]
		t.mu.Unlock()
		if !ok {
			t.log.Debug("whoareyou from unrecognized address", "from", addr)
			return
		}
		remoteID = id
	}

	t.sup.Dispatch(remoteID, pkt)
}

// Close shuts down the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}
