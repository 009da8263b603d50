package discv5

import (
	"net"
	"testing"

	discv5crypto "github.com/eth2030/discv5/crypto"
	"github.com/eth2030/discv5/enr"
)

func TestTransportSendPacketUnknownAddr(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no udp available in this environment: %v", err)
	}
	defer conn.Close()

	priv, _ := discv5crypto.GenerateKey()
	selfENR := &enr.Record{Seq: 1}
	enr.Sign(selfENR, "v4", priv)
	localID, _ := selfENR.NodeID()

	cfg := &Config{}
	cfg.applyDefaults()
	sup := NewSupervisor(localID, v4IdentityScheme{}, priv, func() *enr.Record { return selfENR }, NewENRStore(), cfg, nil, nil)
	tr := NewTransport(conn, localID, sup, cfg)

	if err := tr.SendPacket(randID(), []byte("x")); err != ErrNoRemoteKey {
		t.Fatalf("expected ErrNoRemoteKey for an unrecorded peer, got %v", err)
	}
}

func TestTransportRememberAndSend(t *testing.T) {
	connA, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no udp available in this environment: %v", err)
	}
	defer connA.Close()
	connB, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no udp available in this environment: %v", err)
	}
	defer connB.Close()

	priv, _ := discv5crypto.GenerateKey()
	selfENR := &enr.Record{Seq: 1}
	enr.Sign(selfENR, "v4", priv)
	localID, _ := selfENR.NodeID()

	cfg := &Config{}
	cfg.applyDefaults()
	sup := NewSupervisor(localID, v4IdentityScheme{}, priv, func() *enr.Record { return selfENR }, NewENRStore(), cfg, nil, nil)
	tr := NewTransport(connA, localID, sup, cfg)

	peerID := randID()
	tr.Remember(peerID, connB.LocalAddr())

	if err := tr.SendPacket(peerID, []byte("hello")); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	buf := make([]byte, 64)
	n, _, err := connB.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("received %q, want %q", buf[:n], "hello")
	}
}
