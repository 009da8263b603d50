package discv5

import (
	"crypto/ecdsa"
	"time"

	"github.com/eth2030/discv5/enr"
	"github.com/eth2030/discv5/log"
)

// Config controls the behavior of a discv5 Service. Zero-value fields are
// replaced by their defaults in NewService, following the teacher's
// applyDefaults convention rather than requiring every caller to specify a
// complete configuration.
type Config struct {
	// PrivateKey is the node's long-term secp256k1 identity key. It signs
	// the local ENR and every id-nonce challenge during handshakes.
	PrivateKey *ecdsa.PrivateKey

	// ListenAddr is the local UDP address to bind, e.g. "0.0.0.0:9000".
	ListenAddr string

	// BootstrapENRs seeds the routing table at startup.
	BootstrapENRs []*enr.Record

	// BucketSize is the Kademlia bucket capacity (K). Default: 16.
	BucketSize int

	// ReplacementCacheSize bounds the per-bucket replacement cache.
	// Default: 10.
	ReplacementCacheSize int

	// PingInterval is the cadence of the routing-table ping prober.
	// Default: 10 minutes.
	PingInterval time.Duration

	// RequestTimeout is the default timeout for dispatcher request()
	// calls and ping probes. Default: 1 second.
	RequestTimeout time.Duration

	// HandshakeBacklogSize bounds the number of outbound messages a
	// Packer queues while a handshake is in flight. Default: 8.
	HandshakeBacklogSize int

	// MaxNodesPerPacket bounds how many ENRs are packed into a single
	// Nodes message before it is split into multiple packets with a
	// shared total. Default: 3 (keeps each packet comfortably under the
	// 1280-byte ceiling).
	MaxNodesPerPacket int

	// MaxSessions bounds the number of Packers the supervisor keeps. At
	// this bound no Packer is spawned for a new peer, and that peer's
	// packets and messages are dropped; existing Packers are not evicted.
	// Default: 1000.
	MaxSessions int

	// MaxRequestIDRetries bounds how many times the dispatcher resamples
	// a request_id on collision before giving up. Default: 8.
	MaxRequestIDRetries int

	// Log is the base logger; components derive module-scoped children
	// from it via Log.Module(name). Defaults to log.Default().
	Log *log.Logger
}

func (c *Config) applyDefaults() {
	if c.BucketSize <= 0 {
		c.BucketSize = 16
	}
	if c.ReplacementCacheSize <= 0 {
		c.ReplacementCacheSize = 10
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 1 * time.Second
	}
	if c.HandshakeBacklogSize <= 0 {
		c.HandshakeBacklogSize = 8
	}
	if c.MaxNodesPerPacket <= 0 {
		c.MaxNodesPerPacket = 3
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1000
	}
	if c.MaxRequestIDRetries <= 0 {
		c.MaxRequestIDRetries = 8
	}
	if c.Log == nil {
		c.Log = log.Default()
	}
}
