package discv5

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"sync"

	discv5crypto "github.com/eth2030/discv5/crypto"
	"github.com/eth2030/discv5/enr"
	"github.com/eth2030/discv5/log"
)

// ErrBacklogFull is returned when a Packer's pending-outbound queue is full
// while a handshake is in progress.
var ErrBacklogFull = errors.New("discv5: handshake backlog full")

// ErrNoRemoteKey is returned when a handshake needs the remote's static
// public key but the ENR store has never seen it.
var ErrNoRemoteKey = errors.New("discv5: remote static key unknown")

type packerState int

const (
	statePreHandshake packerState = iota
	stateInHandshakeInitiator
	stateInHandshakeRecipient
	statePostHandshake
)

// PacketSink sends a raw, already-encoded packet to a peer. Implemented by
// the UDP transport.
type PacketSink interface {
	SendPacket(remoteID [32]byte, data []byte) error
}

// MessageSink receives a decrypted, application-level message body once a
// session is established. Implemented by the dispatcher.
type MessageSink interface {
	HandleMessage(remoteID [32]byte, body []byte)
}

// Packer is the per-peer session state machine described by spec.md section
// 4.4: every peer has exactly one Packer, which is either PreHandshake,
// InHandshake (as initiator or recipient), or PostHandshake holding a live
// set of session keys. A mutex serializes all packet processing for this
// peer, which is the Go-idiomatic analogue of running every peer's packets
// through a single-threaded cooperative scheduler: there is never more than
// one goroutine inside the state-mutating portion of HandlePacket/SendMessage
// for the same Packer at once. The mutex is never held while calling out to
// the PacketSink or the MessageSink: every locked helper below returns the
// bytes that need to go out (and parks decrypted messages in inbox), and the
// actual I/O and delivery happen after unlocking, so a synchronous transport
// (including a loopback one in tests) or a message handler that replies
// can't deadlock by feeding back into this same Packer.
type Packer struct {
	mu sync.Mutex

	localID  [32]byte
	remoteID [32]byte
	scheme   IdentityScheme
	localKey *ecdsa.PrivateKey
	localENR func() *enr.Record
	enrs     *ENRStore
	cfg      *Config
	log      *log.Logger
	sink     PacketSink
	messages MessageSink

	state       packerState
	initiatorHS *InitiatorHandshake
	recipientHS *RecipientHandshake
	keys        discv5crypto.SessionKeys
	isInitiator bool // which side of the established session we played

	backlog [][]byte
	inbox   [][]byte // decrypted messages awaiting delivery after unlock
}

// NewPacker creates a Packer for the given remote peer, starting in
// PreHandshake state.
func NewPacker(localID, remoteID [32]byte, scheme IdentityScheme, localKey *ecdsa.PrivateKey, localENR func() *enr.Record, enrs *ENRStore, cfg *Config, sink PacketSink, messages MessageSink) *Packer {
	return &Packer{
		localID:  localID,
		remoteID: remoteID,
		scheme:   scheme,
		localKey: localKey,
		localENR: localENR,
		enrs:     enrs,
		cfg:      cfg,
		log:      cfg.Log.Module("packer").WithNodeID("remote", remoteID),
		sink:     sink,
		messages: messages,
		state:    statePreHandshake,
	}
}

// State reports the Packer's current state, for tests and diagnostics.
func (p *Packer) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case statePreHandshake:
		return "pre-handshake"
	case stateInHandshakeInitiator:
		return "in-handshake-initiator"
	case stateInHandshakeRecipient:
		return "in-handshake-recipient"
	case statePostHandshake:
		return "post-handshake"
	default:
		return "unknown"
	}
}

// SendMessage encrypts and sends an application message to this peer. If no
// session exists yet, it starts a handshake (sending a probing AuthTagPacket)
// and queues the message to be sent once the handshake completes.
func (p *Packer) SendMessage(body []byte) error {
	p.mu.Lock()
	var toSend []byte
	var err error
	switch p.state {
	case statePostHandshake:
		toSend, err = p.encryptAndFrameLocked(body)
	case statePreHandshake:
		toSend, err = p.startInitiatorHandshakeLocked()
		if err == nil {
			err = p.queueLocked(body)
		}
	default:
		err = p.queueLocked(body)
	}
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if toSend != nil {
		return p.sink.SendPacket(p.remoteID, toSend)
	}
	return nil
}

func (p *Packer) queueLocked(body []byte) error {
	if len(p.backlog) >= p.cfg.HandshakeBacklogSize {
		return ErrBacklogFull
	}
	p.backlog = append(p.backlog, body)
	return nil
}

func (p *Packer) startInitiatorHandshakeLocked() ([]byte, error) {
	var localRecord *enr.Record
	if p.localENR != nil {
		localRecord = p.localENR()
	}
	p.initiatorHS = NewInitiatorHandshake(p.scheme, p.localKey, p.localID, p.remoteID, localRecord, p.enrs.Seq(p.remoteID))
	p.state = stateInHandshakeInitiator

	probe, err := p.initiatorHS.BuildProbe()
	if err != nil {
		p.resetLocked()
		return nil, err
	}
	return probe, nil
}

func (p *Packer) encryptAndFrameLocked(body []byte) ([]byte, error) {
	nonce := make([]byte, discv5crypto.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	tag := ComputeTag(p.remoteID, p.localID)
	aad, err := AuthTagAAD(tag, nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := discv5crypto.EncryptGCM(p.keys.EncryptKey(p.isInitiator), nonce, aad, body)
	if err != nil {
		return nil, err
	}
	return EncodeAuthTagPacket(p.remoteID, p.localID, nonce, ciphertext)
}

// HandlePacket processes one decoded packet addressed to this peer, driving
// the state machine forward and delivering any resulting plaintext message
// to the MessageSink. Packets that fail validation at any step are dropped:
// per spec.md section 7 a malformed or undecryptable packet never tears down
// an already-established session by itself, except that a decrypt failure on
// a PostHandshake session resets it to PreHandshake so a fresh handshake can
// be attempted.
func (p *Packer) HandlePacket(pkt *Packet) {
	p.mu.Lock()
	var toSend [][]byte
	switch pkt.Kind {
	case KindWhoAreYou:
		toSend = p.handleWhoAreYouLocked(pkt)
	case KindAuthHeader:
		toSend = p.handleAuthHeaderLocked(pkt)
	case KindAuthTag:
		toSend = p.handleAuthTagLocked(pkt)
	}
	inbox := p.inbox
	p.inbox = nil
	p.mu.Unlock()

	for _, data := range toSend {
		if err := p.sink.SendPacket(p.remoteID, data); err != nil {
			p.log.Warn("send failed", "err", err)
		}
	}
	for _, body := range inbox {
		p.messages.HandleMessage(p.remoteID, body)
	}
}

func (p *Packer) handleWhoAreYouLocked(pkt *Packet) [][]byte {
	if p.state != stateInHandshakeInitiator || p.initiatorHS == nil {
		p.log.Debug("unexpected whoareyou", "state", p.state)
		return nil
	}
	if !p.initiatorHS.MatchesWhoAreYou(pkt) {
		p.log.Debug("whoareyou token mismatch")
		return nil
	}

	remotePub := p.enrs.StaticPubkey(p.remoteID)
	if remotePub == nil {
		p.log.Warn("dropping handshake", "err", ErrNoRemoteKey)
		p.resetLocked()
		return nil
	}

	var initial []byte
	if len(p.backlog) > 0 {
		initial = p.backlog[0]
	}
	authPkt, keys, err := p.initiatorHS.Complete(pkt, remotePub, initial)
	if err != nil {
		p.log.Debug("initiator handshake failed", "err", err)
		p.resetLocked()
		return nil
	}

	p.keys = keys
	p.isInitiator = true
	p.state = statePostHandshake
	p.initiatorHS = nil

	out := [][]byte{authPkt}
	if len(p.backlog) > 0 {
		out = append(out, p.flushBacklogLocked(p.backlog[1:])...)
	}
	p.backlog = nil
	return out
}

func (p *Packer) handleAuthHeaderLocked(pkt *Packet) [][]byte {
	if p.state != stateInHandshakeRecipient || p.recipientHS == nil {
		p.log.Debug("unexpected auth header", "state", p.state)
		return nil
	}
	knownPub := p.enrs.StaticPubkey(p.remoteID)
	keys, plaintext, remoteENR, err := p.recipientHS.Complete(pkt, knownPub, p.enrs.Seq(p.remoteID))
	if err != nil {
		p.log.Debug("recipient handshake failed", "err", err)
		p.resetLocked()
		return nil
	}
	if remoteENR != nil {
		if _, err := p.enrs.Insert(p.remoteID, remoteENR); err != nil {
			p.log.Debug("ignoring remote ENR", "err", err)
		}
	}

	p.keys = keys
	p.isInitiator = false
	p.state = statePostHandshake
	p.recipientHS = nil
	if p.messages != nil && len(plaintext) > 0 {
		p.inbox = append(p.inbox, plaintext)
	}

	out := p.flushBacklogLocked(p.backlog)
	p.backlog = nil
	return out
}

func (p *Packer) flushBacklogLocked(msgs [][]byte) [][]byte {
	var out [][]byte
	for _, msg := range msgs {
		pkt, err := p.encryptAndFrameLocked(msg)
		if err != nil {
			p.log.Warn("flush backlog failed", "err", err)
			continue
		}
		out = append(out, pkt)
	}
	return out
}

func (p *Packer) handleAuthTagLocked(pkt *Packet) [][]byte {
	if p.state == statePostHandshake {
		tag := ComputeTag(p.localID, p.remoteID)
		aad, err := AuthTagAAD(tag, pkt.AuthTag)
		if err == nil {
			plaintext, derr := discv5crypto.DecryptGCM(p.keys.DecryptKey(p.isInitiator), pkt.AuthTag, aad, pkt.Ciphertext)
			if derr == nil {
				if p.messages != nil {
					p.inbox = append(p.inbox, plaintext)
				}
				return nil
			}
			p.log.Debug("decrypt failed, resetting session", "err", derr)
		}
		p.resetLocked()
	}

	// No session (or it just got reset): this AuthTagPacket is a handshake
	// probe. Issue a WhoAreYou challenge and switch to InHandshake(recipient).
	if p.state != statePreHandshake {
		p.log.Debug("unexpected auth tag", "state", p.state)
		return nil
	}
	idNonce := make([]byte, idNonceSize)
	if _, err := rand.Read(idNonce); err != nil {
		return nil
	}
	p.recipientHS = NewRecipientHandshake(p.scheme, p.localKey, p.localID, p.remoteID, pkt.AuthTag, idNonce)
	p.state = stateInHandshakeRecipient

	challenge, err := p.recipientHS.BuildChallenge(p.enrs.Seq(p.remoteID))
	if err != nil {
		p.resetLocked()
		return nil
	}
	return [][]byte{challenge}
}

func (p *Packer) resetLocked() {
	p.state = statePreHandshake
	p.initiatorHS = nil
	p.recipientHS = nil
	p.keys = discv5crypto.SessionKeys{}
}
