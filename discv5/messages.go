package discv5

import (
	"errors"

	"github.com/eth2030/discv5/rlp"
)

// Message type codes. Codes are contiguous starting from 1, per spec.
const (
	TypePing            = 1
	TypePong            = 2
	TypeFindNode        = 3
	TypeNodes           = 4
	TypeReqTicket       = 5
	TypeTicket          = 6
	TypeRegTopic        = 7
	TypeRegConfirmation = 8
	TypeTopicQuery      = 9
)

// ErrUnknownMessageType is returned by DecodeMessage for a message byte
// outside the registered 1-9 range.
var ErrUnknownMessageType = errors.New("discv5: unknown message type")

// Message is implemented by every discv5 message payload. Every message
// carries a request_id as its first wire field, used by the dispatcher to
// correlate requests with responses.
type Message interface {
	Code() byte
	GetRequestID() uint64
}

// Ping requests the recipient's ENR sequence number and liveness.
type Ping struct {
	RequestID uint64
	ENRSeq    uint64
}

func (m *Ping) Code() byte           { return TypePing }
func (m *Ping) GetRequestID() uint64 { return m.RequestID }

// Pong answers a Ping, reporting the sender's own ENR sequence number and
// the source address it observed the Ping arrive from (used for endpoint
// voting).
type Pong struct {
	RequestID  uint64
	ENRSeq     uint64
	PacketIP   []byte
	PacketPort uint16
}

func (m *Pong) Code() byte           { return TypePong }
func (m *Pong) GetRequestID() uint64 { return m.RequestID }

// FindNode asks for ENRs at a given log-distance from the recipient.
// Distance 0 means "your own record".
type FindNode struct {
	RequestID uint64
	Distance  uint64
}

func (m *FindNode) Code() byte           { return TypeFindNode }
func (m *FindNode) GetRequestID() uint64 { return m.RequestID }

// Nodes answers FindNode. A single logical answer may span several Nodes
// messages sharing the same Total and RequestID when it does not fit in one
// packet.
type Nodes struct {
	RequestID uint64
	Total     uint64
	ENRs      [][]byte // each element is a canonically encoded ENR record
}

func (m *Nodes) Code() byte           { return TypeNodes }
func (m *Nodes) GetRequestID() uint64 { return m.RequestID }

// ReqTicket requests a registration ticket for a topic.
type ReqTicket struct {
	RequestID uint64
	Topic     []byte
}

func (m *ReqTicket) Code() byte           { return TypeReqTicket }
func (m *ReqTicket) GetRequestID() uint64 { return m.RequestID }

// Ticket answers ReqTicket with an opaque ticket and a suggested wait time
// (in milliseconds) before registering.
type Ticket struct {
	RequestID uint64
	Ticket    []byte
	WaitTime  uint64
}

func (m *Ticket) Code() byte           { return TypeTicket }
func (m *Ticket) GetRequestID() uint64 { return m.RequestID }

// RegTopic presents a previously obtained ticket to register under a topic.
type RegTopic struct {
	RequestID uint64
	Ticket    []byte
}

func (m *RegTopic) Code() byte           { return TypeRegTopic }
func (m *RegTopic) GetRequestID() uint64 { return m.RequestID }

// RegConfirmation answers RegTopic.
type RegConfirmation struct {
	RequestID  uint64
	Registered bool
}

func (m *RegConfirmation) Code() byte           { return TypeRegConfirmation }
func (m *RegConfirmation) GetRequestID() uint64 { return m.RequestID }

// TopicQuery asks a peer to return nodes registered under a topic.
type TopicQuery struct {
	RequestID uint64
	Topic     []byte
}

func (m *TopicQuery) Code() byte           { return TypeTopicQuery }
func (m *TopicQuery) GetRequestID() uint64 { return m.RequestID }

// EncodeMessage serializes a message as [type_byte] || RLP(fields), the
// inner-message layout used inside a decrypted discv5 packet.
func EncodeMessage(m Message) ([]byte, error) {
	body, err := rlp.EncodeToBytes(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(body))
	out[0] = m.Code()
	copy(out[1:], body)
	return out, nil
}

// DecodeMessage parses the inner-message layout produced by EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < 1 {
		return nil, ErrUnknownMessageType
	}
	code, body := data[0], data[1:]

	var m Message
	switch code {
	case TypePing:
		m = &Ping{}
	case TypePong:
		m = &Pong{}
	case TypeFindNode:
		m = &FindNode{}
	case TypeNodes:
		m = &Nodes{}
	case TypeReqTicket:
		m = &ReqTicket{}
	case TypeTicket:
		m = &Ticket{}
	case TypeRegTopic:
		m = &RegTopic{}
	case TypeRegConfirmation:
		m = &RegConfirmation{}
	case TypeTopicQuery:
		m = &TopicQuery{}
	default:
		return nil, ErrUnknownMessageType
	}
	if err := rlp.DecodeBytes(body, m); err != nil {
		return nil, err
	}
	return m, nil
}
