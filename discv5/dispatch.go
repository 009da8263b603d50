package discv5

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/eth2030/discv5/log"
)

// Errors returned by the Dispatcher.
var (
	ErrDispatcherClosed   = errors.New("discv5: dispatcher closed")
	ErrRequestTimeout     = errors.New("discv5: request timed out")
	ErrHandlerAlreadySet  = errors.New("discv5: handler already registered for this message type")
	ErrRequestIDExhausted = errors.New("discv5: could not allocate a free request id")
	ErrUnexpectedResponse = errors.New("discv5: response message type did not match the request")
)

// Handler processes an inbound request message and returns the response to
// send back, or an error to silently drop the request. Handlers are
// registered per message type; at most one handler per type, matching
// spec.md section 4.6.
type Handler func(remoteID [32]byte, msg Message) (Message, error)

type outboundRequest struct {
	respCh chan Message
}

// Dispatcher correlates outbound requests with their responses by
// (remote node id, request id), and routes inbound requests to registered
// per-type handlers. It is the message-level layer sitting on top of the
// Supervisor's per-peer Packers, grounded on the same tracked-request /
// timeout idiom as a classic request manager: a map of in-flight requests,
// random request ids resampled on collision, and a timer per Request call
// (an entry is removed when its Request call returns; there is no
// background sweep).
type Dispatcher struct {
	mu       sync.Mutex
	cfg      *Config
	sup      *Supervisor
	log      *log.Logger
	pending  map[[32]byte]map[uint64]*outboundRequest
	handlers map[byte]Handler
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a Dispatcher bound to sup for sending requests and
// responses through established Packer sessions.
func NewDispatcher(sup *Supervisor, cfg *Config) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		sup:      sup,
		log:      cfg.Log.Module("dispatch"),
		pending:  make(map[[32]byte]map[uint64]*outboundRequest),
		handlers: make(map[byte]Handler),
		stop:     make(chan struct{}),
	}
	return d
}

// RegisterHandler installs the handler for a given message type. Calling it
// twice for the same type is an error, per spec.md section 4.6's "each
// request type has exactly one handler" invariant.
func (d *Dispatcher) RegisterHandler(msgType byte, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[msgType]; exists {
		return ErrHandlerAlreadySet
	}
	d.handlers[msgType] = h
	return nil
}

// Request sends msg to remoteID and blocks until a correlated response
// arrives, ctx is done, or Config.RequestTimeout elapses.
func (d *Dispatcher) Request(ctx context.Context, remoteID [32]byte, msg Message) (Message, error) {
	reqID, respCh, err := d.track(remoteID, msg)
	if err != nil {
		return nil, err
	}
	defer d.untrack(remoteID, reqID)

	body, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	if err := d.sup.Send(remoteID, body); err != nil {
		return nil, err
	}

	timeout := d.cfg.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.stop:
		return nil, ErrDispatcherClosed
	}
}

// track registers msg's request id as awaiting a response, allocating a
// fresh one first if msg's id is already in flight for remoteID (bounded by
// Config.MaxRequestIDRetries).
func (d *Dispatcher) track(remoteID [32]byte, msg Message) (uint64, chan Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, nil, ErrDispatcherClosed
	}

	byPeer, ok := d.pending[remoteID]
	if !ok {
		byPeer = make(map[uint64]*outboundRequest)
		d.pending[remoteID] = byPeer
	}

	id := msg.GetRequestID()
	for attempt := 0; ; attempt++ {
		if _, taken := byPeer[id]; !taken {
			break
		}
		if attempt >= d.cfg.MaxRequestIDRetries {
			return 0, nil, ErrRequestIDExhausted
		}
		var err error
		id, err = randomRequestID()
		if err != nil {
			return 0, nil, err
		}
	}
	setRequestID(msg, id)

	respCh := make(chan Message, 1)
	byPeer[id] = &outboundRequest{respCh: respCh}
	return id, respCh, nil
}

func (d *Dispatcher) untrack(remoteID [32]byte, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if byPeer, ok := d.pending[remoteID]; ok {
		delete(byPeer, id)
		if len(byPeer) == 0 {
			delete(d.pending, remoteID)
		}
	}
}

// HandleMessage implements MessageSink: it decodes a decrypted packet body
// and either delivers it to a waiting Request call or runs the registered
// handler for its type and sends back the handler's response.
func (d *Dispatcher) HandleMessage(remoteID [32]byte, body []byte) {
	msg, err := DecodeMessage(body)
	if err != nil {
		d.log.WithNodeID("remote", remoteID).Debug("dropping undecodable message", "err", err)
		return
	}

	d.mu.Lock()
	var waiting *outboundRequest
	if byPeer, ok := d.pending[remoteID]; ok {
		waiting = byPeer[msg.GetRequestID()]
	}
	h, hasHandler := d.handlers[msg.Code()]
	d.mu.Unlock()

	// spec.md section 4.6: a message that is both a registered request
	// type and the answer to a pending Request() is delivered to both,
	// logged as a warning (this should only ever happen by coincidence of
	// request-id reuse across message types, since a Ping never answers a
	// FindNode and vice versa).
	if waiting != nil && hasHandler {
		d.log.WithNodeID("remote", remoteID).Warn("message matches both a pending request and a registered handler", "code", msg.Code(), "request_id", msg.GetRequestID())
	}

	if waiting != nil {
		waiting.respCh <- msg
	}
	if !hasHandler {
		if waiting == nil {
			d.log.WithNodeID("remote", remoteID).Debug("no handler for message type", "code", msg.Code())
		}
		return
	}

	resp, err := h(remoteID, msg)
	if err != nil {
		d.log.WithNodeID("remote", remoteID).Debug("handler declined request", "code", msg.Code(), "err", err)
		return
	}
	if resp == nil {
		return
	}
	respBody, err := EncodeMessage(resp)
	if err != nil {
		d.log.Warn("encode response failed", "err", err)
		return
	}
	if err := d.sup.Send(remoteID, respBody); err != nil {
		d.log.WithNodeID("remote", remoteID).Warn("send response failed", "err", err)
	}
}

// Close stops the dispatcher, unblocking any in-flight Request calls with
// ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
	})
}

func randomRequestID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// setRequestID writes id back into msg via a type switch over the concrete
// message structs; Message only exposes a getter because most call sites
// never need to mutate one after construction.
func setRequestID(msg Message, id uint64) {
	switch m := msg.(type) {
	case *Ping:
		m.RequestID = id
	case *Pong:
		m.RequestID = id
	case *FindNode:
		m.RequestID = id
	case *Nodes:
		m.RequestID = id
	case *ReqTicket:
		m.RequestID = id
	case *Ticket:
		m.RequestID = id
	case *RegTopic:
		m.RequestID = id
	case *RegConfirmation:
		m.RequestID = id
	case *TopicQuery:
		m.RequestID = id
	}
}
