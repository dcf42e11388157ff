// Package memory provides an in-process relay and sockets for tests, examples
// and single-binary setups.
//
// A Hub plays the relay: requests emitted on the RPC channel have their address
// segment stripped and are forwarded to the addressed socket, whose reply is
// routed back to the caller's acknowledgement. Requests with an empty address
// are answered by handlers registered on the hub itself.
package memory

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/naveego/live-go/message"
	"github.com/naveego/live-go/transport"
)

// DefaultChannel is the event name requests travel on.
const DefaultChannel = "rpc"

// RelayHandler answers a request addressed to the relay itself.
type RelayHandler func(param json.RawMessage) (any, error)

type Hub struct {
	channel string
	logger  *zap.Logger

	mu       sync.RWMutex
	sockets  map[string]*Socket
	handlers map[string]RelayHandler
}

type Option func(*Hub)

// WithChannel changes the event name the hub routes as requests.
func WithChannel(name string) Option {
	return func(h *Hub) {
		if name != "" {
			h.channel = name
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		channel:  DefaultChannel,
		logger:   zap.NewNop(),
		sockets:  make(map[string]*Socket),
		handlers: make(map[string]RelayHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect attaches a new socket with a fresh connection id.
func (h *Hub) Connect() *Socket {
	s := &Socket{
		Emitter: transport.NewEmitter(),
		id:      uuid.NewString(),
		hub:     h,
	}
	h.mu.Lock()
	h.sockets[s.id] = s
	h.mu.Unlock()
	return s
}

// Handle registers fn for relay-addressed calls to method, such as
// "Live.Authenticate".
func (h *Hub) Handle(method string, fn RelayHandler) {
	h.mu.Lock()
	h.handlers[method] = fn
	h.mu.Unlock()
}

// Peers returns the ids of the attached sockets.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sockets))
	for id := range h.sockets {
		ids = append(ids, id)
	}
	return ids
}

// Kick drops the socket with the given id as if the relay closed it.
func (h *Hub) Kick(id string) bool {
	s, ok := h.socket(id)
	if !ok {
		return false
	}
	s.close("io server disconnect")
	return true
}

func (h *Hub) socket(id string) (*Socket, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sockets[id]
	return s, ok
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	delete(h.sockets, id)
	h.mu.Unlock()
}

func (h *Hub) route(from *Socket, event string, data json.RawMessage, ack transport.AckFunc) {
	if event == h.channel {
		h.forward(from, data, ack)
		return
	}
	h.broadcast(from, event, data, ack)
}

// forward delivers one request to its addressee.
func (h *Hub) forward(from *Socket, data json.RawMessage, ack transport.AckFunc) {
	var req message.Request
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("relay dropping undecodable request", zap.String("from", from.id), zap.Error(err))
		return
	}
	address, method := message.SplitMethod(req.Method)
	req.Method = method

	if address == "" {
		go h.answer(&req, ack)
		return
	}

	target, ok := h.socket(address)
	if !ok {
		h.logger.Debug("relay target not found", zap.String("address", address))
		go respond(ack, &message.Response{ID: req.ID, Error: message.NewError(message.CodeNotFound, "peer not found: "+address)})
		return
	}

	payload, err := json.Marshal(&req)
	if err != nil {
		h.logger.Warn("relay re-encode failed", zap.Error(err))
		return
	}
	go target.Dispatch(h.channel, payload, relayReply(ack))
}

// answer runs a relay-side handler.
func (h *Hub) answer(req *message.Request, ack transport.AckFunc) {
	h.mu.RLock()
	fn, ok := h.handlers[req.Method]
	h.mu.RUnlock()

	resp := &message.Response{ID: req.ID}
	switch {
	case !ok:
		resp.Error = message.NewError(message.CodeNotFound, "method not found: "+req.Method)
	default:
		result, err := h.call(fn, req)
		if err != nil {
			resp.Error = message.ErrorFrom(err)
			break
		}
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = message.ErrorFrom(err)
			break
		}
		resp.Result = raw
	}
	respond(ack, resp)
}

// call runs fn, turning a panic into a 500.
func (h *Hub) call(fn RelayHandler, req *message.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("relay handler panic",
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			result, err = nil, message.NewError(message.CodeInternal, "internal error")
		}
	}()
	return fn(req.Param())
}

// broadcast delivers a non-request event to every other socket. When the
// sender asked for an ack, the first reply wins.
func (h *Hub) broadcast(from *Socket, event string, data json.RawMessage, ack transport.AckFunc) {
	h.mu.RLock()
	targets := make([]*Socket, 0, len(h.sockets))
	for id, s := range h.sockets {
		if id != from.id {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	reply := relayReply(ack)
	for _, s := range targets {
		go s.Dispatch(event, data, reply)
	}
}

func relayReply(ack transport.AckFunc) transport.Reply {
	if ack == nil {
		return nil
	}
	return transport.OnceReply(func(data any) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		go ack(raw)
		return nil
	})
}

func respond(ack transport.AckFunc, resp *message.Response) {
	if ack == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	ack(raw)
}
