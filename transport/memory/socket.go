package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/naveego/live-go/transport"
)

// Socket is one connection attached to a Hub.
type Socket struct {
	*transport.Emitter

	id     string
	hub    *Hub
	closed atomic.Bool
}

func (s *Socket) ID() string {
	return s.id
}

func (s *Socket) Emit(event string, data any) error {
	return s.emit(event, data, nil)
}

func (s *Socket) EmitWithAck(event string, data any, ack transport.AckFunc) error {
	if ack == nil {
		return errors.New("memory: nil ack callback")
	}
	return s.emit(event, data, ack)
}

func (s *Socket) emit(event string, data any, ack transport.AckFunc) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	s.hub.route(s, event, raw, ack)
	return nil
}

// Dispatch drops deliveries to a closed socket.
func (s *Socket) Dispatch(event string, data json.RawMessage, reply transport.Reply) {
	if s.closed.Load() {
		return
	}
	s.Emitter.Dispatch(event, data, reply)
}

// Close detaches the socket from the hub.
func (s *Socket) Close() error {
	s.close("io client disconnect")
	return nil
}

func (s *Socket) close(reason string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.hub.detach(s.id)
	s.PublishLifecycle(transport.EventDisconnect, reason)
}

var _ transport.Socket = (*Socket)(nil)
