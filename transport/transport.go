// Package transport defines the duplex event channel the RPC client rides on.
//
// The contract mirrors a publish/subscribe real-time socket: named events can
// be emitted with or without an acknowledgement callback, listeners subscribe
// by event name, and each connection has a stable identifier assigned by the
// relay. Lifecycle events are exposed for pass-through registration only.
package transport

import (
	"encoding/json"
	"errors"
	"sync/atomic"
)

var (
	ErrClosed         = errors.New("transport: socket closed")
	ErrNotConnected   = errors.New("transport: socket not connected")
	ErrAlreadyReplied = errors.New("transport: event already acknowledged")
)

// Lifecycle event names.
const (
	EventConnect          = "connect"
	EventConnectError     = "connect_error"
	EventConnectTimeout   = "connect_timeout"
	EventDisconnect       = "disconnect"
	EventError            = "error"
	EventReconnect        = "reconnect"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnecting     = "reconnecting"
	EventReconnectError   = "reconnect_error"
	EventReconnectFailed  = "reconnect_failed"
)

// AckFunc receives the acknowledgement payload of an emitted event.
type AckFunc func(data json.RawMessage)

// Reply acknowledges an inbound event. Only the first call is delivered; later
// calls return ErrAlreadyReplied.
type Reply func(data any) error

// Listener handles an inbound event. reply is nil when the sender did not ask
// for an acknowledgement.
type Listener func(data json.RawMessage, reply Reply)

// LifecycleFunc receives a lifecycle event. arg is event specific: an error for
// "error" and "connect_error", a reason string for "disconnect", nil otherwise.
type LifecycleFunc func(arg any)

// Socket is one connection to the relay.
type Socket interface {
	// ID returns the relay-assigned connection identifier.
	ID() string
	Emit(event string, data any) error
	EmitWithAck(event string, data any, ack AckFunc) error
	On(event string, l Listener) error
	OnLifecycle(event string, fn LifecycleFunc) error
	Close() error
}

// OnceReply wraps send so that it runs at most once.
func OnceReply(send func(data any) error) Reply {
	var done atomic.Bool
	return func(data any) error {
		if !done.CompareAndSwap(false, true) {
			return ErrAlreadyReplied
		}
		return send(data)
	}
}
