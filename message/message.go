// Package message defines the envelopes exchanged on the shared RPC channel.
//
// A Request travels from the caller through the relay to the addressed peer.
// The peer answers through the channel's acknowledgement with a Response that
// carries the same id:
//
//	caller ──Request{id:"7", method:"peerA.Foo.Bar"}──► relay
//	relay  ──Request{id:"7", method:"Foo.Bar"}───────► peerA
//	peerA  ──ack Response{id:"7", result:...}────────► relay ──► caller
//
// Notifications reuse the Request shape without an id and are emitted on an
// event named after the method instead of the RPC channel.
package message

import (
	"encoding/json"
	"strings"
)

// MethodSeparator joins the address segment and the handler method.
const MethodSeparator = "."

// Request carries one invocation.
//
//   - Outbound: Method is "{address}.{handler}.{operation}".
//   - Inbound:  Method is "{handler}.{operation}", the relay has stripped the address.
//   - Notification: ID is empty.
type Request struct {
	ID     string            `json:"id,omitempty"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// Param returns the first parameter, or nil when the request has none.
func (r *Request) Param() json.RawMessage {
	if len(r.Params) == 0 {
		return nil
	}
	return r.Params[0]
}

// Response answers the Request with the same ID. When Error is set the call
// failed and Result must be ignored.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.Error != nil
}

// NewRequest builds a request whose single parameter is the JSON encoding of param.
func NewRequest(id, method string, param any) (*Request, error) {
	raw, err := json.Marshal(param)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:     id,
		Method: method,
		Params: []json.RawMessage{raw},
	}, nil
}

// JoinMethod composes the outbound method string. An empty address is legal and
// addresses the relay itself, yielding a leading separator (".Live.Authenticate").
func JoinMethod(address, method string) string {
	return address + MethodSeparator + method
}

// SplitMethod separates the leading address segment from the rest of the method.
// It is what the relay does before forwarding. A method without any separator
// has no address.
func SplitMethod(full string) (address, method string) {
	idx := strings.Index(full, MethodSeparator)
	if idx < 0 {
		return "", full
	}
	return full[:idx], full[idx+1:]
}
