package client

import (
	"context"
	"encoding/json"

	"github.com/naveego/live-go/message"
)

// Namespace scopes calls and handlers to one handler name on one peer, so
// callers write ns.Call(ctx, "Bar", x) instead of
// c.Call(ctx, peer, "Foo.Bar", x). Any number of namespaces may share a client.
type Namespace struct {
	client  *Client
	address string
	name    string
}

// Namespace returns a facade for handler name on the peer at address.
func (c *Client) Namespace(address, name string) *Namespace {
	return &Namespace{client: c, address: address, name: name}
}

func (n *Namespace) Address() string { return n.address }

func (n *Namespace) Name() string { return n.name }

func (n *Namespace) Call(ctx context.Context, op string, param any) (json.RawMessage, error) {
	return n.client.Call(ctx, n.address, n.qualify(op), param)
}

func (n *Namespace) Go(op string, param any) *Call {
	return n.client.Go(n.address, n.qualify(op), param)
}

// Notify emits a notification named "{name}.{op}". Notifications are not
// addressed, so the namespace address is not used.
func (n *Namespace) Notify(op string, param any) error {
	return n.client.Notify(n.qualify(op), param)
}

// Handle serves inbound "{name}.{op}" requests on the local client.
func (n *Namespace) Handle(op string, h Handler) {
	n.client.OnRequest(n.qualify(op), h)
}

func (n *Namespace) qualify(op string) string {
	if n.name == "" {
		return op
	}
	return n.name + message.MethodSeparator + op
}
