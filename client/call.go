package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/naveego/live-go/message"
)

// Call is one outstanding request. It is delivered on Done exactly once, after
// Result or Error has been set.
type Call struct {
	ID      string
	Address string // Peer the request was sent to, empty for the relay
	Method  string
	Param   any
	Result  json.RawMessage
	Error   error // *message.ErrorInfo for remote failures
	Done    chan *Call

	start time.Time
}

func (call *Call) done() {
	// Done is buffered and each call resolves once, so this never blocks.
	call.Done <- call
}

// Go sends a request to the peer at address and returns without waiting.
// method names the remote handler ("Foo.Bar"); the address is prepended for
// the relay. The returned Call is delivered on its Done channel when the
// response arrives or the request could not be sent.
//
// A Call started with Go has no expiry. Use Call for a context-bounded wait.
func (c *Client) Go(address, method string, param any) *Call {
	call := &Call{
		ID:      strconv.FormatUint(c.seq.Add(1), 10),
		Address: address,
		Method:  method,
		Param:   param,
		Done:    make(chan *Call, 1),
		start:   time.Now(),
	}

	req, err := message.NewRequest(call.ID, message.JoinMethod(address, method), param)
	if err != nil {
		call.Error = fmt.Errorf("encode %s params: %w", method, err)
		c.finish(call, outcomeSendError)
		return call
	}

	// Store before emitting, the response may arrive before EmitWithAck returns.
	c.pending.Store(call.ID, call)
	c.npending.Add(1)
	pendingCalls.Inc()

	id := call.ID
	err = c.socket.EmitWithAck(c.channel, req, func(data json.RawMessage) {
		c.settle(id, data)
	})
	if err != nil {
		if c.take(id) != nil {
			call.Error = fmt.Errorf("send %s: %w", method, err)
			c.finish(call, outcomeSendError)
		}
	}
	return call
}

// Call sends a request to the peer at address and waits for its response.
//
// A failure reported by the peer is returned as a *message.ErrorInfo. When ctx
// ends first the call is abandoned: it leaves the pending table and a late
// response is dropped.
func (c *Client) Call(ctx context.Context, address, method string, param any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	call := c.Go(address, method, param)
	select {
	case <-call.Done:
		return call.Result, call.Error
	case <-ctx.Done():
		if c.take(call.ID) != nil {
			call.Error = fmt.Errorf("call %s (id %s): %w", method, call.ID, ctx.Err())
			c.finish(call, outcomeExpired)
			return nil, call.Error
		}
		// The response won the race.
		<-call.Done
		return call.Result, call.Error
	}
}

// Invoke calls method and decodes the result into T.
func Invoke[T any](ctx context.Context, c *Client, address, method string, param any) (T, error) {
	var out T
	raw, err := c.Call(ctx, address, method, param)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}

// Authenticate presents token to the relay itself.
func (c *Client) Authenticate(ctx context.Context, token string) (bool, error) {
	return Invoke[bool](ctx, c, "", "Live.Authenticate", token)
}

// Notify emits a fire-and-forget notification on the event named method. No
// response is expected and nothing is tracked; only transport errors are
// returned.
func (c *Client) Notify(method string, param any) error {
	req, err := message.NewRequest("", method, param)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}
	if err := c.socket.Emit(method, req); err != nil {
		return fmt.Errorf("notify %s: %w", method, err)
	}
	return nil
}

// take removes and returns the pending call with id, or nil when it already
// resolved. Whoever takes the call owns its resolution.
func (c *Client) take(id string) *Call {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return nil
	}
	c.npending.Add(-1)
	pendingCalls.Dec()
	return v.(*Call)
}

// settle resolves the call with id from an acknowledgement payload.
func (c *Client) settle(id string, data json.RawMessage) {
	call := c.take(id)
	if call == nil {
		c.logger.Debug("dropping response for abandoned call", zap.String("id", id))
		return
	}

	var resp message.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		call.Error = fmt.Errorf("decode %s response: %w", call.Method, err)
		c.finish(call, outcomeRemoteError)
		return
	}
	if resp.ID != id {
		c.logger.Warn("response id mismatch",
			zap.String("expected", id),
			zap.String("got", resp.ID),
			zap.String("method", call.Method))
	}
	if resp.Error != nil {
		call.Error = resp.Error
		c.finish(call, outcomeRemoteError)
		return
	}
	call.Result = resp.Result
	c.finish(call, outcomeOK)
}

func (c *Client) finish(call *Call, outcome string) {
	callsTotal.WithLabelValues(outcome).Inc()
	callDuration.Observe(time.Since(call.start).Seconds())
	if call.Error != nil {
		c.logger.Debug("call failed",
			zap.String("id", call.ID),
			zap.String("address", call.Address),
			zap.String("method", call.Method),
			zap.Error(call.Error))
	}
	call.done()
}
