package client

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/naveego/live-go/message"
	"github.com/naveego/live-go/middleware"
	"github.com/naveego/live-go/transport"
)

// ---- 录制型 Socket（不依赖 relay）----

type emitted struct {
	event string
	data  json.RawMessage
	ack   transport.AckFunc
}

type fakeSocket struct {
	*transport.Emitter
	id      string
	sent    chan emitted
	mu      sync.Mutex
	emitErr error
	closed  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		Emitter: transport.NewEmitter(),
		id:      "self",
		sent:    make(chan emitted, 256),
	}
}

func (f *fakeSocket) ID() string { return f.id }

func (f *fakeSocket) Emit(event string, data any) error {
	return f.record(event, data, nil)
}

func (f *fakeSocket) EmitWithAck(event string, data any, ack transport.AckFunc) error {
	return f.record(event, data, ack)
}

func (f *fakeSocket) record(event string, data any, ack transport.AckFunc) error {
	f.mu.Lock()
	err := f.emitErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.sent <- emitted{event: event, data: raw, ack: ack}
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) next(t *testing.T) emitted {
	t.Helper()
	select {
	case e := <-f.sent:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("nothing emitted")
	}
	return emitted{}
}

// deliver hands an inbound request to the client and returns the channel its
// replies arrive on.
func (f *fakeSocket) deliver(t *testing.T, req string) <-chan json.RawMessage {
	t.Helper()
	replies := make(chan json.RawMessage, 2)
	f.Dispatch(DefaultChannel, json.RawMessage(req), transport.OnceReply(func(data any) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		replies <- raw
		return nil
	}))
	return replies
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket()
	c, err := New(sock, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Disconnect() })
	return c, sock
}

func ack(e emitted, resp string) {
	e.ack(json.RawMessage(resp))
}

func waitCall(t *testing.T, call *Call) *Call {
	t.Helper()
	select {
	case done := <-call.Done:
		return done
	case <-time.After(2 * time.Second):
		t.Fatalf("call %s never resolved", call.ID)
	}
	return nil
}

func waitReply(t *testing.T, replies <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case raw := <-replies:
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
	return nil
}

// ---- 出站调用 ----

func TestCallEnvelope(t *testing.T) {
	c, sock := newTestClient(t)

	call := c.Go("peerA", "Foo.Bar", map[string]int{"x": 1})
	e := sock.next(t)

	assert.Equal(t, DefaultChannel, e.event)
	assert.JSONEq(t, `{"id":"1","method":"peerA.Foo.Bar","params":[{"x":1}]}`, string(e.data))
	assert.Equal(t, 1, c.Pending())

	ack(e, `{"id":"1","result":"done"}`)
	done := waitCall(t, call)
	require.NoError(t, done.Error)
	assert.JSONEq(t, `"done"`, string(done.Result))
	assert.Equal(t, 0, c.Pending())
}

func TestRelayAddressedEnvelope(t *testing.T) {
	c, sock := newTestClient(t)

	c.Go("", "Live.Authenticate", "tok")
	e := sock.next(t)
	assert.JSONEq(t, `{"id":"1","method":".Live.Authenticate","params":["tok"]}`, string(e.data))
}

func TestIDsStrictlyIncrease(t *testing.T) {
	c, sock := newTestClient(t)

	for i := 1; i <= 3; i++ {
		c.Go("p", "A.B", i)
		var req message.Request
		require.NoError(t, json.Unmarshal(sock.next(t).data, &req))
		assert.Equal(t, strconv.Itoa(i), req.ID)
	}

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Go("p", "A.B", nil)
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		var req message.Request
		require.NoError(t, json.Unmarshal(sock.next(t).data, &req))
		assert.False(t, seen[req.ID], "duplicate id %s", req.ID)
		seen[req.ID] = true
		id, err := strconv.Atoi(req.ID)
		require.NoError(t, err)
		assert.Greater(t, id, 3)
	}
	assert.Equal(t, n+3, c.Pending())
}

func TestConcurrentCallsResolveOutOfOrder(t *testing.T) {
	c, sock := newTestClient(t)

	first := c.Go("peerA", "Foo.Bar", 1)
	second := c.Go("peerB", "Foo.Bar", 2)
	e1, e2 := sock.next(t), sock.next(t)

	// answer the second call first
	ack(e2, `{"id":"2","result":"two"}`)
	ack(e1, `{"id":"1","result":"one"}`)

	assert.JSONEq(t, `"one"`, string(waitCall(t, first).Result))
	assert.JSONEq(t, `"two"`, string(waitCall(t, second).Result))
	assert.Equal(t, 0, c.Pending())
}

func TestRemoteErrorFailsCall(t *testing.T) {
	c, sock := newTestClient(t)

	var (
		result json.RawMessage
		err    error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		result, err = c.Call(context.Background(), "peerA", "Foo.Bar", nil)
	}()

	ack(sock.next(t), `{"id":"1","error":{"code":401,"message":"bad token"}}`)
	<-done

	assert.Nil(t, result)
	var info *message.ErrorInfo
	require.ErrorAs(t, err, &info)
	assert.Equal(t, 401, info.Code)
	assert.Equal(t, "bad token", info.Message)
}

func TestResponseResolvesOnce(t *testing.T) {
	c, sock := newTestClient(t)

	call := c.Go("peerA", "Foo.Bar", nil)
	e := sock.next(t)
	ack(e, `{"id":"1","result":1}`)
	ack(e, `{"id":"1","result":2}`)

	assert.JSONEq(t, `1`, string(waitCall(t, call).Result))
	select {
	case <-call.Done:
		t.Fatal("call delivered twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResponseIDMismatchStillResolves(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c, sock := newTestClient(t, WithLogger(zap.New(core)))

	call := c.Go("peerA", "Foo.Bar", nil)
	ack(sock.next(t), `{"id":"99","result":true}`)

	assert.NoError(t, waitCall(t, call).Error)
	assert.Equal(t, 1, logs.FilterMessage("response id mismatch").Len())
}

func TestUndecodableResponse(t *testing.T) {
	c, sock := newTestClient(t)

	call := c.Go("peerA", "Foo.Bar", nil)
	ack(sock.next(t), `not json`)
	assert.Error(t, waitCall(t, call).Error)
	assert.Equal(t, 0, c.Pending())
}

func TestCallContextExpiry(t *testing.T) {
	c, sock := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "peerA", "Foo.Bar", nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Pending())

	// the late response is dropped
	ack(sock.next(t), `{"id":"1","result":1}`)
	assert.Equal(t, 0, c.Pending())
}

func TestCallCancelledBeforeSend(t *testing.T) {
	c, sock := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Call(ctx, "peerA", "Foo.Bar", nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sock.sent)
}

func TestWithCallTimeout(t *testing.T) {
	c, _ := newTestClient(t, WithCallTimeout(30*time.Millisecond))

	start := time.Now()
	_, err := c.Call(context.Background(), "peerA", "Foo.Bar", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEmitFailureFailsCall(t *testing.T) {
	c, sock := newTestClient(t)
	sock.emitErr = transport.ErrNotConnected

	_, err := c.Call(context.Background(), "peerA", "Foo.Bar", nil)
	require.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Equal(t, 0, c.Pending())
}

func TestUnencodableParams(t *testing.T) {
	c, sock := newTestClient(t)

	call := waitCall(t, c.Go("peerA", "Foo.Bar", make(chan int)))
	assert.Error(t, call.Error)
	assert.Empty(t, sock.sent)
	assert.Equal(t, 0, c.Pending())
}

func TestDisconnectKeepsPending(t *testing.T) {
	c, sock := newTestClient(t)

	call := c.Go("peerA", "Foo.Bar", nil)
	e := sock.next(t)
	require.NoError(t, c.Disconnect())
	assert.True(t, sock.closed)
	assert.Equal(t, 1, c.Pending())

	ack(e, `{"id":"1","result":1}`)
	assert.NoError(t, waitCall(t, call).Error)
}

func TestInvoke(t *testing.T) {
	c, sock := newTestClient(t)

	type sum struct {
		Total int `json:"total"`
	}
	go func() {
		ack(<-sock.sent, `{"id":"1","result":{"total":7}}`)
	}()
	got, err := Invoke[sum](context.Background(), c, "peerA", "Math.Sum", []int{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 7, got.Total)

	go func() {
		ack(<-sock.sent, `{"id":"2","result":"seven"}`)
	}()
	_, err = Invoke[sum](context.Background(), c, "peerA", "Math.Sum", nil)
	assert.Error(t, err)
}

// ---- 通知 ----

func TestNotify(t *testing.T) {
	c, sock := newTestClient(t)

	require.NoError(t, c.Notify("Chat.Message", map[string]string{"text": "hi"}))
	e := sock.next(t)

	assert.Equal(t, "Chat.Message", e.event)
	assert.JSONEq(t, `{"method":"Chat.Message","params":[{"text":"hi"}]}`, string(e.data))
	assert.Nil(t, e.ack)
	assert.Equal(t, 0, c.Pending())

	sock.emitErr = transport.ErrClosed
	assert.ErrorIs(t, c.Notify("Chat.Message", nil), transport.ErrClosed)
}

func TestOnNotification(t *testing.T) {
	c, sock := newTestClient(t)

	got := make(chan json.RawMessage, 1)
	require.NoError(t, c.OnNotification("Chat.Message", func(param json.RawMessage) { got <- param }))
	sock.Dispatch("Chat.Message", json.RawMessage(`{"method":"Chat.Message","params":[{"text":"hi"}]}`), nil)

	assert.JSONEq(t, `{"text":"hi"}`, string(<-got))
	assert.Error(t, c.OnNotification("x", nil))
}

func TestOnNotificationKeepsOrder(t *testing.T) {
	c, sock := newTestClient(t)

	const n = 50
	got := make(chan int, n)
	require.NoError(t, c.OnNotification("Tick", func(param json.RawMessage) {
		var i int
		_ = json.Unmarshal(param, &i)
		got <- i
	}))
	for i := 0; i < n; i++ {
		sock.Dispatch("Tick", json.RawMessage(`{"method":"Tick","params":[`+strconv.Itoa(i)+`]}`), nil)
	}
	for i := 0; i < n; i++ {
		select {
		case v := <-got:
			assert.Equal(t, i, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d not delivered", i)
		}
	}
}

func TestOnNotificationCallbackUsesClient(t *testing.T) {
	c, sock := newTestClient(t)

	results := make(chan json.RawMessage, 1)
	require.NoError(t, c.OnNotification("Job.Ready", func(param json.RawMessage) {
		// neither may wait on the delivery that queued this callback
		_ = c.OnNotification("Job.Done", func(json.RawMessage) {})
		res, err := c.Call(context.Background(), "worker", "Job.Fetch", param)
		if err == nil {
			results <- res
		}
	}))
	sock.Dispatch("Job.Ready", json.RawMessage(`{"method":"Job.Ready","params":["j1"]}`), nil)

	e := sock.next(t)
	var req message.Request
	require.NoError(t, json.Unmarshal(e.data, &req))
	assert.Equal(t, "worker.Job.Fetch", req.Method)
	ack(e, `{"id":"`+req.ID+`","result":"payload"}`)

	select {
	case res := <-results:
		assert.JSONEq(t, `"payload"`, string(res))
	case <-time.After(2 * time.Second):
		t.Fatal("callback call never completed")
	}
}

func TestNotificationsStopAfterDisconnect(t *testing.T) {
	c, sock := newTestClient(t)

	got := make(chan struct{}, 1)
	require.NoError(t, c.OnNotification("Tick", func(json.RawMessage) { got <- struct{}{} }))
	require.NoError(t, c.Disconnect())
	sock.Dispatch("Tick", json.RawMessage(`{"method":"Tick","params":[]}`), nil)

	select {
	case <-got:
		t.Fatal("callback ran after disconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLifecyclePassThrough(t *testing.T) {
	c, sock := newTestClient(t)

	got := make(chan any, 1)
	require.NoError(t, c.On(transport.EventDisconnect, func(arg any) { got <- arg }))
	sock.PublishLifecycle(transport.EventDisconnect, "transport close")
	assert.Equal(t, "transport close", <-got)
	assert.Equal(t, "self", c.ID())
}

// ---- 入站请求 ----

func TestHandlerFilter(t *testing.T) {
	c, sock := newTestClient(t)

	calls := make(chan string, 2)
	c.OnRequest("Foo.Bar", func(ctx context.Context, param json.RawMessage) (any, error) {
		calls <- "Foo.Bar"
		return nil, nil
	})

	unmatched := sock.deliver(t, `{"id":"1","method":"Foo.Baz","params":[]}`)
	matched := sock.deliver(t, `{"id":"2","method":"Foo.Bar","params":[]}`)

	assert.Equal(t, "Foo.Bar", <-calls)
	waitReply(t, matched)
	select {
	case <-calls:
		t.Fatal("handler invoked for another method")
	case raw := <-unmatched:
		t.Fatalf("unexpected reply %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerResultAcked(t *testing.T) {
	c, sock := newTestClient(t)

	c.OnRequest("Foo.Bar", HandleTyped(func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	}))

	replies := sock.deliver(t, `{"id":"5","method":"Foo.Bar","params":[2]}`)
	assert.JSONEq(t, `{"id":"5","result":4}`, string(waitReply(t, replies)))
	select {
	case raw := <-replies:
		t.Fatalf("replied twice: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerErrorAcked(t *testing.T) {
	c, sock := newTestClient(t)

	c.OnRequest("Foo.Bar", func(ctx context.Context, param json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})
	c.OnRequest("Foo.Deny", func(ctx context.Context, param json.RawMessage) (any, error) {
		info, _ := message.NewErrorWithData(403, "forbidden", map[string]string{"role": "guest"})
		return nil, info
	})
	c.OnRequest("Foo.Nil", func(ctx context.Context, param json.RawMessage) (any, error) {
		var info *message.ErrorInfo
		return nil, info
	})

	cases := []struct {
		req  string
		want string
	}{
		{`{"id":"6","method":"Foo.Bar","params":[]}`, `{"id":"6","error":{"code":500,"message":"boom"}}`},
		{`{"id":"7","method":"Foo.Deny","params":[]}`, `{"id":"7","error":{"code":403,"message":"forbidden","data":{"role":"guest"}}}`},
		{`{"id":"8","method":"Foo.Nil","params":[]}`, `{"id":"8","error":{"code":500,"message":"nil error"}}`},
	}
	for _, tc := range cases {
		assert.JSONEq(t, tc.want, string(waitReply(t, sock.deliver(t, tc.req))))
	}
}

func TestHandlerFailures(t *testing.T) {
	c, sock := newTestClient(t)

	c.OnRequest("Bad.Result", func(ctx context.Context, param json.RawMessage) (any, error) {
		return make(chan int), nil
	})
	c.OnRequest("Bad.Panic", func(ctx context.Context, param json.RawMessage) (any, error) {
		panic("boom")
	})
	c.OnRequest("Bad.Params", HandleTyped(func(ctx context.Context, n int) (int, error) {
		return n, nil
	}))

	cases := []struct {
		method string
		params string
		code   int
	}{
		{"Bad.Result", `[]`, message.CodeInternal},
		{"Bad.Panic", `[]`, message.CodeInternal},
		{"Bad.Params", `["nan"]`, message.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			raw := waitReply(t, sock.deliver(t, `{"id":"1","method":"`+tc.method+`","params":`+tc.params+`}`))
			var resp message.Response
			require.NoError(t, json.Unmarshal(raw, &resp))
			require.True(t, resp.Failed())
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, "1", resp.ID)
		})
	}
}

func TestHandlerReplacement(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c, sock := newTestClient(t, WithLogger(zap.New(core)))

	c.OnRequest("Foo.Bar", func(ctx context.Context, param json.RawMessage) (any, error) { return "first", nil })
	c.OnRequest("Foo.Bar", func(ctx context.Context, param json.RawMessage) (any, error) { return "second", nil })

	raw := waitReply(t, sock.deliver(t, `{"id":"1","method":"Foo.Bar","params":[]}`))
	assert.JSONEq(t, `{"id":"1","result":"second"}`, string(raw))
	assert.Equal(t, 1, logs.FilterMessage("replacing request handler").Len())
	assert.Panics(t, func() { c.OnRequest("Foo.Nil", nil) })
}

func TestNotificationOnRequestChannelNotAcked(t *testing.T) {
	c, sock := newTestClient(t)

	ran := make(chan struct{}, 1)
	c.OnRequest("Foo.Bar", func(ctx context.Context, param json.RawMessage) (any, error) {
		ran <- struct{}{}
		return nil, nil
	})
	sock.Dispatch(DefaultChannel, json.RawMessage(`{"method":"Foo.Bar","params":[]}`), nil)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("handler not run")
	}
}

func TestUndecodableRequestDropped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	_, sock := newTestClient(t, WithLogger(zap.New(core)))

	replies := sock.deliver(t, `{"id":`)
	select {
	case raw := <-replies:
		t.Fatalf("unexpected reply %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, logs.FilterMessage("dropping undecodable request").Len())
}

func TestMiddlewareWrapsHandlers(t *testing.T) {
	c, sock := newTestClient(t, WithMiddleware(middleware.RateLimit(0, 1)))

	c.OnRequest("Foo.Bar", func(ctx context.Context, param json.RawMessage) (any, error) { return "ok", nil })

	first := waitReply(t, sock.deliver(t, `{"id":"1","method":"Foo.Bar","params":[]}`))
	assert.JSONEq(t, `{"id":"1","result":"ok"}`, string(first))

	second := waitReply(t, sock.deliver(t, `{"id":"2","method":"Foo.Bar","params":[]}`))
	assert.JSONEq(t, `{"id":"2","error":{"code":429,"message":"rate limit exceeded"}}`, string(second))

	c, sock = newTestClient(t)
	c.OnRequest("Foo.Bar", func(ctx context.Context, param json.RawMessage) (any, error) { return "ok", nil })
	var order []string
	c.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			order = append(order, req.Method)
			return next(ctx, req)
		}
	})
	waitReply(t, sock.deliver(t, `{"id":"3","method":"Foo.Bar","params":[]}`))
	assert.Equal(t, []string{"Foo.Bar"}, order)
}

func TestDisconnectCancelsHandlers(t *testing.T) {
	c, sock := newTestClient(t)

	cancelled := make(chan error, 1)
	c.OnRequest("Slow.Op", func(ctx context.Context, param json.RawMessage) (any, error) {
		<-ctx.Done()
		cancelled <- ctx.Err()
		return nil, ctx.Err()
	})
	sock.deliver(t, `{"id":"1","method":"Slow.Op","params":[]}`)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Disconnect())
	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("handler context not cancelled")
	}
}

func TestNewRejectsNilSocket(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
