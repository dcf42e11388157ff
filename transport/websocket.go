package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/naveego/live-go/codec"
	"github.com/naveego/live-go/protocol"
)

const (
	stateIdle int32 = iota
	stateConnecting
	stateConnected
	stateClosed
)

const handshakeEvent = "handshake"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type handshake struct {
	SID string `json:"sid"`
}

// WebSocket is a Socket backed by one gorilla/websocket connection.
//
// Many goroutines may emit concurrently. Each emit that wants an
// acknowledgement gets a unique sequence number, and the read loop routes the
// matching ack frame back to the registered callback:
//
//	goroutine-1 ──EmitWithAck(seq=1)──┐
//	goroutine-2 ──EmitWithAck(seq=2)──┼──→ single websocket ──→ relay
//	goroutine-3 ──Emit(seq=0)─────────┘
//
//	recvLoop:  ←── ack(seq=2) → pending[2] → goroutine-2's AckFunc
type WebSocket struct {
	*Emitter

	url              string
	header           http.Header
	codec            codec.Codec
	heartbeat        time.Duration
	handshakeTimeout time.Duration
	logger           *zap.Logger

	conn    atomic.Pointer[websocket.Conn]
	id      atomic.Value // string
	state   atomic.Int32
	seq     uint32     // Ack sequence (protected by sending mutex)
	pending sync.Map   // map[uint32]AckFunc
	sending sync.Mutex // Serializes frame writes on the shared connection

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a WebSocket.
type Option func(*WebSocket)

func WithCodec(t codec.CodecType) Option {
	return func(s *WebSocket) {
		s.codec = codec.GetCodec(t)
	}
}

// WithHeartbeat sets the keepalive interval. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(s *WebSocket) {
		s.heartbeat = interval
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *WebSocket) {
		s.handshakeTimeout = d
	}
}

// WithHeader adds HTTP headers to the dial request.
func WithHeader(h http.Header) Option {
	return func(s *WebSocket) {
		s.header = h
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *WebSocket) {
		if l != nil {
			s.logger = l
		}
	}
}

func newWebSocket(opts []Option) *WebSocket {
	s := &WebSocket{
		Emitter:          NewEmitter(),
		codec:            &codec.JSONCodec{},
		heartbeat:        30 * time.Second,
		handshakeTimeout: 10 * time.Second,
		logger:           zap.NewNop(),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWebSocket creates the dialing side of a connection. Register listeners,
// then call Connect.
func NewWebSocket(url string, opts ...Option) *WebSocket {
	s := newWebSocket(opts)
	s.url = url
	return s
}

// Accept upgrades an HTTP request into the accepting side of a connection and
// assigns it id. The handshake is sent by Connect, so listeners registered
// before Connect see every event.
func Accept(w http.ResponseWriter, r *http.Request, id string, opts ...Option) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	s := newWebSocket(opts)
	s.conn.Store(conn)
	s.id.Store(id)
	return s, nil
}

// ID returns the connection id, empty until Connect succeeds on the dialing side.
func (s *WebSocket) ID() string {
	id, _ := s.id.Load().(string)
	return id
}

// Done is closed once the connection has been closed.
func (s *WebSocket) Done() <-chan struct{} {
	return s.done
}

// Connect dials the relay and waits for its handshake, or, on an accepted
// connection, sends the handshake. It then starts the read and heartbeat loops.
func (s *WebSocket) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateIdle, stateConnecting) {
		if s.state.Load() == stateClosed {
			return ErrClosed
		}
		return errors.New("transport: socket already connected")
	}

	var err error
	if s.conn.Load() == nil {
		err = s.dial(ctx)
	} else {
		err = s.writeFrame(&protocol.Header{MsgType: protocol.MsgTypeHandshake}, mustHandshake(s.ID()))
	}
	if err != nil {
		s.state.CompareAndSwap(stateConnecting, stateIdle)
		s.PublishLifecycle(EventConnectError, err)
		return err
	}

	if !s.state.CompareAndSwap(stateConnecting, stateConnected) {
		// closed while dialing
		s.conn.Load().Close()
		return ErrClosed
	}
	go s.recvLoop()
	if s.heartbeat > 0 {
		go s.heartbeatLoop(s.heartbeat)
	}
	s.logger.Debug("websocket connected", zap.String("sid", s.ID()))
	s.PublishLifecycle(EventConnect, nil)
	return nil
}

func (s *WebSocket) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, s.url, s.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial websocket %s: %w", s.url, err)
	}

	deadline := time.Now().Add(s.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	sid, err := readHandshake(conn)
	if err != nil {
		conn.Close()
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.PublishLifecycle(EventConnectTimeout, nil)
		}
		return fmt.Errorf("websocket handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.conn.Store(conn)
	s.id.Store(sid)
	return nil
}

func readHandshake(conn *websocket.Conn) (string, error) {
	_, r, err := conn.NextReader()
	if err != nil {
		return "", err
	}
	header, body, err := protocol.Decode(r)
	if err != nil {
		return "", err
	}
	if header.MsgType != protocol.MsgTypeHandshake {
		return "", fmt.Errorf("expected handshake frame, got message type %d", header.MsgType)
	}
	var frame codec.Frame
	if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &frame); err != nil {
		return "", err
	}
	var hs handshake
	if err := json.Unmarshal(frame.Data, &hs); err != nil {
		return "", err
	}
	if hs.SID == "" {
		return "", errors.New("handshake without connection id")
	}
	return hs.SID, nil
}

func mustHandshake(sid string) *codec.Frame {
	data, _ := json.Marshal(handshake{SID: sid})
	return &codec.Frame{Event: handshakeEvent, Data: data}
}

func (s *WebSocket) Emit(event string, data any) error {
	return s.emit(event, data, nil)
}

func (s *WebSocket) EmitWithAck(event string, data any, ack AckFunc) error {
	if ack == nil {
		return errors.New("transport: nil ack callback")
	}
	return s.emit(event, data, ack)
}

func (s *WebSocket) emit(event string, data any, ack AckFunc) error {
	if err := s.writable(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	body, err := s.codec.Encode(&codec.Frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(s.codec.Type()),
		MsgType:   protocol.MsgTypeEvent,
		BodyLen:   uint32(len(body)),
	}

	s.sending.Lock()
	defer s.sending.Unlock()

	// Register the ack BEFORE writing, the reply may beat us back otherwise.
	if ack != nil {
		s.seq++
		if s.seq == 0 {
			s.seq++
		}
		header.Seq = s.seq
		s.pending.Store(header.Seq, ack)
	}

	if err := s.writeLocked(&header, body); err != nil {
		if ack != nil {
			s.pending.Delete(header.Seq)
		}
		return err
	}
	return nil
}

func (s *WebSocket) writable() error {
	switch s.state.Load() {
	case stateConnected:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
}

func (s *WebSocket) writeFrame(header *protocol.Header, frame *codec.Frame) error {
	var body []byte
	if frame != nil {
		var err error
		if body, err = s.codec.Encode(frame); err != nil {
			return err
		}
	}
	header.CodecType = byte(s.codec.Type())
	header.BodyLen = uint32(len(body))

	s.sending.Lock()
	defer s.sending.Unlock()
	return s.writeLocked(header, body)
}

// writeLocked writes one frame as one binary websocket message. Caller holds sending.
func (s *WebSocket) writeLocked(header *protocol.Header, body []byte) error {
	w, err := s.conn.Load().NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := protocol.Encode(w, header, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// replyFor builds the single-shot acknowledgement for an inbound event.
func (s *WebSocket) replyFor(seq uint32) Reply {
	if seq == 0 {
		return nil
	}
	return OnceReply(func(data any) error {
		if err := s.writable(); err != nil {
			return err
		}
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal ack payload: %w", err)
		}
		return s.writeFrame(&protocol.Header{MsgType: protocol.MsgTypeAck, Seq: seq}, &codec.Frame{Data: payload})
	})
}

// recvLoop is the only reader of the connection. It routes acks to pending
// callbacks and events to listeners until the connection breaks.
func (s *WebSocket) recvLoop() {
	conn := s.conn.Load()
	for {
		_, r, err := conn.NextReader()
		if err != nil {
			s.finish(err)
			return
		}

		header, body, err := protocol.Decode(r)
		if err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err))
			s.PublishLifecycle(EventError, err)
			continue
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		var frame codec.Frame
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &frame); err != nil {
			s.logger.Warn("dropping undecodable frame", zap.Error(err))
			s.PublishLifecycle(EventError, err)
			continue
		}

		switch header.MsgType {
		case protocol.MsgTypeAck:
			if ack, ok := s.pending.LoadAndDelete(header.Seq); ok {
				ack.(AckFunc)(frame.Data)
			} else {
				s.logger.Debug("ack for unknown sequence", zap.Uint32("seq", header.Seq))
			}
		case protocol.MsgTypeEvent:
			s.Dispatch(frame.Event, frame.Data, s.replyFor(header.Seq))
		default:
			s.logger.Debug("ignoring frame", zap.Uint8("type", uint8(header.MsgType)))
		}
	}
}

// finish runs once when the read loop ends. Pending acks are dropped: the
// relay can no longer answer them on this connection.
func (s *WebSocket) finish(err error) {
	reason := "transport close"
	switch {
	case s.state.Load() == stateClosed:
		reason = "io client disconnect"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
	default:
		reason = "transport error"
		s.PublishLifecycle(EventError, err)
	}
	_ = s.Close()
	s.pending.Clear()
	s.logger.Debug("websocket disconnected", zap.String("sid", s.ID()), zap.String("reason", reason))
	s.PublishLifecycle(EventDisconnect, reason)
}

// heartbeatLoop sends periodic heartbeat frames to keep intermediaries from
// dropping an idle connection.
func (s *WebSocket) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeFrame(&protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (s *WebSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		prev := s.state.Swap(stateClosed)
		close(s.done)
		conn := s.conn.Load()
		if conn == nil {
			return
		}
		if prev == stateConnected {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		err = conn.Close()
	})
	return err
}
