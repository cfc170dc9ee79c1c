package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chanbus/chanbus/core/transport"
	"github.com/chanbus/chanbus/pkg/logger"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 64
)

// Server is the authority side of the WebSocket transport. It implements
// http.Handler for the upgrade endpoint plus transport.Endpoint and
// transport.Responder for the broker.
type Server struct {
	upgrader     *websocket.Upgrader
	logger       *slog.Logger
	writeTimeout time.Duration
	pingInterval time.Duration
	sendBuffer   int

	nextSubject atomic.Int64

	mu           sync.RWMutex
	closed       bool
	conns        map[transport.Subject]*serverConn
	receiver     transport.ReceiverFunc
	onSubscribe  transport.SubscribeHandlerFunc
	onCreate     transport.CreateHandlerFunc
	onDisconnect transport.DisconnectHandlerFunc
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for connection-level events.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReadBuffer sets the upgrader's read buffer size.
func WithReadBuffer(size int) ServerOption {
	return func(s *Server) {
		s.upgrader.ReadBufferSize = size
	}
}

// WithWriteBuffer sets the upgrader's write buffer size.
func WithWriteBuffer(size int) ServerOption {
	return func(s *Server) {
		s.upgrader.WriteBufferSize = size
	}
}

// WithHandshakeTimeout bounds the upgrade handshake.
func WithHandshakeTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.upgrader.HandshakeTimeout = timeout
	}
}

// WithOriginCheck installs a custom origin check on the upgrader.
func WithOriginCheck(fn func(r *http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// WithAllowAnyOrigin disables origin checking. Intended for tests and
// same-host deployments behind a trusted proxy.
func WithAllowAnyOrigin() ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
}

// WithWriteTimeout bounds each outbound frame write.
func WithWriteTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout > 0 {
			s.writeTimeout = timeout
		}
	}
}

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		if interval > 0 {
			s.pingInterval = interval
		}
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(size int) ServerOption {
	return func(s *Server) {
		if size > 0 {
			s.sendBuffer = size
		}
	}
}

// NewServer creates a WebSocket authority transport.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		sendBuffer:   defaultSendBuffer,
		conns:        make(map[transport.Subject]*serverConn),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// serverConn is one connected peer. Writes go through the send channel so a
// single goroutine owns the socket's write side.
type serverConn struct {
	subject transport.Subject
	conn    *websocket.Conn
	send    chan frame
	once    sync.Once
	closed  chan struct{}
}

func (c *serverConn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// ServeHTTP upgrades the request, assigns the peer its subject in a hello
// frame, and serves the connection until the peer departs.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", logger.Error(err))
		return
	}

	subject := transport.Subject(s.nextSubject.Add(1))
	sc := &serverConn{
		subject: subject,
		conn:    conn,
		send:    make(chan frame, s.sendBuffer),
		closed:  make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sc.close()
		return
	}
	s.conns[subject] = sc
	s.mu.Unlock()

	s.logger.Info("peer connected", logger.Subject(int64(subject)))

	go s.writeLoop(sc)
	sc.send <- frame{Type: frameHello, Subject: subject}

	s.readLoop(sc)

	s.mu.Lock()
	delete(s.conns, subject)
	onDisconnect := s.onDisconnect
	s.mu.Unlock()

	sc.close()
	s.logger.Info("peer disconnected", logger.Subject(int64(subject)))

	if onDisconnect != nil {
		onDisconnect(subject)
	}
}

func (s *Server) writeLoop(sc *serverConn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.closed:
			return
		case f := <-sc.send:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := sc.conn.WriteJSON(f); err != nil {
				s.logger.Warn("ws write failed",
					logger.Subject(int64(sc.subject)), logger.Error(err))
				sc.close()
				return
			}
		case <-ticker.C:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sc.close()
				return
			}
		}
	}
}

func (s *Server) readLoop(sc *serverConn) {
	for {
		var f frame
		if err := sc.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("ws read failed",
					logger.Subject(int64(sc.subject)), logger.Error(err))
			}
			return
		}

		switch f.Type {
		case frameMessage:
			s.mu.RLock()
			receiver := s.receiver
			s.mu.RUnlock()
			if receiver != nil {
				// The connection, not the frame, names the sender.
				receiver(transport.Message{
					Channel: f.Channel,
					Sender:  sc.subject,
					Payload: f.Payload,
				})
			}

		case frameSubscribe:
			s.mu.RLock()
			fn := s.onSubscribe
			s.mu.RUnlock()

			ack := frame{Type: frameAck, ID: f.ID}
			if fn == nil {
				ack.Reason = transport.ErrSetupNotReady.Error()
			} else {
				ack.Granted, ack.Reason = fn(sc.subject, f.Channel)
			}
			s.enqueue(sc, ack)

		case frameCreate:
			s.mu.RLock()
			fn := s.onCreate
			s.mu.RUnlock()

			ack := frame{Type: frameAck, ID: f.ID}
			if fn == nil {
				ack.Reason = transport.ErrSetupNotReady.Error()
			} else {
				var cfg transport.ChannelConfig
				if f.Config != nil {
					cfg = *f.Config
				}
				ack.Granted = fn(sc.subject, f.Channel, cfg)
			}
			s.enqueue(sc, ack)

		default:
			s.logger.Warn("ws frame dropped",
				logger.Subject(int64(sc.subject)),
				slog.String("frame_type", string(f.Type)),
				logger.Error(ErrUnknownFrame))
		}
	}
}

func (s *Server) enqueue(sc *serverConn, f frame) {
	select {
	case sc.send <- f:
	case <-sc.closed:
	default:
		s.logger.Warn("ws frame dropped",
			logger.Subject(int64(sc.subject)), logger.Error(ErrSendQueueFull))
	}
}

// Send delivers a data message to one connected peer.
func (s *Server) Send(ctx context.Context, to transport.Subject, msg transport.Message) error {
	s.mu.RLock()
	closed := s.closed
	sc, ok := s.conns[to]
	s.mu.RUnlock()

	if closed {
		return transport.ErrClosed
	}
	if !ok {
		return transport.ErrUnknownSubject
	}

	f := frame{
		Type:    frameMessage,
		Channel: msg.Channel,
		Sender:  msg.Sender,
		Payload: msg.Payload,
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Non-blocking: a stuck peer must not stall the dispatch tick.
	select {
	case sc.send <- f:
		return nil
	case <-sc.closed:
		return transport.ErrUnknownSubject
	default:
		return ErrSendQueueFull
	}
}

// SetReceiver installs the inbound delivery callback.
func (s *Server) SetReceiver(fn transport.ReceiverFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = fn
}

// SetSubscribeHandler installs the subscribe request hook.
func (s *Server) SetSubscribeHandler(fn transport.SubscribeHandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSubscribe = fn
}

// SetCreateHandler installs the create-channel request hook.
func (s *Server) SetCreateHandler(fn transport.CreateHandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreate = fn
}

// SetDisconnectHandler installs the peer departure hook.
func (s *Server) SetDisconnectHandler(fn transport.DisconnectHandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

// Close drops every connection and rejects further upgrades.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.conns = make(map[transport.Subject]*serverConn)
	s.mu.Unlock()

	for _, sc := range conns {
		sc.close()
	}
	return nil
}

// ConnectedPeers returns the subjects currently connected.
func (s *Server) ConnectedPeers() []transport.Subject {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]transport.Subject, 0, len(s.conns))
	for subject := range s.conns {
		out = append(out, subject)
	}
	return out
}
