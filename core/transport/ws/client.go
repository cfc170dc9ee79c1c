package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chanbus/chanbus/core/transport"
	"github.com/chanbus/chanbus/pkg/async"
	"github.com/chanbus/chanbus/pkg/logger"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultHelloTimeout   = 5 * time.Second
)

// Client is the peer side of the WebSocket transport. It implements
// transport.Endpoint and transport.Requester.
type Client struct {
	conn           *websocket.Conn
	subject        transport.Subject
	logger         *slog.Logger
	requestTimeout time.Duration

	writeMu sync.Mutex // single writer on the socket

	mu       sync.RWMutex
	closed   bool
	receiver transport.ReceiverFunc
	pending  map[string]chan frame

	done chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger for connection-level events.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestTimeout bounds how long Subscribe and CreateChannel wait for
// the authority's ack.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

// Dial connects to a ws Server, completes the hello exchange, and starts the
// read loop. The returned client knows its assigned subject.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		conn:           conn,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[string]chan frame),
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	deadline := time.Now().Add(defaultHelloTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if hello.Type != frameHello {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: expected hello, got %s", ErrHandshakeFailed, hello.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.subject = hello.Subject

	go c.readLoop()

	c.logger.Info("connected", logger.Subject(int64(c.subject)))
	return c, nil
}

// Subject returns the identifier the authority assigned in the hello frame.
func (c *Client) Subject() transport.Subject {
	return c.subject
}

func (c *Client) readLoop() {
	defer c.shutdown()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws read failed", logger.Error(err))
			}
			return
		}

		switch f.Type {
		case frameMessage:
			c.mu.RLock()
			receiver := c.receiver
			c.mu.RUnlock()
			if receiver != nil {
				receiver(transport.Message{
					Channel: f.Channel,
					Sender:  f.Sender,
					Payload: f.Payload,
				})
			}

		case frameAck:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			if ok {
				delete(c.pending, f.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- f
			}

		default:
			c.logger.Warn("ws frame dropped",
				slog.String("frame_type", string(f.Type)),
				logger.Error(ErrUnknownFrame))
		}
	}
}

func (c *Client) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return transport.ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.conn.WriteJSON(f)
}

// Send delivers a data message to the authority. The addressed subject is
// ignored; peers only ever talk to the authority.
func (c *Client) Send(ctx context.Context, _ transport.Subject, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.writeFrame(frame{
		Type:    frameMessage,
		Channel: msg.Channel,
		Sender:  msg.Sender,
		Payload: msg.Payload,
	})
}

// SetReceiver installs the inbound delivery callback.
func (c *Client) SetReceiver(fn transport.ReceiverFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = fn
}

// request sends one request frame and waits for the matching ack.
func (c *Client) request(ctx context.Context, f frame) (frame, error) {
	id := uuid.NewString()
	f.ID = id

	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, transport.ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeFrame(f); err != nil {
		c.dropPending(id)
		return frame{}, err
	}

	var reply frame
	fut := async.Exec(ctx, ch, func(ctx context.Context, ch chan frame) error {
		select {
		case reply = <-ch:
			return nil
		case <-c.done:
			return transport.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := fut.AwaitWithTimeout(c.requestTimeout); err != nil {
		c.dropPending(id)
		return frame{}, err
	}
	return reply, nil
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Subscribe asks the authority for access to a channel.
func (c *Client) Subscribe(ctx context.Context, channel string) (bool, string, error) {
	reply, err := c.request(ctx, frame{Type: frameSubscribe, Channel: channel})
	if err != nil {
		return false, "", err
	}
	return reply.Granted, reply.Reason, nil
}

// CreateChannel asks the authority to create a channel.
func (c *Client) CreateChannel(ctx context.Context, channel string, cfg transport.ChannelConfig) (bool, error) {
	reply, err := c.request(ctx, frame{Type: frameCreate, Channel: channel, Config: &cfg})
	if err != nil {
		return false, err
	}
	return reply.Granted, nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = make(map[string]chan frame)
	c.mu.Unlock()

	// In-flight requests observe the done channel and fail with ErrClosed.
	close(c.done)
	_ = c.conn.Close()
}

// Close tears down the connection. A polite close frame is attempted first.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.shutdown()
	return nil
}
