package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbus/chanbus/core/payload"
	"github.com/chanbus/chanbus/core/transport"
	"github.com/chanbus/chanbus/core/transport/ws"
)

type capture struct {
	mu       sync.Mutex
	messages []transport.Message
}

func (c *capture) receiver() transport.ReceiverFunc {
	return func(msg transport.Message) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.messages = append(c.messages, msg)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *capture) first() transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[0]
}

func startServer(t *testing.T, opts ...ws.ServerOption) (*ws.Server, string) {
	t.Helper()

	opts = append(opts, ws.WithAllowAnyOrigin())
	server := ws.NewServer(opts...)
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)
	t.Cleanup(func() { _ = server.Close() })

	return server, "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func dial(t *testing.T, url string, opts ...ws.ClientOption) *ws.Client {
	t.Helper()

	client, err := ws.Dial(context.Background(), url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestHelloAssignsSubjects(t *testing.T) {
	t.Parallel()

	_, url := startServer(t)

	first := dial(t, url)
	second := dial(t, url)

	assert.NotEqual(t, transport.Authority, first.Subject())
	assert.NotEqual(t, transport.Authority, second.Subject())
	assert.NotEqual(t, first.Subject(), second.Subject())
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	server, url := startServer(t)
	serverRx := &capture{}
	server.SetReceiver(serverRx.receiver())

	client := dial(t, url)
	clientRx := &capture{}
	client.SetReceiver(clientRx.receiver())

	// Peer to authority. The claimed sender is overridden by the
	// connection's assigned subject.
	err := client.Send(context.Background(), transport.Authority, transport.Message{
		Channel: "chat",
		Sender:  999,
		Payload: []payload.Value{payload.String("up")},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return serverRx.count() == 1 },
		time.Second, 5*time.Millisecond)

	got := serverRx.first()
	assert.Equal(t, "chat", got.Channel)
	assert.Equal(t, client.Subject(), got.Sender)
	require.Len(t, got.Payload, 1)
	assert.Equal(t, "up", got.Payload[0].Str)

	// Authority to peer.
	err = server.Send(context.Background(), client.Subject(), transport.Message{
		Channel: "chat",
		Sender:  transport.Authority,
		Payload: []payload.Value{payload.Int(7)},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return clientRx.count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(7), clientRx.first().Payload[0].Int)
}

func TestSendToUnknownSubject(t *testing.T) {
	t.Parallel()

	server, _ := startServer(t)

	err := server.Send(context.Background(), 42, transport.Message{Channel: "chat"})
	require.ErrorIs(t, err, transport.ErrUnknownSubject)
}

func TestSubscribeRequest(t *testing.T) {
	t.Parallel()

	server, url := startServer(t)
	server.SetSubscribeHandler(func(from transport.Subject, channel string) (bool, string) {
		return channel == "open", "members only"
	})

	client := dial(t, url)

	granted, reason, err := client.Subscribe(context.Background(), "open")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Empty(t, reason)

	granted, reason, err = client.Subscribe(context.Background(), "closed")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, "members only", reason)
}

func TestCreateChannelRequest(t *testing.T) {
	t.Parallel()

	server, url := startServer(t)

	var gotCfg transport.ChannelConfig
	var gotFrom transport.Subject
	server.SetCreateHandler(func(from transport.Subject, channel string, cfg transport.ChannelConfig) bool {
		gotFrom = from
		gotCfg = cfg
		return true
	})

	client := dial(t, url)

	granted, err := client.CreateChannel(context.Background(), "metrics", transport.ChannelConfig{
		RateLimit:      5,
		Priority:       9,
		MaxPayloadSize: 2048,
	})
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, client.Subject(), gotFrom)
	assert.Equal(t, 5, gotCfg.RateLimit)
	assert.Equal(t, 9, gotCfg.Priority)
	assert.Equal(t, 2048, gotCfg.MaxPayloadSize)
}

func TestRequestWithoutHandler(t *testing.T) {
	t.Parallel()

	_, url := startServer(t)
	client := dial(t, url)

	granted, reason, err := client.Subscribe(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.NotEmpty(t, reason)
}

func TestDisconnectHookFires(t *testing.T) {
	t.Parallel()

	server, url := startServer(t)

	var mu sync.Mutex
	var departed []transport.Subject
	server.SetDisconnectHandler(func(subject transport.Subject) {
		mu.Lock()
		defer mu.Unlock()
		departed = append(departed, subject)
	})

	client := dial(t, url)
	subject := client.Subject()
	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(departed) == 1 && departed[0] == subject
	}, time.Second, 5*time.Millisecond)
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	server, url := startServer(t)
	server.SetSubscribeHandler(func(transport.Subject, string) (bool, string) {
		time.Sleep(500 * time.Millisecond)
		return true, ""
	})

	client := dial(t, url, ws.WithRequestTimeout(50*time.Millisecond))

	_, _, err := client.Subscribe(context.Background(), "slow")
	require.Error(t, err)
}
