package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbus/chanbus/core/broker"
	"github.com/chanbus/chanbus/core/channel"
	"github.com/chanbus/chanbus/core/payload"
	"github.com/chanbus/chanbus/core/transport"
)

type received struct {
	sender transport.Subject
	values []payload.Value
}

// recorder collects handler deliveries for assertions. Deliveries are
// asynchronous, so tests poll it with require.Eventually.
type recorder struct {
	mu       sync.Mutex
	messages []received
}

func (r *recorder) handler() channel.HandlerFunc {
	return func(_ context.Context, sender transport.Subject, values []payload.Value) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.messages = append(r.messages, received{sender: sender, values: values})
		return nil
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) snapshot() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]received, len(r.messages))
	copy(out, r.messages)
	return out
}

func newAuthority(t *testing.T, opts ...broker.Option) (*transport.Network, *broker.Node) {
	t.Helper()
	network := transport.NewMemoryNetwork()
	node, err := broker.NewAuthority(network.AuthorityEndpoint(), opts...)
	require.NoError(t, err)
	return network, node
}

func newPeer(t *testing.T, network *transport.Network, subject transport.Subject, opts ...broker.Option) (*broker.Node, *transport.PeerEndpoint) {
	t.Helper()
	endpoint := network.Connect(subject)
	node, err := broker.NewPeer(subject, endpoint, opts...)
	require.NoError(t, err)
	return node, endpoint
}

func eventuallyCount(t *testing.T, rec *recorder, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.count() >= want
	}, time.Second, 5*time.Millisecond)
	// Settle before asserting nothing extra arrived.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, want, rec.count())
}

func TestNodeImmediateRelay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "alerts", channel.WithBatching(false)))

	authRec := &recorder{}
	require.NoError(t, authority.On("alerts", authRec.handler()))

	sender, _ := newPeer(t, network, 1)
	require.NoError(t, sender.Register(ctx, "alerts", channel.WithBatching(false)))
	require.NoError(t, sender.Subscribe(ctx, "alerts"))
	senderRec := &recorder{}
	require.NoError(t, sender.On("alerts", senderRec.handler()))

	listener, _ := newPeer(t, network, 2)
	require.NoError(t, listener.Subscribe(ctx, "alerts"))
	listenerRec := &recorder{}
	require.NoError(t, listener.On("alerts", listenerRec.handler()))

	require.NoError(t, sender.Send(ctx, "alerts", payload.String("fire")))

	eventuallyCount(t, authRec, 1)
	eventuallyCount(t, listenerRec, 1)

	got := listenerRec.snapshot()[0]
	assert.Equal(t, transport.Subject(1), got.sender)
	require.Len(t, got.values, 1)
	assert.Equal(t, "fire", got.values[0].Str)

	// Sender never hears its own message back.
	assert.Zero(t, senderRec.count())
	assert.Equal(t, int64(1), authority.Stats().MessagesDelivered)
}

func TestNodeAuthoritySendNoSelfEcho(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "news", channel.WithBatching(false)))

	authRec := &recorder{}
	require.NoError(t, authority.On("news", authRec.handler()))

	listener, _ := newPeer(t, network, 7)
	require.NoError(t, listener.Subscribe(ctx, "news"))
	listenerRec := &recorder{}
	require.NoError(t, listener.On("news", listenerRec.handler()))

	require.NoError(t, authority.Send(ctx, "news", payload.Int(42)))

	eventuallyCount(t, listenerRec, 1)
	assert.Equal(t, transport.Authority, listenerRec.snapshot()[0].sender)
	assert.Zero(t, authRec.count())
}

func TestNodeSendUnknownChannel(t *testing.T) {
	t.Parallel()

	_, authority := newAuthority(t)

	err := authority.Send(context.Background(), "missing", payload.Nil())
	require.ErrorIs(t, err, broker.ErrUnknownChannel)
}

func TestNodeSendSizeLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "tiny",
		channel.WithBatching(false), channel.WithMaxPayloadSize(4)))

	require.NoError(t, authority.Send(ctx, "tiny", payload.String("ok")))

	err := authority.Send(ctx, "tiny", payload.String("way too long"))
	require.ErrorIs(t, err, broker.ErrSizeLimitExceeded)
}

func TestNodeSendRateLimited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "chatty",
		channel.WithBatching(false), channel.WithRateLimit(2)))

	require.NoError(t, authority.Send(ctx, "chatty", payload.Int(1)))
	require.NoError(t, authority.Send(ctx, "chatty", payload.Int(2)))

	err := authority.Send(ctx, "chatty", payload.Int(3))
	require.ErrorIs(t, err, broker.ErrRateLimited)
	assert.Equal(t, int64(1), authority.Stats().MessagesRateLimited)
}

func TestNodeInboundRateLimitEnforced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "chatty",
		channel.WithBatching(false), channel.WithRateLimit(2)))

	authRec := &recorder{}
	require.NoError(t, authority.On("chatty", authRec.handler()))

	// The peer's local limit is generous; only the authority's counts.
	sender, _ := newPeer(t, network, 1)
	require.NoError(t, sender.Register(ctx, "chatty",
		channel.WithBatching(false), channel.WithRateLimit(100)))

	for i := 0; i < 4; i++ {
		require.NoError(t, sender.Send(ctx, "chatty", payload.Int(int64(i))))
	}

	eventuallyCount(t, authRec, 2)
	assert.Equal(t, int64(2), authority.Stats().MessagesRateLimited)
}

func TestNodeSubscribeAccessControl(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "vip",
		channel.WithAccessCheck(func(s transport.Subject) bool { return s == 1 })))

	admitted, _ := newPeer(t, network, 1)
	require.NoError(t, admitted.Subscribe(ctx, "vip"))

	rejected, _ := newPeer(t, network, 2)
	err := rejected.Subscribe(ctx, "vip")
	require.ErrorIs(t, err, broker.ErrAccessDenied)
	assert.False(t, authority.IsSubscribed("vip", 2))
}

func TestNodeAccessPanicDenies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "broken",
		channel.WithAccessCheck(func(transport.Subject) bool { panic("boom") })))

	peer, _ := newPeer(t, network, 1)
	err := peer.Subscribe(ctx, "broken")
	require.ErrorIs(t, err, broker.ErrAccessDenied)
	assert.ErrorContains(t, err, "access check failed")
	assert.False(t, authority.IsSubscribed("broken", 1))
}

func TestNodeFilterBlocksAndReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "chat", channel.WithBatching(false)))
	require.NoError(t, authority.AddFilter("chat",
		func(_ transport.Subject, values []payload.Value) (bool, string, []payload.Value) {
			if len(values) > 0 && values[0].Str == "bad" {
				return true, "profanity", nil
			}
			if len(values) > 0 && values[0].Str == "secret" {
				return false, "", []payload.Value{payload.String("[redacted]")}
			}
			return false, "", nil
		}))

	sender, _ := newPeer(t, network, 1)
	require.NoError(t, sender.Register(ctx, "chat", channel.WithBatching(false)))

	listener, _ := newPeer(t, network, 2)
	require.NoError(t, listener.Subscribe(ctx, "chat"))
	listenerRec := &recorder{}
	require.NoError(t, listener.On("chat", listenerRec.handler()))

	require.NoError(t, sender.Send(ctx, "chat", payload.String("bad")))
	require.NoError(t, sender.Send(ctx, "chat", payload.String("secret")))
	require.NoError(t, sender.Send(ctx, "chat", payload.String("hello")))

	eventuallyCount(t, listenerRec, 2)

	got := listenerRec.snapshot()
	assert.Equal(t, "[redacted]", got[0].values[0].Str)
	assert.Equal(t, "hello", got[1].values[0].Str)
	assert.Equal(t, int64(1), authority.Stats().MessagesFiltered)
}

func TestNodeFilterPanicFailsOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "chat", channel.WithBatching(false)))
	require.NoError(t, authority.AddFilter("chat",
		func(transport.Subject, []payload.Value) (bool, string, []payload.Value) {
			panic("filter bug")
		}))

	sender, _ := newPeer(t, network, 1)
	require.NoError(t, sender.Register(ctx, "chat", channel.WithBatching(false)))

	listener, _ := newPeer(t, network, 2)
	require.NoError(t, listener.Subscribe(ctx, "chat"))
	listenerRec := &recorder{}
	require.NoError(t, listener.On("chat", listenerRec.handler()))

	require.NoError(t, sender.Send(ctx, "chat", payload.String("still here")))

	eventuallyCount(t, listenerRec, 1)
	assert.Equal(t, "still here", listenerRec.snapshot()[0].values[0].Str)
}

func TestNodeBatchEnvelopeOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "stream"))

	sender, _ := newPeer(t, network, 1)
	require.NoError(t, sender.Register(ctx, "stream"))
	require.NoError(t, sender.Subscribe(ctx, "stream"))
	senderRec := &recorder{}
	require.NoError(t, sender.On("stream", senderRec.handler()))

	listener, _ := newPeer(t, network, 2)
	require.NoError(t, listener.Subscribe(ctx, "stream"))
	listenerRec := &recorder{}
	require.NoError(t, listener.On("stream", listenerRec.handler()))

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, sender.Send(ctx, "stream", payload.String(s)))
	}

	// Nothing moves until the queues drain.
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, listenerRec.count())

	sender.Flush(ctx)    // peer queue to authority, one envelope
	authority.Flush(ctx) // authority relay to subscribers

	eventuallyCount(t, listenerRec, 3)

	got := listenerRec.snapshot()
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, got[i].values[0].Str)
		assert.Equal(t, transport.Subject(1), got[i].sender)
	}
	assert.Zero(t, senderRec.count())
}

func TestNodePeerCreateDefaultAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t, broker.WithPrivilegedSubjects(3))

	creator, _ := newPeer(t, network, 1)
	require.NoError(t, creator.Register(ctx, "private"))
	require.NoError(t, creator.Subscribe(ctx, "private"))

	outsider, _ := newPeer(t, network, 2)
	require.ErrorIs(t, outsider.Subscribe(ctx, "private"), broker.ErrAccessDenied)

	privileged, _ := newPeer(t, network, 3)
	require.NoError(t, privileged.Subscribe(ctx, "private"))

	assert.True(t, authority.IsSubscribed("private", 1))
	assert.False(t, authority.IsSubscribed("private", 2))
	assert.True(t, authority.IsSubscribed("private", 3))
}

func TestNodeCreateExistingChannelIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, _ := newAuthority(t)

	first, _ := newPeer(t, network, 1)
	require.NoError(t, first.Register(ctx, "shared"))

	// A second creator is granted without becoming owner.
	second, _ := newPeer(t, network, 2)
	require.NoError(t, second.Register(ctx, "shared", channel.WithMaxPayloadSize(1)))

	// The original creator still holds access; the second never gained it.
	require.NoError(t, first.Subscribe(ctx, "shared"))
	require.ErrorIs(t, second.Subscribe(ctx, "shared"), broker.ErrAccessDenied)
}

func TestNodeDeparturePurgesSubscriptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "room"))

	peer, endpoint := newPeer(t, network, 5)
	require.NoError(t, peer.Subscribe(ctx, "room"))
	require.True(t, authority.IsSubscribed("room", 5))

	require.NoError(t, endpoint.Close())
	assert.False(t, authority.IsSubscribed("room", 5))
}

func TestNodeHandlerIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	network, authority := newAuthority(t)
	require.NoError(t, authority.Register(ctx, "jobs", channel.WithBatching(false)))

	require.NoError(t, authority.On("jobs",
		func(context.Context, transport.Subject, []payload.Value) error {
			panic("handler bug")
		}))
	require.NoError(t, authority.On("jobs",
		func(context.Context, transport.Subject, []payload.Value) error {
			return errors.New("handler error")
		}))
	authRec := &recorder{}
	require.NoError(t, authority.On("jobs", authRec.handler()))

	sender, _ := newPeer(t, network, 1)
	require.NoError(t, sender.Register(ctx, "jobs", channel.WithBatching(false)))
	require.NoError(t, sender.Send(ctx, "jobs", payload.String("work")))

	eventuallyCount(t, authRec, 1)
	require.Eventually(t, func() bool {
		return authority.Stats().HandlerFailures == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNodeLifecycle(t *testing.T) {
	t.Parallel()

	network := transport.NewMemoryNetwork()
	node, err := broker.NewAuthority(network.AuthorityEndpoint())
	require.NoError(t, err)

	require.Error(t, node.Healthcheck(context.Background()))
	require.ErrorIs(t, node.Stop(), broker.ErrNodeNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- node.Start(ctx) }()

	require.Eventually(t, func() bool {
		return node.Stats().IsRunning
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, node.Healthcheck(ctx))

	require.NoError(t, node.Stop())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("start did not return after stop")
	}
	assert.False(t, node.Stats().IsRunning)
}

func TestNodeBatchedDeliveryWhileRunning(t *testing.T) {
	t.Parallel()

	network, authority := newAuthority(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = authority.Start(ctx) }()
	t.Cleanup(func() { _ = authority.Stop() })

	require.NoError(t, authority.Register(ctx, "ticks"))

	sender, _ := newPeer(t, network, 1)
	go func() { _ = sender.Start(ctx) }()
	t.Cleanup(func() { _ = sender.Stop() })
	require.NoError(t, sender.Register(ctx, "ticks"))

	listener, _ := newPeer(t, network, 2)
	require.NoError(t, listener.Subscribe(ctx, "ticks"))
	listenerRec := &recorder{}
	require.NoError(t, listener.On("ticks", listenerRec.handler()))

	require.NoError(t, sender.Send(ctx, "ticks", payload.String("tick")))

	require.Eventually(t, func() bool {
		return listenerRec.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
}
