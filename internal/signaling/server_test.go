package signaling

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LemmyAI/duelo/internal/metrics"
)

type inbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (i *inbox) add(m Message) {
	i.mu.Lock()
	i.msgs = append(i.msgs, m)
	i.mu.Unlock()
}

func (i *inbox) All() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Message{}, i.msgs...)
}

func (i *inbox) Has(typ MessageType, src string) bool {
	for _, m := range i.All() {
		if m.Type == typ && m.Src == src {
			return true
		}
	}
	return false
}

func startServer(t *testing.T) (*Server, *metrics.Metrics, string) {
	t.Helper()

	m := metrics.NewNop()
	s := NewServer(NewMemoryBroker(clock.New()), DefaultConfig(), WithMetrics(m))
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		_ = s.Close()
		srv.Close()
	})
	return s, m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialPeer(t *testing.T, url, id string) (*Client, *inbox) {
	t.Helper()

	c, err := Dial(context.Background(), url, id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	in := &inbox{}
	c.Start(in.add)
	return c, in
}

func TestServer_RegisterAndRelay(t *testing.T) {
	s, m, url := startServer(t)

	host, hostInbox := dialPeer(t, url, "host-ABCD")
	guest, guestInbox := dialPeer(t, url, "guest-1")

	require.Eventually(t, func() bool { return s.PeerCount() == 2 }, time.Second, 10*time.Millisecond)

	// Src is overwritten with the registered id.
	require.NoError(t, guest.Send(Message{Type: TypeOffer, Dst: "host-ABCD", Payload: json.RawMessage(`{"sdp":"x"}`)}))
	require.Eventually(t, func() bool { return hostInbox.Has(TypeOffer, "guest-1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, host.Send(Message{Type: TypeAnswer, Dst: "guest-1"}))
	require.Eventually(t, func() bool { return guestInbox.Has(TypeAnswer, "host-ABCD") }, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1.0, metrics.Value(m.SignalRelayed.WithLabelValues(string(TypeOffer))))
	assert.Equal(t, 2.0, metrics.Value(m.SignalPeers))
}

func TestServer_DuplicateIDRejected(t *testing.T) {
	_, m, url := startServer(t)

	dialPeer(t, url, "host-ABCD")

	_, err := Dial(context.Background(), url, "host-ABCD")
	assert.ErrorIs(t, err, ErrIDTaken)
	assert.Equal(t, 1.0, metrics.Value(m.SignalRejected.WithLabelValues(CodeUnavailableID)))
}

func TestServer_UnknownDestination(t *testing.T) {
	_, _, url := startServer(t)

	guest, in := dialPeer(t, url, "guest-1")
	require.NoError(t, guest.Send(Message{Type: TypeOffer, Dst: "host-ZZZZ"}))

	require.Eventually(t, func() bool {
		for _, m := range in.All() {
			if p, ok := m.ErrorCode(); ok && p.Code == CodePeerUnavailable && p.Peer == "host-ZZZZ" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestServer_InvalidFrameRejected(t *testing.T) {
	_, _, url := startServer(t)

	guest, in := dialPeer(t, url, "guest-1")
	require.NoError(t, guest.Send(Message{Type: TypeRegister, Dst: "guest-2"}))

	require.Eventually(t, func() bool {
		for _, m := range in.All() {
			if p, ok := m.ErrorCode(); ok && p.Code == CodeInvalidMessage {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestServer_LeaveSentToContactsOnClose(t *testing.T) {
	s, _, url := startServer(t)

	_, hostInbox := dialPeer(t, url, "host-ABCD")
	guest, _ := dialPeer(t, url, "guest-1")

	require.NoError(t, guest.Send(Message{Type: TypeOffer, Dst: "host-ABCD"}))
	require.Eventually(t, func() bool { return hostInbox.Has(TypeOffer, "guest-1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, guest.Close())

	require.Eventually(t, func() bool { return hostInbox.Has(TypeLeave, "guest-1") }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.PeerCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_IDReusableAfterClose(t *testing.T) {
	s, _, url := startServer(t)

	c, err := Dial(context.Background(), url, "host-ABCD")
	require.NoError(t, err)
	c.Start(func(Message) {})
	require.Eventually(t, func() bool { return s.PeerCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return s.PeerCount() == 0 }, time.Second, 10*time.Millisecond)

	again, err := Dial(context.Background(), url, "host-ABCD")
	require.NoError(t, err)
	_ = again.Close()
}

func TestClient_SendAfterClose(t *testing.T) {
	_, _, url := startServer(t)

	c, _ := dialPeer(t, url, "guest-1")
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send(Message{Type: TypeOffer, Dst: "x"}), ErrClosed)
	<-c.Done()
}

func TestMemoryBroker_ClaimExpires(t *testing.T) {
	clk := clock.NewMock()
	b := NewMemoryBroker(clk)
	ctx := context.Background()

	require.NoError(t, b.Claim(ctx, "host-ABCD", "a", 30*time.Second))
	assert.ErrorIs(t, b.Claim(ctx, "host-ABCD", "b", 30*time.Second), ErrIDTaken)

	// The owner may re-claim its own id.
	require.NoError(t, b.Claim(ctx, "host-ABCD", "a", 30*time.Second))

	clk.Add(31 * time.Second)
	require.NoError(t, b.Claim(ctx, "host-ABCD", "b", 30*time.Second))
	assert.ErrorIs(t, b.Refresh(ctx, "host-ABCD", "a", time.Second), ErrNotOwner)
}

func TestMemoryBroker_PublishNeedsClaimAndSubscriber(t *testing.T) {
	b := NewMemoryBroker(clock.New())
	ctx := context.Background()
	msg := Message{Type: TypeOffer, Src: "g", Dst: "h"}

	assert.ErrorIs(t, b.Publish(ctx, msg), ErrPeerUnavailable)

	require.NoError(t, b.Claim(ctx, "h", "owner", time.Minute))
	assert.ErrorIs(t, b.Publish(ctx, msg), ErrPeerUnavailable)

	sub, err := b.Subscribe(ctx, "h")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, msg))
	assert.Equal(t, msg, <-sub.C())

	require.NoError(t, sub.Close())
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, b.Publish(ctx, msg), ErrPeerUnavailable)
}
