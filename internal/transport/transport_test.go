package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder collects frames and the close error from a Conn.
type recorder struct {
	mu       sync.Mutex
	frames   []string
	closed   bool
	closeErr error
}

func record(c Conn) *recorder {
	r := &recorder{}
	c.OnMessage(func(data []byte) {
		r.mu.Lock()
		r.frames = append(r.frames, string(data))
		r.mu.Unlock()
	})
	c.OnClose(func(err error) {
		r.mu.Lock()
		r.closed = true
		r.closeErr = err
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.frames...)
}

func (r *recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func TestMockNetwork_ListenRejectsTakenAddress(t *testing.T) {
	n := NewMockNetwork()

	_, err := n.Listen(context.Background(), "ABCD")
	require.NoError(t, err)

	_, err = n.Listen(context.Background(), "ABCD")
	assert.ErrorIs(t, err, ErrAddrInUse)
}

func TestMockNetwork_DialUnknownAddress(t *testing.T) {
	n := NewMockNetwork()

	_, err := n.Dial(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}

func TestMockNetwork_DeliversInOrder(t *testing.T) {
	n := NewMockNetwork()
	l, err := n.Listen(context.Background(), "ABCD")
	require.NoError(t, err)

	accepted := make(chan Conn, 1)
	l.OnConnection(func(c Conn) { accepted <- c })

	client, err := n.DialAs(context.Background(), "ABCD", "peer-1")
	require.NoError(t, err)
	assert.Equal(t, "ABCD", client.ID())

	host := <-accepted
	assert.Equal(t, "peer-1", host.ID())
	hostRec := record(host)

	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, client.Send([]byte(s)))
	}

	assert.Eventually(t, func() bool {
		return len(hostRec.Frames()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, hostRec.Frames())
}

func TestMockNetwork_CloseDeliversQueuedFramesFirst(t *testing.T) {
	n := NewMockNetwork()
	l, _ := n.Listen(context.Background(), "ABCD")

	accepted := make(chan Conn, 1)
	l.OnConnection(func(c Conn) { accepted <- c })

	client, err := n.DialAs(context.Background(), "ABCD", "peer-1")
	require.NoError(t, err)
	host := <-accepted

	require.NoError(t, host.Send([]byte("bye")))
	require.NoError(t, host.Close())
	assert.False(t, host.Open())
	assert.ErrorIs(t, host.Send([]byte("late")), ErrNotOpen)

	// Handlers registered after the fact still see the buffered frame and
	// the close.
	rec := record(client)
	assert.Eventually(t, rec.Closed, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bye"}, rec.Frames())
}

func TestMockConn_DropReportsError(t *testing.T) {
	n := NewMockNetwork()
	l, _ := n.Listen(context.Background(), "ABCD")

	accepted := make(chan Conn, 1)
	l.OnConnection(func(c Conn) { accepted <- c })

	client, err := n.DialAs(context.Background(), "ABCD", "peer-1")
	require.NoError(t, err)
	hostRec := record(<-accepted)

	boom := errors.New("ice failed")
	client.Drop(boom)

	assert.Eventually(t, hostRec.Closed, time.Second, 5*time.Millisecond)
	hostRec.mu.Lock()
	defer hostRec.mu.Unlock()
	assert.ErrorIs(t, hostRec.closeErr, boom)
}

func TestMockListener_CloseReleasesAddress(t *testing.T) {
	n := NewMockNetwork()
	l, _ := n.Listen(context.Background(), "ABCD")
	l.OnConnection(func(Conn) {})

	client, err := n.Dial(context.Background(), "ABCD")
	require.NoError(t, err)
	rec := record(client)

	require.NoError(t, l.Close())
	assert.Eventually(t, rec.Closed, time.Second, 5*time.Millisecond)

	_, err = n.Listen(context.Background(), "ABCD")
	assert.NoError(t, err)
}

func TestHooks_CloseFiresOnce(t *testing.T) {
	var h Hooks
	calls := 0
	h.SetClose(func(error) { calls++ })

	assert.True(t, h.FireClose(nil))
	assert.False(t, h.FireClose(errors.New("again")))
	assert.Equal(t, 1, calls)
	assert.True(t, h.Closed())
}

func newWSPair(t *testing.T) (*WSNetwork, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	n := NewWSNetwork(cfg, "", zap.NewNop())
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)

	n.baseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return n, srv
}

func TestWSNetwork_RoundTrip(t *testing.T) {
	n, _ := newWSPair(t)

	l, err := n.Listen(context.Background(), "WXYZ")
	require.NoError(t, err)

	accepted := make(chan Conn, 1)
	l.OnConnection(func(c Conn) { accepted <- c })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := n.Dial(ctx, "WXYZ")
	require.NoError(t, err)
	clientRec := record(client)

	var host Conn
	select {
	case host = <-accepted:
	case <-ctx.Done():
		t.Fatal("host never accepted")
	}
	hostRec := record(host)

	require.NoError(t, client.Send([]byte("hello")))
	assert.Eventually(t, func() bool {
		return len(hostRec.Frames()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.Send([]byte("kick")))
	require.NoError(t, host.Close())

	assert.Eventually(t, clientRec.Closed, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"kick"}, clientRec.Frames())
	assert.Eventually(t, hostRec.Closed, 2*time.Second, 10*time.Millisecond)
}

func TestWSNetwork_DialUnknownAddress(t *testing.T) {
	n, _ := newWSPair(t)

	_, err := n.Dial(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}

func TestWSNetwork_ListenRejectsTakenAddress(t *testing.T) {
	n, _ := newWSPair(t)

	_, err := n.Listen(context.Background(), "WXYZ")
	require.NoError(t, err)
	_, err = n.Listen(context.Background(), "WXYZ")
	assert.ErrorIs(t, err, ErrAddrInUse)
}

func TestWSNetwork_RejectsHeldPeerID(t *testing.T) {
	n, srv := newWSPair(t)

	l, err := n.Listen(context.Background(), "WXYZ")
	require.NoError(t, err)
	accepted := make(chan Conn, 2)
	l.OnConnection(func(c Conn) { accepted <- c })

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + PeerPath + "WXYZ?id=c1"
	first, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer first.Close()

	var host Conn
	select {
	case host = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("host never accepted")
	}
	assert.Equal(t, "c1", host.ID())

	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Empty(t, accepted, "a second conn under a held id never reaches the listener")
	assert.True(t, host.Open())
}
