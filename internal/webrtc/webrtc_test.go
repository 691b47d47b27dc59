package webrtc

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/LemmyAI/duelo/internal/signaling"
	"github.com/LemmyAI/duelo/internal/transport"
)

func newTestNetwork(t *testing.T) *Network {
	t.Helper()

	srv := httptest.NewServer(signaling.NewServer(signaling.NewMemoryBroker(clock.New()), signaling.DefaultConfig()))
	t.Cleanup(srv.Close)

	cfg := transport.DefaultConfig()
	cfg.ICEServers = nil
	return NewNetwork("ws"+strings.TrimPrefix(srv.URL, "http"), cfg, zaptest.NewLogger(t))
}

func TestNetwork_ListenRejectsTakenAddress(t *testing.T) {
	n := newTestNetwork(t)
	ctx := context.Background()

	l, err := n.Listen(ctx, "ABCD")
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "ABCD", l.Addr())

	_, err = n.Listen(ctx, "ABCD")
	assert.ErrorIs(t, err, transport.ErrAddrInUse)
}

func TestNetwork_AddressFreedOnClose(t *testing.T) {
	n := newTestNetwork(t)
	ctx := context.Background()

	l, err := n.Listen(ctx, "ABCD")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	require.Eventually(t, func() bool {
		again, err := n.Listen(ctx, "ABCD")
		if err != nil {
			return false
		}
		_ = again.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNetwork_DialUnknownAddress(t *testing.T) {
	n := newTestNetwork(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := n.Dial(ctx, "ZZZZ")
	assert.ErrorIs(t, err, transport.ErrPeerUnavailable)
}
