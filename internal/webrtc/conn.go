package webrtc

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/transport"
)

var errConnectionFailed = errors.New("webrtc: peer connection failed")

// conn adapts one data channel to transport.Conn.
type conn struct {
	transport.Hooks

	id   string
	dc   *webrtc.DataChannel
	pc   *webrtc.PeerConnection
	done chan struct{}
	once sync.Once
}

func newConn(id string, dc *webrtc.DataChannel, pc *webrtc.PeerConnection) *conn {
	c := &conn{id: id, dc: dc, pc: pc, done: make(chan struct{})}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.Deliver(msg.Data)
	})
	dc.OnClose(func() { c.shutdown(nil) })
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.shutdown(errConnectionFailed)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			c.shutdown(nil)
		}
	})
	return c
}

func (c *conn) ID() string { return c.id }

func (c *conn) Open() bool {
	return !c.Closed() && c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *conn) Send(data []byte) error {
	if !c.Open() {
		return transport.ErrNotOpen
	}
	return c.dc.Send(data)
}

func (c *conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *conn) OnMessage(handler transport.MessageHandler) { c.SetMessage(handler) }

func (c *conn) OnClose(handler transport.CloseHandler) { c.SetClose(handler) }

// shutdown fires the close handler once and releases pion resources off
// the callback goroutine.
func (c *conn) shutdown(err error) {
	c.once.Do(func() {
		close(c.done)
		c.FireClose(err)
		go func() {
			_ = c.dc.Close()
			_ = c.pc.Close()
		}()
	})
}

// negotiation buffers remote ICE candidates until the remote description
// is set; pion rejects candidates that arrive earlier.
type negotiation struct {
	pc  *webrtc.PeerConnection
	log *zap.Logger

	mu        sync.Mutex
	remoteSet bool
	queued    []webrtc.ICECandidateInit
}

func newNegotiation(pc *webrtc.PeerConnection, log *zap.Logger) *negotiation {
	return &negotiation{pc: pc, log: log}
}

func (n *negotiation) setRemote(sd webrtc.SessionDescription) error {
	if err := n.pc.SetRemoteDescription(sd); err != nil {
		return err
	}

	n.mu.Lock()
	n.remoteSet = true
	queued := n.queued
	n.queued = nil
	n.mu.Unlock()

	for _, c := range queued {
		if err := n.pc.AddICECandidate(c); err != nil {
			n.log.Debug("add queued candidate", zap.Error(err))
		}
	}
	return nil
}

func (n *negotiation) addCandidate(payload json.RawMessage) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &c); err != nil {
		n.log.Debug("bad candidate", zap.Error(err))
		return
	}

	n.mu.Lock()
	if !n.remoteSet {
		n.queued = append(n.queued, c)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	if err := n.pc.AddICECandidate(c); err != nil {
		n.log.Debug("add candidate", zap.Error(err))
	}
}
