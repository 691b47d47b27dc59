package webrtc

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/signaling"
	"github.com/LemmyAI/duelo/internal/transport"
)

// listener is the host side: one peer connection per controller id.
type listener struct {
	network *Network
	addr    string
	sig     *signaling.Client
	log     *zap.Logger

	mu      sync.Mutex
	handler transport.ConnectHandler
	pending []transport.Conn
	peers   map[string]*negotiation
	conns   map[*conn]struct{}
	closed  bool
}

func (l *listener) Addr() string { return l.addr }

func (l *listener) OnConnection(handler transport.ConnectHandler) {
	l.mu.Lock()
	l.handler = handler
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		handler(c)
	}
}

func (l *listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conns := l.conns
	peers := l.peers
	l.conns = nil
	l.peers = nil
	l.mu.Unlock()

	for c := range conns {
		_ = c.Close()
	}
	for _, p := range peers {
		_ = p.pc.Close()
	}
	return l.sig.Close()
}

func (l *listener) handleSignal(msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeOffer:
		l.handleOffer(msg)
	case signaling.TypeCandidate:
		if neg := l.peer(msg.Src); neg != nil {
			neg.addCandidate(msg.Payload)
		}
	case signaling.TypeLeave:
		if neg := l.drop(msg.Src); neg != nil {
			l.log.Debug("peer left before connecting", zap.String("peer", msg.Src))
			_ = neg.pc.Close()
		}
	case signaling.TypeError:
		p, _ := msg.ErrorCode()
		l.log.Debug("signaling error", zap.String("code", p.Code), zap.String("peer", p.Peer))
	}
}

func (l *listener) handleOffer(msg signaling.Message) {
	log := l.log.With(zap.String("peer", msg.Src))

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &offer); err != nil {
		log.Warn("bad offer", zap.Error(err))
		return
	}

	pc, err := l.network.api.NewPeerConnection(l.network.config)
	if err != nil {
		log.Error("create peer connection", zap.Error(err))
		return
	}
	neg := newNegotiation(pc, log)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = pc.Close()
		return
	}
	if old := l.peers[msg.Src]; old != nil {
		_ = old.pc.Close()
	}
	l.peers[msg.Src] = neg
	l.mu.Unlock()

	remote := msg.Src
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := sendJSON(l.sig, signaling.TypeCandidate, remote, c.ToJSON()); err != nil {
			log.Debug("send candidate", zap.Error(err))
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c := newConn(remote, dc, pc)
		dc.OnOpen(func() {
			l.mu.Lock()
			if l.peers[remote] == neg {
				delete(l.peers, remote)
			}
			l.mu.Unlock()
			log.Info("🎮 controller connected")
			l.accept(c)
		})
	})

	if err := neg.setRemote(offer); err != nil {
		log.Warn("set remote description", zap.Error(err))
		l.drop(remote)
		_ = pc.Close()
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err == nil {
		err = sendJSON(l.sig, signaling.TypeAnswer, remote, answer)
	}
	if err != nil {
		log.Warn("answer failed", zap.Error(err))
		l.drop(remote)
		_ = pc.Close()
	}
}

func (l *listener) peer(id string) *negotiation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peers[id]
}

func (l *listener) drop(id string) *negotiation {
	l.mu.Lock()
	defer l.mu.Unlock()
	neg := l.peers[id]
	delete(l.peers, id)
	return neg
}

func (l *listener) accept(c *conn) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = c.Close()
		return
	}
	if l.conns == nil {
		l.conns = make(map[*conn]struct{})
	}
	l.conns[c] = struct{}{}
	handler := l.handler
	if handler == nil {
		l.pending = append(l.pending, c)
	}
	l.mu.Unlock()

	go func() {
		<-c.done
		l.mu.Lock()
		delete(l.conns, c)
		l.mu.Unlock()
	}()

	if handler != nil {
		handler(c)
	}
}
