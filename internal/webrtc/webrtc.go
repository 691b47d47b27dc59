// Package webrtc carries controller traffic over WebRTC data channels,
// negotiated through the signaling server. The host registers its room
// code as a peer id; controllers register a random id and dial it.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/logging"
	"github.com/LemmyAI/duelo/internal/signaling"
	"github.com/LemmyAI/duelo/internal/transport"
)

const dataChannelLabel = "duelo"

// Network implements transport.Network over pion.
type Network struct {
	signalURL string
	api       *webrtc.API
	config    webrtc.Configuration
	log       *zap.Logger
}

var _ transport.Network = (*Network)(nil)

// NewNetwork creates a WebRTC network that negotiates through the
// signaling server at signalURL.
func NewNetwork(signalURL string, cfg transport.Config, logger *zap.Logger) *Network {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = logging.PionFactory(logger)

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.ICEServers})
	}

	return &Network{
		signalURL: signalURL,
		api:       webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config:    webrtc.Configuration{ICEServers: servers},
		log:       logger.Named("webrtc"),
	}
}

// Listen registers addr with the signaling server and answers offers
// addressed to it.
func (n *Network) Listen(ctx context.Context, addr string) (transport.Listener, error) {
	sig, err := signaling.Dial(ctx, n.signalURL, addr)
	if errors.Is(err, signaling.ErrIDTaken) {
		return nil, transport.ErrAddrInUse
	}
	if err != nil {
		return nil, err
	}

	l := &listener{
		network: n,
		addr:    addr,
		sig:     sig,
		log:     n.log.With(zap.String("room", addr)),
		peers:   make(map[string]*negotiation),
	}
	sig.Start(l.handleSignal)
	go func() {
		<-sig.Done()
		l.log.Warn("signaling connection lost")
	}()

	l.log.Info("🏠 listening for controllers")
	return l, nil
}

// Dial opens a data channel to the host registered at addr. It fails with
// transport.ErrPeerUnavailable when nobody holds addr.
func (n *Network) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	id := uuid.New().String()[:8]

	sig, err := signaling.Dial(ctx, n.signalURL, id)
	if err != nil {
		return nil, err
	}

	pc, err := n.api.NewPeerConnection(n.config)
	if err != nil {
		_ = sig.Close()
		return nil, err
	}
	neg := newNegotiation(pc, n.log)

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		_ = sig.Close()
		return nil, err
	}

	conn := newConn(addr, dc, pc)
	opened := make(chan struct{})
	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	dc.OnOpen(func() { close(opened) })
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		sendJSON(sig, signaling.TypeCandidate, addr, c.ToJSON())
	})

	sig.Start(func(msg signaling.Message) {
		if msg.Src != addr && msg.Type != signaling.TypeError {
			return
		}
		switch msg.Type {
		case signaling.TypeAnswer:
			var sd webrtc.SessionDescription
			if err := json.Unmarshal(msg.Payload, &sd); err != nil {
				fail(err)
				return
			}
			if err := neg.setRemote(sd); err != nil {
				fail(err)
			}
		case signaling.TypeCandidate:
			neg.addCandidate(msg.Payload)
		case signaling.TypeLeave:
			fail(transport.ErrPeerUnavailable)
		case signaling.TypeError:
			if p, ok := msg.ErrorCode(); ok && p.Code == signaling.CodePeerUnavailable {
				fail(transport.ErrPeerUnavailable)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = sendJSON(sig, signaling.TypeOffer, addr, offer)
	}
	if err != nil {
		_ = conn.Close()
		_ = sig.Close()
		return nil, fmt.Errorf("send offer: %w", err)
	}

	select {
	case <-opened:
		// The data channel is up; signaling is no longer needed.
		_ = sig.Close()
		n.log.Debug("data channel open", zap.String("peer", id), zap.String("room", addr))
		return conn, nil
	case err := <-failed:
		_ = conn.Close()
		_ = sig.Close()
		return nil, err
	case <-ctx.Done():
		_ = conn.Close()
		_ = sig.Close()
		return nil, ctx.Err()
	}
}

func sendJSON(sig *signaling.Client, typ signaling.MessageType, dst string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sig.Send(signaling.Message{Type: typ, Dst: dst, Payload: body})
}
