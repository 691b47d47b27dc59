package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Broker owns the peer id namespace and routes frames to whichever
// server holds the destination's socket.
type Broker interface {
	// Claim reserves id for owner until ttl elapses. It returns ErrIDTaken
	// if another owner holds a live claim.
	Claim(ctx context.Context, id, owner string, ttl time.Duration) error

	// Refresh extends a claim held by owner.
	Refresh(ctx context.Context, id, owner string, ttl time.Duration) error

	// Release drops a claim held by owner.
	Release(ctx context.Context, id, owner string) error

	// Subscribe receives frames published to id.
	Subscribe(ctx context.Context, id string) (Subscription, error)

	// Publish routes msg to msg.Dst. It returns ErrPeerUnavailable when no
	// live claim or subscriber exists for it.
	Publish(ctx context.Context, msg Message) error

	Close() error
}

// Subscription is a stream of frames for one peer id.
type Subscription interface {
	C() <-chan Message
	Close() error
}

const subscriptionBuffer = 64

// MemoryBroker keeps claims and subscriptions in process. It serves a
// single signaling server.
type MemoryBroker struct {
	clock clock.Clock

	mu     sync.Mutex
	claims map[string]memClaim
	subs   map[string]*memSub
}

type memClaim struct {
	owner   string
	expires time.Time
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(clk clock.Clock) *MemoryBroker {
	return &MemoryBroker{
		clock:  clk,
		claims: make(map[string]memClaim),
		subs:   make(map[string]*memSub),
	}
}

func (b *MemoryBroker) Claim(_ context.Context, id, owner string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.claims[id]; ok && c.owner != owner && b.clock.Now().Before(c.expires) {
		return ErrIDTaken
	}
	b.claims[id] = memClaim{owner: owner, expires: b.clock.Now().Add(ttl)}
	return nil
}

func (b *MemoryBroker) Refresh(_ context.Context, id, owner string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.claims[id]
	if !ok || c.owner != owner {
		return ErrNotOwner
	}
	c.expires = b.clock.Now().Add(ttl)
	b.claims[id] = c
	return nil
}

func (b *MemoryBroker) Release(_ context.Context, id, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.claims[id]; ok && c.owner == owner {
		delete(b.claims, id)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, id string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[id]; ok {
		old.closeLocked()
	}
	s := &memSub{broker: b, id: id, ch: make(chan Message, subscriptionBuffer)}
	b.subs[id] = s
	return s, nil
}

func (b *MemoryBroker) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, claimed := b.claims[msg.Dst]
	s, subscribed := b.subs[msg.Dst]
	if !claimed || !subscribed || !b.clock.Now().Before(c.expires) {
		return ErrPeerUnavailable
	}

	select {
	case s.ch <- msg:
	default:
		// A peer that stops draining its socket loses frames; the
		// negotiation times out on its side.
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		s.closeLocked()
	}
	b.claims = make(map[string]memClaim)
	return nil
}

type memSub struct {
	broker *MemoryBroker
	id     string
	ch     chan Message
	closed bool
}

func (s *memSub) C() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *memSub) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if s.broker.subs[s.id] == s {
		delete(s.broker.subs, s.id)
	}
}
