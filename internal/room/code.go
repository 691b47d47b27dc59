package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/LemmyAI/duelo/internal/random"
	"github.com/LemmyAI/duelo/internal/transport"
)

const (
	// CodeAlphabet leaves out O and 0 so codes read unambiguously aloud.
	CodeAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"
	CodeLength   = 4

	MaxClaimAttempts = 10
)

// GenerateCode draws a fresh room code.
func GenerateCode(rnd random.Random) string {
	return rnd.String(CodeLength, CodeAlphabet)
}

// Listener claims a network address.
type Listener interface {
	Listen(ctx context.Context, addr string) (transport.Listener, error)
}

// Claim generates codes until the network accepts one. Collisions are
// retried up to MaxClaimAttempts times; any other error aborts.
func Claim(ctx context.Context, rnd random.Random, network Listener) (transport.Listener, error) {
	for attempt := 0; attempt < MaxClaimAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l, err := network.Listen(ctx, GenerateCode(rnd))
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, transport.ErrAddrInUse) {
			return nil, fmt.Errorf("claim room code: %w", err)
		}
	}
	return nil, ErrAddressExhausted
}
