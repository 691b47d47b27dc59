package game

import "github.com/LemmyAI/duelo/internal/protocol"

// Broadcaster delivers host messages to controllers. Every method is best
// effort; failures are the transport's to log.
type Broadcaster interface {
	// Broadcast sends p to every open connection.
	Broadcast(p protocol.Payload)

	// SendTo sends p to one connection.
	SendTo(connID string, p protocol.Payload)

	// Kick tells a connection it was removed and closes it shortly after.
	Kick(connID, message string)
}
