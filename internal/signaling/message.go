// Package signaling is a small PeerJS-style broker: peers register an id
// over a websocket and exchange SDP offers, answers and ICE candidates
// addressed by id.
package signaling

import "encoding/json"

// MessageType discriminates signaling frames.
type MessageType string

const (
	TypeRegister   MessageType = "REGISTER"
	TypeRegistered MessageType = "REGISTERED"
	TypeOffer      MessageType = "OFFER"
	TypeAnswer     MessageType = "ANSWER"
	TypeCandidate  MessageType = "CANDIDATE"
	TypeLeave      MessageType = "LEAVE"
	TypeError      MessageType = "ERROR"
)

// Error codes carried in ERROR payloads.
const (
	CodeUnavailableID   = "unavailable-id"
	CodePeerUnavailable = "peer-unavailable"
	CodeInvalidMessage  = "invalid-message"
	CodeRateLimited     = "rate-limited"
)

// Message is one signaling frame. Src is always overwritten by the server
// with the sender's registered id.
type Message struct {
	Type    MessageType     `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the body of an ERROR frame.
type ErrorPayload struct {
	Code string `json:"code"`
	Peer string `json:"peer,omitempty"`
}

func newError(code, peer string) Message {
	body, _ := json.Marshal(ErrorPayload{Code: code, Peer: peer})
	return Message{Type: TypeError, Payload: body}
}

// relayable reports whether the server forwards this type between peers.
func (t MessageType) relayable() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeLeave:
		return true
	default:
		return false
	}
}

// ErrorCode extracts the payload of an ERROR frame.
func (m Message) ErrorCode() (ErrorPayload, bool) {
	if m.Type != TypeError {
		return ErrorPayload{}, false
	}
	var p ErrorPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return ErrorPayload{}, false
	}
	return p, true
}
