// Package protocol defines the messages exchanged between the host and its
// controllers, and the codecs that put them on the wire.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the payload carried by a message envelope.
type Type string

const (
	TypeIdentify     Type = "IDENTIFY"
	TypePlayerAction Type = "PLAYER_ACTION"
	TypeStateSync    Type = "GAME_STATE_SYNC"
	TypeError        Type = "ERROR"
	TypeKick         Type = "KICK"
)

// Payload is the closed set of message bodies. Only the types in this
// package implement it.
type Payload interface {
	Type() Type
	isPayload()
}

// Identify is sent by a controller to join or rejoin the room.
type Identify struct {
	Name string `json:"name"`
}

// PlayerAction carries gameplay input. Value is left raw; the active game
// mode decides what shape it expects.
type PlayerAction struct {
	Action string          `json:"action"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// StateSync carries a snapshot document. State is kept as raw JSON so a
// controller can merge it key by key without losing absent fields.
type StateSync struct {
	State json.RawMessage
}

// Error reports a rejected request to a single controller.
type Error struct {
	Message string `json:"message"`
}

// Kick tells a controller it is being removed. The host closes the
// connection shortly after.
type Kick struct {
	Message string `json:"message"`
}

func (*Identify) Type() Type     { return TypeIdentify }
func (*PlayerAction) Type() Type { return TypePlayerAction }
func (*StateSync) Type() Type    { return TypeStateSync }
func (*Error) Type() Type        { return TypeError }
func (*Kick) Type() Type         { return TypeKick }

func (*Identify) isPayload()     {}
func (*PlayerAction) isPayload() {}
func (*StateSync) isPayload()    {}
func (*Error) isPayload()        {}
func (*Kick) isPayload()         {}

// Error messages sent to rejected controllers.
const (
	MsgNameInUse = "name already in use"
	MsgRoomFull  = "room full"
	MsgKicked    = "you were removed by the host"
	MsgConnInUse = "connection already holds a seat"
)

// NewIdentify creates an IDENTIFY message.
func NewIdentify(name string) *Identify {
	return &Identify{Name: name}
}

// NewPlayerAction creates a PLAYER_ACTION message. A nil value is omitted.
func NewPlayerAction(action string, value any) (*PlayerAction, error) {
	msg := &PlayerAction{Action: action}
	if value == nil {
		return msg, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal action value: %w", err)
	}
	msg.Value = raw
	return msg, nil
}

// NewStateSync creates a GAME_STATE_SYNC message from a snapshot.
func NewStateSync(s Snapshot) (*StateSync, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return &StateSync{State: raw}, nil
}

// NewError creates an ERROR message.
func NewError(message string) *Error {
	return &Error{Message: message}
}

// NewKick creates a KICK message.
func NewKick(message string) *Kick {
	return &Kick{Message: message}
}

// DecodeActionValue unmarshals the raw value of the named action into v.
func DecodeActionValue(action string, value json.RawMessage, v any) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: action %s has no value", ErrMalformed, action)
	}
	if err := json.Unmarshal(value, v); err != nil {
		return fmt.Errorf("%w: action %s: %v", ErrMalformed, action, err)
	}
	return nil
}

// Snapshot decodes the full snapshot carried by the message.
func (m *StateSync) Snapshot() (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(m.State, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: snapshot: %v", ErrMalformed, err)
	}
	return s, nil
}

// MessageTypeName returns a human-readable name for the message type.
func MessageTypeName(p Payload) string {
	switch p.(type) {
	case *Identify:
		return "Identify"
	case *PlayerAction:
		return "PlayerAction"
	case *StateSync:
		return "StateSync"
	case *Error:
		return "Error"
	case *Kick:
		return "Kick"
	default:
		return "Unknown"
	}
}
