package protocol

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec turns payloads into frames and back. Both ends of a connection
// must use the same codec.
type Codec interface {
	Name() string
	Marshal(p Payload) ([]byte, error)
	Unmarshal(data []byte) (Payload, error)
}

var (
	// JSON is the default codec: a {"type", "payload"} envelope.
	JSON Codec = jsonCodec{}

	// Proto carries the same envelope as a protobuf Struct.
	Proto Codec = protoCodec{}
)

// CodecByName looks up a codec by its flag value.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "proto", "protobuf":
		return Proto, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformed)
	}

	var body []byte
	switch m := p.(type) {
	case *StateSync:
		body = m.State
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", p.Type(), err)
		}
		body = b
	}

	return json.Marshal(envelope{Type: p.Type(), Payload: body})
}

func (jsonCodec) Unmarshal(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var p Payload
	switch env.Type {
	case TypeIdentify:
		p = &Identify{}
	case TypePlayerAction:
		p = &PlayerAction{}
	case TypeError:
		p = &Error{}
	case TypeKick:
		p = &Kick{}
	case TypeStateSync:
		if len(env.Payload) == 0 {
			return nil, fmt.Errorf("%w: empty snapshot", ErrMalformed)
		}
		return &StateSync{State: env.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
		}
	}
	return p, nil
}

type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Marshal(p Payload) ([]byte, error) {
	data, err := JSON.Marshal(p)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("reshape envelope: %w", err)
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}

func (protoCodec) Unmarshal(data []byte) (Payload, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrMalformed, err)
	}

	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return JSON.Unmarshal(raw)
}
