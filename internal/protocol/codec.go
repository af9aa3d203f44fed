package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownType = errors.New("unknown message type")
var ErrMalformed = errors.New("malformed message")

// Codec turns messages into frames and back. Frames carry a type tag and a
// data payload.
type Codec interface {
	Name() string
	Encode(m Message) ([]byte, error)
	Decode(b []byte) (Message, error)
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

func decode(t Type, unmarshal unmarshalFunc, data []byte) (Message, error) {
	dec, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	m, err := dec(unmarshal, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	return m, nil
}

type jsonEnvelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{Type: m.Type(), Data: data})
}

func (JSONCodec) Decode(b []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("{}")
	}
	return decode(env.Type, json.Unmarshal, env.Data)
}

type msgpackEnvelope struct {
	Type Type               `json:"type"`
	Data msgpack.RawMessage `json:"data"`
}

// MsgpackCodec is the compact binary codec. It reuses the json struct tags.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func msgpackMarshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func msgpackUnmarshal(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	data, err := msgpackMarshal(m)
	if err != nil {
		return nil, err
	}
	return msgpackMarshal(msgpackEnvelope{Type: m.Type(), Data: data})
}

func (MsgpackCodec) Decode(b []byte) (Message, error) {
	var env msgpackEnvelope
	if err := msgpackUnmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return decode(env.Type, msgpackUnmarshal, env.Data)
}
