// Package wire converts arena messages to and from the encodings spoken by websocket and gRPC
// peers.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"arenaclash/server/internal/arena"
)

// ErrUnknownCodec is returned when a peer asks for an encoding the server does not speak.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec encodes messages for one wire format.
type Codec interface {
	Name() string
	// FrameType is the websocket frame type carrying this encoding.
	FrameType() int
	Encode(msg arena.Message) ([]byte, error)
	Decode(data []byte) (arena.Message, error)
}

// JSON is the text codec used by browsers and the replay log.
type JSON struct{}

func (JSON) Name() string   { return "json" }
func (JSON) FrameType() int { return websocket.TextMessage }

func (JSON) Encode(msg arena.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	return data, nil
}

func (JSON) Decode(data []byte) (arena.Message, error) {
	var msg arena.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return arena.Message{}, fmt.Errorf("decode json: %w", err)
	}
	if msg.Kind == "" {
		return arena.Message{}, errors.New("decode json: missing kind")
	}
	return msg, nil
}

// Msgpack is the compact binary codec. Nested types only carry json tags, so the encoder is
// told to read those.
type Msgpack struct{}

func (Msgpack) Name() string   { return "msgpack" }
func (Msgpack) FrameType() int { return websocket.BinaryMessage }

func (Msgpack) Encode(msg arena.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(&msg); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	return buf.Bytes(), nil
}

func (Msgpack) Decode(data []byte) (arena.Message, error) {
	var msg arena.Message
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&msg); err != nil {
		return arena.Message{}, fmt.Errorf("decode msgpack: %w", err)
	}
	if msg.Kind == "" {
		return arena.Message{}, errors.New("decode msgpack: missing kind")
	}
	return msg, nil
}

// ForName resolves the codec a peer negotiated. An empty name selects JSON.
func ForName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "msgpack", "messagepack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}
