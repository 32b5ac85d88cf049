package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"arenaclash/server/internal/arena"
)

// ToStruct converts a message into the protobuf Struct envelope carried over gRPC.
func ToStruct(msg arena.Message) (*structpb.Struct, error) {
	//1.- Round trip through JSON so the field names match the websocket encoding.
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", msg.Kind, err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("struct %s: %w", msg.Kind, err)
	}
	return out, nil
}

// FromStruct rebuilds a message from its protobuf Struct envelope.
func FromStruct(payload *structpb.Struct) (arena.Message, error) {
	if payload == nil {
		return arena.Message{}, fmt.Errorf("decode struct: empty payload")
	}
	//1.- encoding/json writes whole floats without exponents, so integer fields survive.
	data, err := json.Marshal(payload.AsMap())
	if err != nil {
		return arena.Message{}, fmt.Errorf("decode struct: %w", err)
	}
	return JSON{}.Decode(data)
}
