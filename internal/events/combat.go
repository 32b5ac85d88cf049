package events

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"arenaclash/server/internal/physics"
)

// DamageTelemetry describes one resolved damage or heal before it is published.
type DamageTelemetry struct {
	EventID    string
	Type       string
	OccurredAt time.Time
	Attacker   string
	Defender   string
	Variant    string
	Amount     int
	Remaining  int
	Position   physics.Vec3
	Metadata   map[string]string
}

// ToStruct converts the telemetry into a protobuf Struct for the stream.
func (d DamageTelemetry) ToStruct() (*structpb.Struct, error) {
	//1.- Clean the metadata map to avoid empty keys leaking to clients.
	metadata := make(map[string]any, len(d.Metadata))
	for key, value := range d.Metadata {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	//2.- Assemble the payload with a flattened position for schema-less consumers.
	return structpb.NewStruct(map[string]any{
		"event_id":       d.EventID,
		"type":           d.Type,
		"occurred_at_ms": float64(d.OccurredAt.UnixMilli()),
		"attacker":       d.Attacker,
		"defender":       d.Defender,
		"variant":        d.Variant,
		"amount":         float64(d.Amount),
		"remaining":      float64(d.Remaining),
		"position": map[string]any{
			"x": d.Position.X,
			"y": d.Position.Y,
			"z": d.Position.Z,
		},
		"metadata": metadata,
	})
}
