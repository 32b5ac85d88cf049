package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/wire"
)

// Client is a typed wrapper over a connection to arena.v1.ArenaService.
type Client struct {
	cc     grpc.ClientConnInterface
	secret string
}

// NewClient wraps cc; a non-empty secret is attached to every call.
func NewClient(cc grpc.ClientConnInterface, secret string) *Client {
	return &Client{cc: cc, secret: secret}
}

func (c *Client) outgoing(ctx context.Context, kv ...string) context.Context {
	if c.secret != "" {
		kv = append(kv, SharedSecretMetadataKey, c.secret)
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// Join spawns the player and returns its actor id.
func (c *Client) Join(ctx context.Context, player match.Player) (string, error) {
	fields := map[string]any{
		"player":     player.ID,
		"name":       player.Name,
		"projectile": player.Projectile,
		"ability":    player.Ability,
		"bot":        player.Bot,
	}
	if player.Team.Valid() {
		fields["team"] = player.Team.String()
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return "", err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(c.outgoing(ctx), joinMethod, req, resp); err != nil {
		return "", err
	}
	return resp.GetFields()["actor"].GetStringValue(), nil
}

// Link returns an arena.Link that submits on behalf of playerID.
func (c *Client) Link(playerID string) arena.Link {
	return remoteLink{client: c, player: playerID}
}

type remoteLink struct {
	client *Client
	player string
}

func (l remoteLink) Send(ctx context.Context, msg arena.Message) error {
	req, err := wire.ToStruct(msg)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	return l.client.cc.Invoke(l.client.outgoing(ctx, PlayerMetadataKey, l.player), submitMethod, req, resp)
}

// ObserveStream yields batches of broadcasts.
type ObserveStream struct {
	stream grpc.ClientStream
}

// Observe opens a broadcast stream. actor may be empty for spectators.
func (c *Client) Observe(ctx context.Context, actor, encoding string) (*ObserveStream, error) {
	stream, err := c.cc.NewStream(c.outgoing(ctx), &serviceDesc.Streams[0], observeMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"actor": actor, "encoding": encoding})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send observe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close observe request: %w", err)
	}
	return &ObserveStream{stream: stream}, nil
}

// Recv blocks for the next batch.
func (s *ObserveStream) Recv() ([]arena.Message, error) {
	frame := new(structpb.Struct)
	if err := s.stream.RecvMsg(frame); err != nil {
		return nil, err
	}
	return DecodeFrame(frame)
}

var _ arena.Link = remoteLink{}
