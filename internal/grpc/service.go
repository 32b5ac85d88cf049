// Package grpc exposes the arena protocol to programmatic clients: a unary Join and Submit
// pair for requests and a throttled, compressed Observe stream for broadcasts.
package grpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/wire"
)

const (
	observeRateHz     = 20
	observeBufferSize = 1024
)

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// Option customises the behaviour of the gRPC service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// Service implements the arena.v1.ArenaService handlers.
type Service struct {
	arena     Arena
	log       *logging.Logger
	newTicker tickerFactory
}

// NewService wires the gRPC service to the arena.
func NewService(a Arena, opts ...Option) *Service {
	service := &Service{arena: a, log: logging.L().Named("grpc"), newTicker: defaultTickerFactory}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Join spawns (or reattaches) the player described by req and returns its actor id.
func (s *Service) Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	player := match.Player{
		ID:         strings.TrimSpace(fields["player"].GetStringValue()),
		Name:       fields["name"].GetStringValue(),
		Projectile: fields["projectile"].GetStringValue(),
		Ability:    fields["ability"].GetStringValue(),
		Bot:        fields["bot"].GetBoolValue(),
	}
	if raw := fields["team"].GetStringValue(); raw != "" {
		team, err := combat.ParseTeam(raw)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		player.Team = team
	}
	handle, err := s.arena.Join(player)
	switch {
	case errors.Is(err, match.ErrInvalidPlayerID):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, match.ErrMatchFull):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	case err != nil:
		return nil, status.Errorf(codes.Unavailable, "join: %v", err)
	}
	return structpb.NewStruct(map[string]any{"actor": handle.String()})
}

// Submit forwards one request for the player named in the call metadata.
func (s *Service) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	playerID := playerFromContext(ctx)
	if playerID == "" {
		return nil, status.Error(codes.Unauthenticated, "missing "+PlayerMetadataKey)
	}
	handle, ok := s.arena.PlayerHandle(playerID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "player %q has not joined", playerID)
	}
	msg, err := wire.FromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !msg.Kind.IsRequest() {
		return nil, status.Errorf(codes.InvalidArgument, "%s is not a request", msg.Kind)
	}
	if err := s.arena.Submit(handle, msg); err != nil {
		return nil, status.Errorf(codes.Unavailable, "submit: %v", err)
	}
	return structpb.NewStruct(map[string]any{"accepted": true})
}

// Observe relays broadcasts, batched per throttle tick and compressed with the requested
// encoding. Owner-only broadcasts reach the stream only when req names that owner's actor.
func (s *Service) Observe(req *structpb.Struct, stream grpc.ServerStream) error {
	fields := req.GetFields()
	compressor, err := CompressorFor(fields["encoding"].GetStringValue())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	actor := fields["actor"].GetStringValue()
	ctx := stream.Context()

	//1.- Subscribe through a bounded channel; the world step must never wait on a stream.
	events := make(chan arena.Message, observeBufferSize)
	overflow := make(chan struct{}, 1)
	unsubscribe := s.arena.Subscribe(func(msg arena.Message) {
		if msg.Audience == arena.AudienceOwner && msg.Actor != actor {
			return
		}
		select {
		case events <- msg:
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	tickCh, stop := s.newTicker(time.Second / observeRateHz)
	defer stop()

	var pending []arena.Message
	for {
		select {
		case <-ctx.Done():
			//2.- Surface context cancellation so clients can retry.
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case <-overflow:
			s.log.Warn("observe stream fell behind", logging.String("actor", actor))
			return status.Error(codes.ResourceExhausted, "observer fell behind")
		case msg := <-events:
			//3.- Buffer broadcasts so they flush at the throttled cadence.
			pending = append(pending, msg)
		case <-tickCh:
			if len(pending) == 0 {
				continue
			}
			frame, err := encodeFrame(compressor, pending)
			if err != nil {
				return status.Errorf(codes.Internal, "encode frame: %v", err)
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}
}

func encodeFrame(compressor Compressor, batch []arena.Message) (*structpb.Struct, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}
	compressed, err := compressor.Compress(raw)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"tick":     float64(batch[len(batch)-1].Tick),
		"count":    float64(len(batch)),
		"encoding": compressor.Name(),
		"payload":  base64.StdEncoding.EncodeToString(compressed),
	})
}

// DecodeFrame restores the broadcasts carried by one Observe frame.
func DecodeFrame(frame *structpb.Struct) ([]arena.Message, error) {
	fields := frame.GetFields()
	compressor, err := CompressorFor(fields["encoding"].GetStringValue())
	if err != nil {
		return nil, err
	}
	compressed, err := base64.StdEncoding.DecodeString(fields["payload"].GetStringValue())
	if err != nil {
		return nil, err
	}
	raw, err := compressor.Decompress(compressed)
	if err != nil {
		return nil, err
	}
	var batch []arena.Message
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func playerFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(PlayerMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ arenaServer = (*Service)(nil)
