// Package timesync streams the authoritative clock so remote clients can align their
// interpolation with the simulation tick.
package timesync

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"arenaclash/server/internal/logging"
)

const (
	serviceName  = "arena.v1.TimeSync"
	streamMethod = "/" + serviceName + "/Stream"
)

// Sample is one clock reading taken on the server.
type Sample struct {
	ServerMs    int64
	Tick        uint64
	SimulatedMs int64
}

// Clock reports the current authoritative time.
type Clock interface {
	TimeSyncSnapshot() Sample
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() Sample

// TimeSyncSnapshot implements Clock.
func (f ClockFunc) TimeSyncSnapshot() Sample { return f() }

// TickClock derives samples from a tick counter advancing at hz.
func TickClock(tick func() uint64, hz float64, now func() time.Time) Clock {
	if now == nil {
		now = time.Now
	}
	return ClockFunc(func() Sample {
		current := tick()
		var simulated int64
		if hz > 0 {
			simulated = int64(float64(current) * 1000 / hz)
		}
		return Sample{ServerMs: now().UnixMilli(), Tick: current, SimulatedMs: simulated}
	})
}

// Service pushes periodic clock samples to gRPC clients.
type Service struct {
	clock    Clock
	interval time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// NewService wires clock into the gRPC time sync transport.
func NewService(clock Clock, interval time.Duration, logger *logging.Logger) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Service{clock: clock, interval: interval, log: logger.Named("timesync"), now: time.Now}
}

// Stream sends a sample immediately and then once per interval until the client leaves. A
// client_ms field in req lets the server recommend a fixed offset for the client clock.
func (s *Service) Stream(req *structpb.Struct, stream grpc.ServerStream) error {
	if s == nil || s.clock == nil {
		return status.Error(codes.Unavailable, "time sync service unavailable")
	}
	fields := req.GetFields()
	clientID := fields["client_id"].GetStringValue()
	if clientID == "" {
		clientID = "grpc-client"
	}
	var offset int64
	if clientMs := int64(fields["client_ms"].GetNumberValue()); clientMs > 0 {
		offset = s.now().UnixMilli() - clientMs
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	//1.- Emit an initial sample immediately to minimise startup skew.
	if err := s.send(stream, clientID, offset); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
			//2.- Stream successive samples at the configured cadence.
			if err := s.send(stream, clientID, offset); err != nil {
				return err
			}
		}
	}
}

func (s *Service) send(stream grpc.ServerStream, clientID string, offset int64) error {
	sample := s.clock.TimeSyncSnapshot()
	update, err := structpb.NewStruct(map[string]any{
		"server_ms":             float64(sample.ServerMs),
		"tick":                  float64(sample.Tick),
		"simulated_ms":          float64(sample.SimulatedMs),
		"recommended_offset_ms": float64(offset),
	})
	if err != nil {
		return status.Errorf(codes.Internal, "encode sample: %v", err)
	}
	if err := stream.SendMsg(update); err != nil {
		return err
	}
	s.log.Debug("time sync sample", logging.String("client", clientID), logging.Int64("offset_ms", offset), logging.Int64("tick", int64(sample.Tick)))
	return nil
}

type timeSyncServer interface {
	Stream(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*timeSyncServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Stream",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(timeSyncServer).Stream(in, stream)
		},
	}},
	Metadata: "arena/v1/timesync.proto",
}

// Register attaches the service to a gRPC server.
func Register(server *grpc.Server, service *Service) {
	server.RegisterService(&serviceDesc, service)
}

// Subscribe opens a sample stream on cc. The returned function blocks for the next sample.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, clientID string, clientMs int64) (func() (Sample, int64, error), error) {
	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], streamMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"client_id": clientID, "client_ms": float64(clientMs)})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return func() (Sample, int64, error) {
		update := new(structpb.Struct)
		if err := stream.RecvMsg(update); err != nil {
			return Sample{}, 0, err
		}
		fields := update.GetFields()
		return Sample{
			ServerMs:    int64(fields["server_ms"].GetNumberValue()),
			Tick:        uint64(fields["tick"].GetNumberValue()),
			SimulatedMs: int64(fields["simulated_ms"].GetNumberValue()),
		}, int64(fields["recommended_offset_ms"].GetNumberValue()), nil
	}, nil
}

var _ timeSyncServer = (*Service)(nil)
