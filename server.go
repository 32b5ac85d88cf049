package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/bots"
	"arenaclash/server/internal/config"
	"arenaclash/server/internal/events"
	arenagrpc "arenaclash/server/internal/grpc"
	httpapi "arenaclash/server/internal/http"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/replay"
	"arenaclash/server/internal/simulation"
	"arenaclash/server/internal/timesync"
	"arenaclash/server/internal/transport"
	"arenaclash/server/internal/tuning"
)

const (
	shutdownGrace     = 5 * time.Second
	gateMinInterval   = 20 * time.Millisecond
	timeSyncInterval  = time.Second
	tokenTTL          = 12 * time.Hour
	replayMaxMatches  = 100
	replayMaxAge      = 7 * 24 * time.Hour
	replaySweepPeriod = time.Hour
)

// Server owns every long running component of the arena process.
type Server struct {
	cfg     *config.Config
	log     *logging.Logger
	started time.Time

	mu       sync.Mutex
	startErr error

	panel      *tuning.Panel
	stream     *events.Stream
	world      *arena.World
	monitor    *simulation.TickMonitor
	loop       *simulation.Loop
	gate       *transport.Gate
	hub        *transport.Hub
	recorder   *replay.Recorder
	cleaner    *replay.Cleaner
	controller *bots.Controller
	pool       *bots.Pool
	grpc       *grpc.Server
	handler    http.Handler
}

// NewServer wires the authority and its transports from cfg without opening any listener.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	s := &Server{cfg: cfg, log: logger, started: time.Now(), monitor: simulation.NewTickMonitor()}

	//1.- Tuning first: the world, bots and HTTP panel all read the same catalog.
	panel, err := tuning.LoadPanel(cfg.TuningPath, cfg.DevOverride, tuning.WithChannel(cfg.ChannelDuration))
	if err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}
	s.panel = panel

	//2.- The recorder taps the world's frame sink when a replay directory is configured.
	worldOpts := []arena.Option{arena.WithLogger(logger)}
	if cfg.ReplayDir != "" {
		recorder, err := replay.NewRecorder(cfg.ReplayDir, replay.WithRecorderLogger(logger.Named("replay")))
		if err != nil {
			return nil, fmt.Errorf("create replay recorder: %w", err)
		}
		s.recorder = recorder
		s.cleaner = replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{MaxMatches: replayMaxMatches, MaxAge: replayMaxAge}, logger.Named("replay"))
		worldOpts = append(worldOpts, arena.WithFrameSink(recorder.Sink))
	}
	s.stream = events.NewStream(events.Config{})
	worldOpts = append(worldOpts, arena.WithStream(s.stream), arena.WithTickMonitor(s.monitor))

	world, err := arena.NewWorld(panel, arena.Config{
		ServerCooldowns: cfg.ServerCooldowns,
		CooldownGrace:   arena.DefaultCooldownGrace,
		ProjectileClash: cfg.ProjectileClash,
		AutoStart:       true,
		Heal: match.HazardConfig{
			Cooldown:     cfg.Heal.Cooldown,
			Countdown:    cfg.Heal.Countdown,
			DropDuration: cfg.Heal.DropDuration,
		},
		HealAmount: cfg.Heal.Amount,
	}, worldOpts...)
	if err != nil {
		return nil, fmt.Errorf("create world: %w", err)
	}
	s.world = world
	s.loop = simulation.NewLoop(cfg.TickHz, world.Step, simulation.WithTickMonitor(s.monitor))

	//3.- Websocket fan-out authenticates with signed tokens when a secret is configured.
	var authenticator transport.Authenticator = transport.QueryAuthenticator{}
	var tokens *transport.TokenAuthenticator
	if cfg.AuthSecret != "" {
		tokens, err = transport.NewTokenAuthenticator(cfg.AuthSecret)
		if err != nil {
			return nil, fmt.Errorf("create token authenticator: %w", err)
		}
		authenticator = tokens
	}
	s.gate = transport.NewGate(transport.GateConfig{MinInterval: gateMinInterval}, nil)
	s.hub = transport.NewHub(world,
		transport.WithLogger(logger),
		transport.WithAuthenticator(authenticator),
		transport.WithGate(s.gate),
		transport.WithBandwidth(transport.NewBandwidthRegulator(cfg.BandwidthBytesPerSecond, nil)),
		transport.WithAllowedOrigins(cfg.AllowedOrigins),
		transport.WithLimits(cfg.MaxClients, cfg.MaxPayloadBytes, cfg.PingInterval),
	)

	s.grpc = grpc.NewServer(arenagrpc.ServerOptions(cfg.GRPCSecret, logger)...)
	arenagrpc.Register(s.grpc, arenagrpc.NewService(world, arenagrpc.WithLogger(logger)))
	clock := timesync.TickClock(func() uint64 { return world.Stats().Tick }, cfg.TickHz, nil)
	timesync.Register(s.grpc, timesync.NewService(clock, timeSyncInterval, logger))

	//4.- Bots fill the lobby up to the configured population.
	if cfg.BotPopulation > 0 {
		var launcher bots.Launcher
		if cfg.BotLauncherURL != "" {
			launcher, err = bots.NewHTTPLauncher(cfg.BotLauncherURL, nil, cfg.AdminToken)
			if err != nil {
				return nil, fmt.Errorf("create bot launcher: %w", err)
			}
		} else {
			s.pool = bots.NewPool(world, panel, bots.WithPoolLogger(logger))
			launcher = s.pool
		}
		s.controller = bots.NewController(bots.ControllerConfig{
			TargetPopulation: cfg.BotPopulation,
			Launcher:         launcher,
			Logger:           logger,
		})
		world.Subscribe(s.controller.Observe)
	}

	handlerOpts := httpapi.Options{
		Logger:      logger.Named("http"),
		Readiness:   s,
		Arena:       world,
		Connections: s.hub,
		Tuning:      panel,
		TokenTTL:    tokenTTL,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(cfg.TuningWindow, cfg.TuningBurst, nil),
		TickMetrics: s.monitor.Snapshot,
		GateDrops:   s.gate.Drops,
		Bandwidth:   s.hub.Bandwidth,
	}
	if tokens != nil {
		handlerOpts.Signer = tokens.Signer()
	}
	if s.recorder != nil {
		handlerOpts.ReplayStats = s.recorder.Snapshot
		handlerOpts.StorageStats = s.cleaner.Stats
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)
	httpapi.NewHandlerSet(handlerOpts).Register(mux)
	s.handler = logging.HTTPTraceMiddleware(logger)(mux)
	return s, nil
}

// Handler exposes the HTTP surface for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// World exposes the authority.
func (s *Server) World() *arena.World { return s.world }

// StartupError reports a listener failure to the readiness probe.
func (s *Server) StartupError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startErr
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.started) }

func (s *Server) fail(err error) error {
	s.mu.Lock()
	if s.startErr == nil {
		s.startErr = err
	}
	s.mu.Unlock()
	return err
}

// Run opens the listeners and blocks until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return s.fail(fmt.Errorf("listen http: %w", err))
	}
	grpcListener, err := net.Listen("tcp", s.cfg.GRPCAddress)
	if err != nil {
		httpListener.Close()
		return s.fail(fmt.Errorf("listen grpc: %w", err))
	}
	return s.serve(ctx, httpListener, grpcListener)
}

func (s *Server) serve(ctx context.Context, httpListener, grpcListener net.Listener) error {
	group, ctx := errgroup.WithContext(ctx)

	//1.- The simulation loop drives the world; everything else reacts to its broadcasts.
	s.loop.Start(ctx)
	group.Go(func() error {
		<-ctx.Done()
		s.loop.Stop()
		return nil
	})
	group.Go(func() error { return runAudit(ctx, s.stream, s.log.Named("audit")) })
	if s.recorder != nil {
		group.Go(func() error { return s.recorder.Run(ctx) })
		group.Go(func() error {
			s.cleaner.Run(ctx, replaySweepPeriod)
			return nil
		})
	}
	if s.controller != nil {
		group.Go(func() error { return s.controller.Run(ctx) })
	}

	//2.- Listeners shut down when any component fails or the caller cancels.
	httpServer := &http.Server{Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	group.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return s.fail(fmt.Errorf("serve http: %w", err))
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		if err := s.grpc.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return s.fail(fmt.Errorf("serve grpc: %w", err))
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownGrace):
			s.grpc.Stop()
		}
		return nil
	})

	for name, url := range advertisedEndpoints(s.cfg) {
		s.log.Info("arena listening", logging.String("endpoint", name), logging.String("url", url))
	}
	err := group.Wait()
	s.close()
	return err
}

func (s *Server) close() {
	if s.pool != nil {
		s.pool.Close()
	}
	s.world.Close()
}

// runAudit drains the reliable combat and lifecycle stream into the structured log.
func runAudit(ctx context.Context, stream *events.Stream, logger *logging.Logger) error {
	sub, err := stream.Subscribe(ctx, "audit", 256)
	if err != nil {
		return err
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope := <-sub.Events():
			if envelope == nil {
				continue
			}
			fields := []logging.Field{
				logging.String("kind", string(envelope.Kind)),
				logging.String("type", envelope.Type),
				logging.Int64("sequence", int64(envelope.Sequence)),
			}
			if envelope.Payload != nil {
				for key, value := range envelope.Payload.AsMap() {
					fields = append(fields, logging.Field{Key: key, Value: value})
				}
			}
			logger.Info("arena event", fields...)
			if err := sub.Ack(envelope.Sequence); err != nil {
				logger.Debug("audit ack failed", logging.Error(err))
			}
		}
	}
}
