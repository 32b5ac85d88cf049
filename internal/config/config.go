package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address for the HTTP and WebSocket listener.
	DefaultAddr = ":43127"
	// DefaultGRPCAddr is the default TCP address for the gRPC listener.
	DefaultGRPCAddr = ":43128"
	// DefaultBandwidthBytesPerSecond caps per-observer state streaming at 512 kbps.
	DefaultBandwidthBytesPerSecond = 64 * 1024.0
	// DefaultTickHz is the authoritative simulation frequency.
	DefaultTickHz = 30.0
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 64

	// DefaultChannelDuration is the windup between a fire request and the spawn request.
	DefaultChannelDuration = 300 * time.Millisecond
	// DefaultServerCooldowns enables the authority side cooldown ledger.
	DefaultServerCooldowns = true
	// DefaultProjectileClash toggles the destroy-both rule for colliding projectiles.
	DefaultProjectileClash = false

	// DefaultHealCooldown is the quiet period before each heal countdown.
	DefaultHealCooldown = 10 * time.Second
	// DefaultHealCountdown is the number of countdown notifications before the volume opens.
	DefaultHealCountdown = 5
	// DefaultHealDropDuration is how long the heal volume stays open.
	DefaultHealDropDuration = time.Second
	// DefaultHealAmount is the health restored to each actor entering the open volume.
	DefaultHealAmount = 20

	// DefaultBotPopulation is the total lobby size the bot controller fills up to.
	DefaultBotPopulation = 0

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "arena.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultTuningWindow bounds how frequently developer tuning edits may be applied.
	DefaultTuningWindow = time.Minute
	// DefaultTuningBurst sets how many tuning edits may be made per window.
	DefaultTuningBurst = 30
)

// Config captures all runtime tunables for the arena server.
type Config struct {
	Address         string
	GRPCAddress     string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	TickHz          float64
	// BandwidthBytesPerSecond caps sheddable broadcast traffic per observer.
	BandwidthBytesPerSecond float64

	AuthSecret string
	AdminToken string
	GRPCSecret string

	ChannelDuration time.Duration
	ServerCooldowns bool
	ProjectileClash bool

	TuningPath   string
	DevOverride  bool
	TuningWindow time.Duration
	TuningBurst  int

	Heal HealConfig

	BotPopulation  int
	BotLauncherURL string

	ReplayDir string
	Logging   LoggingConfig
}

// HealConfig parameterises the arena heal hazard cycle.
type HealConfig struct {
	Cooldown     time.Duration
	Countdown    int
	DropDuration time.Duration
	Amount       int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the arena configuration from environment variables, applying defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:                 getString("ARENA_ADDR", DefaultAddr),
		GRPCAddress:             getString("ARENA_GRPC_ADDR", DefaultGRPCAddr),
		AllowedOrigins:          parseList(os.Getenv("ARENA_ALLOWED_ORIGINS")),
		MaxPayloadBytes:         DefaultMaxPayloadBytes,
		PingInterval:            DefaultPingInterval,
		MaxClients:              DefaultMaxClients,
		TickHz:                  DefaultTickHz,
		BandwidthBytesPerSecond: DefaultBandwidthBytesPerSecond,
		AuthSecret:              strings.TrimSpace(os.Getenv("ARENA_AUTH_SECRET")),
		AdminToken:              strings.TrimSpace(os.Getenv("ARENA_ADMIN_TOKEN")),
		GRPCSecret:              strings.TrimSpace(os.Getenv("ARENA_GRPC_SECRET")),
		ChannelDuration:         DefaultChannelDuration,
		ServerCooldowns:         DefaultServerCooldowns,
		ProjectileClash:         DefaultProjectileClash,
		TuningPath:              strings.TrimSpace(os.Getenv("ARENA_TUNING_PATH")),
		TuningWindow:            DefaultTuningWindow,
		TuningBurst:             DefaultTuningBurst,
		Heal: HealConfig{
			Cooldown:     DefaultHealCooldown,
			Countdown:    DefaultHealCountdown,
			DropDuration: DefaultHealDropDuration,
			Amount:       DefaultHealAmount,
		},
		BotPopulation:  DefaultBotPopulation,
		BotLauncherURL: strings.TrimSpace(os.Getenv("ARENA_BOT_LAUNCHER_URL")),
		ReplayDir:      strings.TrimSpace(os.Getenv("ARENA_REPLAY_DIR")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("ARENA_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("ARENA_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	p := &parser{}

	cfg.MaxPayloadBytes = p.int64Value("ARENA_MAX_PAYLOAD_BYTES", cfg.MaxPayloadBytes, 1)
	cfg.PingInterval = p.durationValue("ARENA_PING_INTERVAL", cfg.PingInterval, false)
	cfg.MaxClients = p.intValue("ARENA_MAX_CLIENTS", cfg.MaxClients, 0)
	cfg.TickHz = p.floatValue("ARENA_TICK_HZ", cfg.TickHz)
	cfg.BandwidthBytesPerSecond = p.floatValue("ARENA_BANDWIDTH_BPS", cfg.BandwidthBytesPerSecond)

	cfg.ChannelDuration = p.durationValue("ARENA_CHANNEL_DURATION", cfg.ChannelDuration, true)
	cfg.ServerCooldowns = p.boolValue("ARENA_SERVER_COOLDOWNS", cfg.ServerCooldowns)
	cfg.ProjectileClash = p.boolValue("ARENA_PROJECTILE_CLASH", cfg.ProjectileClash)
	cfg.DevOverride = p.boolValue("ARENA_DEV_OVERRIDE", cfg.DevOverride)
	cfg.TuningWindow = p.durationValue("ARENA_TUNING_WINDOW", cfg.TuningWindow, false)
	cfg.TuningBurst = p.intValue("ARENA_TUNING_BURST", cfg.TuningBurst, 1)

	cfg.Heal.Cooldown = p.durationValue("ARENA_HEAL_COOLDOWN", cfg.Heal.Cooldown, false)
	cfg.Heal.Countdown = p.intValue("ARENA_HEAL_COUNTDOWN", cfg.Heal.Countdown, 0)
	cfg.Heal.DropDuration = p.durationValue("ARENA_HEAL_DROP_DURATION", cfg.Heal.DropDuration, false)
	cfg.Heal.Amount = p.intValue("ARENA_HEAL_AMOUNT", cfg.Heal.Amount, 0)

	cfg.BotPopulation = p.intValue("ARENA_BOT_POPULATION", cfg.BotPopulation, 0)

	cfg.Logging.MaxSizeMB = p.intValue("ARENA_LOG_MAX_SIZE_MB", cfg.Logging.MaxSizeMB, 1)
	cfg.Logging.MaxBackups = p.intValue("ARENA_LOG_MAX_BACKUPS", cfg.Logging.MaxBackups, 0)
	cfg.Logging.MaxAgeDays = p.intValue("ARENA_LOG_MAX_AGE_DAYS", cfg.Logging.MaxAgeDays, 0)
	cfg.Logging.Compress = p.boolValue("ARENA_LOG_COMPRESS", cfg.Logging.Compress)

	if cfg.DevOverride && cfg.TuningPath == "" {
		p.problems = append(p.problems, "ARENA_DEV_OVERRIDE requires ARENA_TUNING_PATH")
	}

	if len(p.problems) > 0 {
		return nil, errors.New(strings.Join(p.problems, "; "))
	}

	return cfg, nil
}

// parser collects every invalid override so operators see all problems at once.
type parser struct {
	problems []string
}

func (p *parser) intValue(key string, fallback, minimum int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minimum {
		p.problems = append(p.problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, minimum, raw))
		return fallback
	}
	return value
}

func (p *parser) int64Value(key string, fallback, minimum int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < minimum {
		p.problems = append(p.problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, minimum, raw))
		return fallback
	}
	return value
}

func (p *parser) floatValue(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a positive number, got %q", key, raw))
		return fallback
	}
	return value
}

func (p *parser) durationValue(key string, fallback time.Duration, allowZero bool) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 || (value == 0 && !allowZero) {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return fallback
	}
	return value
}

func (p *parser) boolValue(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.problems = append(p.problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return fallback
	}
	return value
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
