package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

type Config struct {
	Bot       BotConfig       `json:"bot"`
	Detection DetectionConfig `json:"detection"`
	Ingest    IngestConfig    `json:"ingest"`
	Recovery  RecoveryConfig  `json:"recovery"`
	Store     StoreConfig     `json:"store"`
	Network   NetworkConfig   `json:"network"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	HA        HAConfig        `json:"ha"`
	Incidents IncidentsConfig `json:"incidents"`
}

type BotConfig struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

type DetectionConfig struct {
	// Thresholds are keyed by verb name ("channel_delete").
	Thresholds        map[string]int `json:"thresholds"`
	RaidJoinThreshold int            `json:"raid_join_threshold"`
	RaidWindowSeconds int            `json:"raid_window_seconds"`
	RetentionMinutes  int            `json:"retention_minutes"`
	SweepSeconds      int            `json:"sweep_seconds"`
	MaxTrackedActors  int            `json:"max_tracked_actors"`
	Punishment        string         `json:"punishment"`
	CooldownSeconds   int            `json:"cooldown_seconds"`
	RoleCacheSeconds  int            `json:"role_cache_seconds"`
}

type IngestConfig struct {
	PollIntervalMs   int `json:"poll_interval_ms"`
	AuditLimit       int `json:"audit_limit"`
	DedupCapacity    int `json:"dedup_capacity"`
	KickMaxAgeMs     int `json:"kick_max_age_ms"`
	MaxEventAgeSec   int `json:"max_event_age_seconds"`
	EventBuffer      int `json:"event_buffer"`
	BreakerFailures  int `json:"breaker_failures"`
	BreakerTimeoutMs int `json:"breaker_timeout_ms"`
}

type RecoveryConfig struct {
	Concurrency             int  `json:"concurrency"`
	CacheSize               int  `json:"cache_size"`
	CacheTTLHours           int  `json:"cache_ttl_hours"`
	SnapshotIntervalSeconds int  `json:"snapshot_interval_seconds"`
	AutoRecover             bool `json:"auto_recover"`
}

type StoreConfig struct {
	Path            string `json:"path"`
	AutosaveSeconds int    `json:"autosave_seconds"`
}

type NetworkConfig struct {
	HTTPPoolSize      int     `json:"http_pool_size"`
	APIBaseURL        string  `json:"api_base_url"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	RequestTimeoutMs  int     `json:"request_timeout_ms"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Path        string `json:"path"`
	IncidentLog string `json:"incident_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type HAConfig struct {
	RedisURL      string `json:"redis_url"`
	DedupTTLHours int    `json:"dedup_ttl_hours"`
}

type IncidentsConfig struct {
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`
}

// Load reads a JSON config file over DefaultConfig and applies environment
// overrides. A missing file is not an error; defaults plus env are used.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Bot.Token = token
	}
	if clientID := os.Getenv("CLIENT_ID"); clientID != "" {
		cfg.Bot.ClientID = clientID
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.HA.RedisURL = redisURL
	}
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
		cfg.Metrics.Enabled = true
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

func DefaultConfig() *Config {
	thresholds := make(map[string]int, len(models.AllVerbs))
	for _, v := range models.AllVerbs {
		thresholds[v.String()] = v.DefaultThreshold()
	}

	return &Config{
		Detection: DetectionConfig{
			Thresholds:        thresholds,
			RaidJoinThreshold: 10,
			RaidWindowSeconds: 10,
			RetentionMinutes:  5,
			SweepSeconds:      60,
			MaxTrackedActors:  50000,
			Punishment:        string(models.PunishBan),
			CooldownSeconds:   10,
			RoleCacheSeconds:  30,
		},
		Ingest: IngestConfig{
			PollIntervalMs:   2000,
			AuditLimit:       50,
			DedupCapacity:    100,
			KickMaxAgeMs:     3000,
			MaxEventAgeSec:   60,
			EventBuffer:      4096,
			BreakerFailures:  5,
			BreakerTimeoutMs: 30000,
		},
		Recovery: RecoveryConfig{
			Concurrency:             10,
			CacheSize:               10000,
			CacheTTLHours:           24,
			SnapshotIntervalSeconds: 60,
			AutoRecover:             true,
		},
		Store: StoreConfig{
			Path:            "antinuke.db",
			AutosaveSeconds: 15,
		},
		Network: NetworkConfig{
			HTTPPoolSize:      4,
			APIBaseURL:        "https://discord.com/api/v10",
			RequestsPerSecond: 40,
			Burst:             10,
			RequestTimeoutMs:  2000,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Path:        "logs/antinuke.log",
			IncidentLog: "logs/incidents.log",
		},
		Metrics: MetricsConfig{
			Addr: ":9102",
		},
		HA: HAConfig{
			DedupTTLHours: 1,
		},
		Incidents: IncidentsConfig{
			KafkaTopic: "antinuke.incidents",
		},
	}
}

// Validate reports settings the process cannot start with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Bot.Token) == "" {
		problems = append(problems, "bot token is required (config bot.token or DISCORD_TOKEN)")
	}
	if _, err := models.ParsePunishment(c.Detection.Punishment); err != nil {
		problems = append(problems, fmt.Sprintf("detection.punishment %q is not one of ban, kick, strip_roles", c.Detection.Punishment))
	}
	for name, n := range c.Detection.Thresholds {
		if _, ok := models.ParseVerb(name); !ok {
			problems = append(problems, fmt.Sprintf("detection.thresholds: unknown verb %q", name))
		} else if n < 1 {
			problems = append(problems, fmt.Sprintf("detection.thresholds.%s must be >= 1", name))
		}
	}
	if c.Detection.RaidJoinThreshold < 1 || c.Detection.RaidWindowSeconds < 1 {
		problems = append(problems, "raid threshold and window must be >= 1")
	}
	if c.Recovery.Concurrency < 1 {
		problems = append(problems, "recovery.concurrency must be >= 1")
	}
	if c.Recovery.CacheSize < 1 {
		problems = append(problems, "recovery.cache_size must be >= 1")
	}
	if c.Ingest.PollIntervalMs < 100 {
		problems = append(problems, "ingest.poll_interval_ms must be >= 100")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// DefaultThresholds resolves the process-wide per-verb thresholds.
func (c *Config) DefaultThresholds() ThresholdMatrix {
	m := NewThresholdMatrix()
	for name, n := range c.Detection.Thresholds {
		if v, ok := models.ParseVerb(name); ok && n > 0 {
			m[v] = n
		}
	}
	return m
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Ingest.PollIntervalMs) * time.Millisecond
}

// MaxEventAge is how old an audit record may be and still be evaluated.
func (c *Config) MaxEventAge() time.Duration {
	return time.Duration(c.Ingest.MaxEventAgeSec) * time.Second
}

func (c *Config) RaidWindow() time.Duration {
	return time.Duration(c.Detection.RaidWindowSeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Detection.RetentionMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Detection.SweepSeconds) * time.Second
}

func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Recovery.SnapshotIntervalSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Recovery.CacheTTLHours) * time.Hour
}

func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Store.AutosaveSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Network.RequestTimeoutMs) * time.Millisecond
}
