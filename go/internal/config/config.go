package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/turingchat/go/internal/matchmaking"
	"github.com/mcdev12/turingchat/go/internal/session"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the full process configuration.
type Config struct {
	Port        string         `yaml:"-"`
	Env         string         `yaml:"-"`
	Version     string         `yaml:"-"`
	LogLevel    string         `yaml:"-"`
	CORSOrigins []string       `yaml:"-"`
	NATSURL     string         `yaml:"-"`
	Database    DatabaseConfig `yaml:"-"`
	Game        GameConfig     `yaml:"game"`
}

// GameConfig holds match timing. It can come from the YAML file and is overridden by env.
type GameConfig struct {
	RoundLimitSecs       int     `yaml:"round_limit_secs"`
	TurnLimitSecs        int     `yaml:"turn_limit_secs"`
	MatchWindowSecs      int     `yaml:"match_window_secs"`
	AttachWindowSecs     int     `yaml:"attach_window_secs"`
	TicketRetentionSecs  int     `yaml:"ticket_retention_secs"`
	ResponderTimeoutSecs int     `yaml:"responder_timeout_secs"`
	ReplyDelayMs         int     `yaml:"reply_delay_ms"`
	H2HProb              float64 `yaml:"h2h_prob"`
}

// DatabaseConfig holds Postgres connection settings. URL wins over the DB_* fields.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Enabled reports whether an archive database was configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func defaultGame() GameConfig {
	return GameConfig{
		RoundLimitSecs:       300,
		TurnLimitSecs:        30,
		MatchWindowSecs:      10,
		AttachWindowSecs:     20,
		TicketRetentionSecs:  120,
		ResponderTimeoutSecs: 10,
		ReplyDelayMs:         1500,
		H2HProb:              0.5,
	}
}

// Load builds the config from defaults, the optional YAML file at CONFIG_PATH, then env.
func Load() (*Config, error) {
	cfg := &Config{Game: defaultGame()}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("APP_ENV", "development")
	cfg.Version = getEnv("APP_VERSION", "dev")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.CORSOrigins = splitList(getEnv("CORS_ORIGINS", "*"))
	cfg.NATSURL = getEnv("NATS_URL", "")
	cfg.Database = DatabaseConfig{
		URL:      getEnv("DATABASE_URL", ""),
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "turingchat"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	g := &cfg.Game
	g.RoundLimitSecs = getEnvAsInt("ROUND_LIMIT_SECS", g.RoundLimitSecs)
	g.TurnLimitSecs = getEnvAsInt("TURN_LIMIT_SECS", g.TurnLimitSecs)
	g.MatchWindowSecs = getEnvAsInt("MATCH_WINDOW_SECS", g.MatchWindowSecs)
	g.AttachWindowSecs = getEnvAsInt("ATTACH_WINDOW_SECS", g.AttachWindowSecs)
	g.TicketRetentionSecs = getEnvAsInt("TICKET_RETENTION_SECS", g.TicketRetentionSecs)
	g.ResponderTimeoutSecs = getEnvAsInt("RESPONDER_TIMEOUT_SECS", g.ResponderTimeoutSecs)
	g.ReplyDelayMs = getEnvAsInt("AI_REPLY_DELAY_MS", g.ReplyDelayMs)
	g.H2HProb = getEnvAsFloat("H2H_PROB", g.H2HProb)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	g := c.Game
	for name, v := range map[string]int{
		"round_limit_secs":       g.RoundLimitSecs,
		"turn_limit_secs":        g.TurnLimitSecs,
		"match_window_secs":      g.MatchWindowSecs,
		"attach_window_secs":     g.AttachWindowSecs,
		"responder_timeout_secs": g.ResponderTimeoutSecs,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, v)
		}
	}
	if g.TicketRetentionSecs < 0 || g.ReplyDelayMs < 0 {
		return fmt.Errorf("%w: retention and reply delay must not be negative", ErrInvalidConfig)
	}
	if g.H2HProb < 0 || g.H2HProb > 1 {
		return fmt.Errorf("%w: h2h_prob must be within [0,1], got %v", ErrInvalidConfig, g.H2HProb)
	}
	return nil
}

func (c *Config) Session() session.Config {
	return session.Config{
		RoundLimit:       secs(c.Game.RoundLimitSecs),
		TurnLimit:        secs(c.Game.TurnLimitSecs),
		AttachWindow:     secs(c.Game.AttachWindowSecs),
		ResponderTimeout: secs(c.Game.ResponderTimeoutSecs),
	}
}

func (c *Config) Pool() matchmaking.Config {
	return matchmaking.Config{
		Window:    secs(c.Game.MatchWindowSecs),
		Retention: secs(c.Game.TicketRetentionSecs),
		H2HProb:   c.Game.H2HProb,
	}
}

func (c *Config) ReplyDelay() time.Duration {
	return time.Duration(c.Game.ReplyDelayMs) * time.Millisecond
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
