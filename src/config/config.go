package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Publisher string

const (
	PublisherRedis Publisher = "redis"
	PublisherNATS  Publisher = "nats"
	PublisherNone  Publisher = "none"
)

type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	HTTP       HTTPConfig       `toml:"http"`
	FanOut     FanOutConfig     `toml:"fanout"`
	Sweep      SweepConfig      `toml:"sweep"`
	Encryption EncryptionConfig `toml:"encryption"`
	Log        LogConfig        `toml:"log"`
}

type DatabaseConfig struct {
	// DSN is a MySQL DSN or sqlite://<path>.
	DSN string `toml:"dsn"`
}

type HTTPConfig struct {
	Port        string   `toml:"port"`
	JWTSecret   string   `toml:"jwt_secret"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"` // requests per minute per user, 0 disables
}

type FanOutConfig struct {
	Publisher   Publisher `toml:"publisher"`
	RedisURL    string    `toml:"redis_url"`
	NATSURL     string    `toml:"nats_url"`
	MaxElapsed  Duration  `toml:"max_elapsed"`
	SubjectBase string    `toml:"subject_base"`
}

type SweepConfig struct {
	Interval    Duration `toml:"interval"`
	IdleTimeout Duration `toml:"idle_timeout"` // 0 keeps the sweep armed forever
	BatchSize   int      `toml:"batch_size"`
}

// Duration decodes "5m"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type EncryptionConfig struct {
	// MasterKey is 32 bytes, hex encoded.
	MasterKey string `toml:"master_key"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Database: DatabaseConfig{
			DSN: "govdecisions:govdecisions@tcp(127.0.0.1:3306)/govdecisions",
		},
		HTTP: HTTPConfig{
			Port:        "8080",
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
		},
		FanOut: FanOutConfig{
			Publisher:   PublisherRedis,
			RedisURL:    "redis://127.0.0.1:6379/0",
			NATSURL:     "nats://127.0.0.1:4222",
			MaxElapsed:  Duration{10 * time.Second},
			SubjectBase: "govdecisions",
		},
		Sweep: SweepConfig{
			Interval:    Duration{5 * time.Minute},
			IdleTimeout: Duration{30 * time.Minute},
			BatchSize:   20,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the optional TOML file at path over defaults, then applies
// environment overrides, then validates.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		case len(content) > 0:
			if err := toml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode toml: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Database.DSN = getenv("MYSQL_DSN", cfg.Database.DSN)
	cfg.HTTP.Port = getenv("PORT", cfg.HTTP.Port)
	cfg.HTTP.JWTSecret = getenv("JWT_SECRET", cfg.HTTP.JWTSecret)
	cfg.HTTP.CORSOrigins = getListSetting("CORS_ORIGINS", cfg.HTTP.CORSOrigins)
	cfg.FanOut.Publisher = Publisher(strings.ToLower(getenv("PUBLISHER", string(cfg.FanOut.Publisher))))
	cfg.FanOut.RedisURL = getenv("REDIS_URL", cfg.FanOut.RedisURL)
	cfg.FanOut.NATSURL = getenv("NATS_URL", cfg.FanOut.NATSURL)
	cfg.Sweep.Interval.Duration = getDurationSetting("SWEEP_INTERVAL", cfg.Sweep.Interval.Duration)
	cfg.Sweep.IdleTimeout.Duration = getDurationSetting("SWEEP_IDLE_TIMEOUT", cfg.Sweep.IdleTimeout.Duration)
	if !getBoolSetting("SWEEP_SUSPEND", true) {
		cfg.Sweep.IdleTimeout.Duration = 0
	}
	cfg.Encryption.MasterKey = getenv("ENCRYPTION_MASTER_KEY", cfg.Encryption.MasterKey)
	cfg.Log.Level = getenv("LOG_LEVEL", cfg.Log.Level)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database dsn is required")
	}
	if strings.TrimSpace(c.HTTP.Port) == "" {
		return errors.New("http port is required")
	}
	if strings.TrimSpace(c.HTTP.JWTSecret) == "" {
		return errors.New("jwt secret is required (JWT_SECRET)")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must be >= 0, got %d", c.HTTP.RateLimit)
	}
	switch c.FanOut.Publisher {
	case PublisherRedis:
		if c.FanOut.RedisURL == "" {
			return errors.New("fanout.redis_url is required for the redis publisher")
		}
	case PublisherNATS:
		if c.FanOut.NATSURL == "" {
			return errors.New("fanout.nats_url is required for the nats publisher")
		}
	case PublisherNone:
	default:
		return fmt.Errorf("invalid fanout.publisher: %q", c.FanOut.Publisher)
	}
	if c.Sweep.Interval.Duration <= 0 {
		return fmt.Errorf("sweep.interval must be positive, got %s", c.Sweep.Interval)
	}
	if c.Sweep.IdleTimeout.Duration < 0 {
		return fmt.Errorf("sweep.idle_timeout must be >= 0, got %s", c.Sweep.IdleTimeout)
	}
	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("sweep.batch_size must be positive, got %d", c.Sweep.BatchSize)
	}
	if _, err := c.Encryption.Key(); err != nil {
		return err
	}
	return nil
}

// Key decodes the master key. An empty key is rejected.
func (e EncryptionConfig) Key() ([]byte, error) {
	raw := strings.TrimSpace(e.MasterKey)
	if raw == "" {
		return nil, errors.New("encryption master key is required (ENCRYPTION_MASTER_KEY)")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode encryption master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
