package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"roomqueue/internal/models"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Remote     RemoteConfig     `yaml:"remote"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
	Rooms      []models.Room    `yaml:"rooms"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// QueueConfig tunes the retry schedule and the connectivity watcher.
// Durations are plain integers to keep the yaml simple.
type QueueConfig struct {
	MaxAttempts         int `yaml:"max_attempts"`
	InitialRetryDelayMS int `yaml:"initial_retry_delay_ms"`
	MaxRetryDelayMS     int `yaml:"max_retry_delay_ms"`
	PollIntervalSec     int `yaml:"poll_interval_sec"`
	SyncIntervalSec     int `yaml:"sync_interval_sec"`
}

func (q QueueConfig) InitialRetryDelay() time.Duration {
	return time.Duration(q.InitialRetryDelayMS) * time.Millisecond
}

func (q QueueConfig) MaxRetryDelay() time.Duration {
	return time.Duration(q.MaxRetryDelayMS) * time.Millisecond
}

func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalSec) * time.Second
}

func (q QueueConfig) SyncInterval() time.Duration {
	return time.Duration(q.SyncIntervalSec) * time.Second
}

// RemoteConfig points at the booking backend. When ClientID is set the
// client authenticates with OAuth2 client credentials against TokenURL.
type RemoteConfig struct {
	BaseURL      string `yaml:"base_url"`
	HealthPath   string `yaml:"health_path"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the yaml config at configPath, expanding ${VAR} references
// after loading .env when one is present.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" && c.Redis.Address == "" {
		return errors.New("either database.path or redis.address is required")
	}
	if c.Queue.MaxAttempts < 1 {
		return errors.New("queue.max_attempts must be at least 1")
	}
	return ValidateRooms(c.Rooms)
}

// ValidateRooms rejects duplicate or empty room ids.
func ValidateRooms(rooms []models.Room) error {
	seen := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		if room.ID == "" {
			return fmt.Errorf("room %q has an empty id", room.Name)
		}
		if seen[room.ID] {
			return fmt.Errorf("duplicate room id found: %s", room.ID)
		}
		seen[room.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "roomqueue"
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Queue.InitialRetryDelayMS == 0 {
		c.Queue.InitialRetryDelayMS = int(models.DefaultInitialRetryDelay / time.Millisecond)
	}
	if c.Queue.MaxRetryDelayMS == 0 {
		c.Queue.MaxRetryDelayMS = int(models.DefaultMaxRetryDelay / time.Millisecond)
	}
	if c.Queue.PollIntervalSec == 0 {
		c.Queue.PollIntervalSec = 10
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Enabled && !c.API.Auth.Enabled {
		// auth on by default when the API is exposed
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Remote.HealthPath == "" {
		c.Remote.HealthPath = "/health"
	}
	if c.Remote.TimeoutSec == 0 {
		c.Remote.TimeoutSec = 15
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
