// Package config loads process configuration (server address, Redis
// address for the asynq session-sweep scheduler, JWT secret,
// node-inventory path) with
// viper, following the env-var-bound, defaulted Config-struct-of-structs
// shape used throughout this codebase's teacher stack.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret mirrors the Docker-secret convention: if FOO is unset and
// FOO_FILE points at a file, read the file and set FOO from its content.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	path := os.Getenv(fileKey)
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

// Config is the top-level process configuration.
type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Nodes      NodesConfig
	Preference PreferenceConfig
	Messaging  MessagingConfig
}

// ServerConfig configures the downstream HTTP+WS surface of §6.2.
type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// RedisConfig backs the asynq scheduler and server that run the
// lifecycle manager's periodic session sweep.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig configures bearer-token auth on the downstream API.
type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

// NodesConfig locates the declarative node-inventory file the Registry
// loads at startup, and whether to watch it for hot reload.
type NodesConfig struct {
	ConfigPath   string
	WatchReload  bool
	ProbeTimeout int // seconds
	ProbeEvery   int // seconds
}

// PreferenceConfig configures the Preference Engine's persistence.
type PreferenceConfig struct {
	Driver string // "memory", "postgres", "mysql", or "sqlite"
	DSN    string
}

// MessagingConfig configures the optional NATS relay the Progress
// Aggregator uses to fan events out across orchestrator replicas. When
// NATSURL is empty the Aggregator falls back to its in-process channel bus,
// which only reaches subscribers connected to the same process.
type MessagingConfig struct {
	NATSURL string
	Subject string
}

// Load reads configuration from defaults, ./config.yaml or
// ./config/config.yaml (if present), and environment variables, in that
// order of increasing priority.
func Load() (*Config, error) {
	readSecret("JWT_SECRET")
	readSecret("REDIS_PASSWORD")
	readSecret("FORGE_DB_DSN")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("nodes.config_path", "FORGE_NODES_CONFIG")
	_ = viper.BindEnv("nodes.watch_reload", "FORGE_NODES_WATCH")
	_ = viper.BindEnv("nodes.probe_timeout", "FORGE_PROBE_TIMEOUT")
	_ = viper.BindEnv("nodes.probe_every", "FORGE_PROBE_EVERY")
	_ = viper.BindEnv("preference.driver", "FORGE_PREFERENCE_DRIVER")
	_ = viper.BindEnv("preference.dsn", "FORGE_DB_DSN")
	_ = viper.BindEnv("messaging.nats_url", "NATS_URL")
	_ = viper.BindEnv("messaging.subject", "NATS_SUBJECT")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("nodes.config_path", "./config/nodes.yaml")
	viper.SetDefault("nodes.watch_reload", true)
	viper.SetDefault("nodes.probe_timeout", 3)
	viper.SetDefault("nodes.probe_every", 10)
	viper.SetDefault("preference.driver", "memory")
	viper.SetDefault("preference.dsn", "")
	viper.SetDefault("messaging.nats_url", "")
	viper.SetDefault("messaging.subject", "forge.events")

	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Nodes: NodesConfig{
			ConfigPath:   viper.GetString("nodes.config_path"),
			WatchReload:  viper.GetBool("nodes.watch_reload"),
			ProbeTimeout: viper.GetInt("nodes.probe_timeout"),
			ProbeEvery:   viper.GetInt("nodes.probe_every"),
		},
		Preference: PreferenceConfig{
			Driver: viper.GetString("preference.driver"),
			DSN:    viper.GetString("preference.dsn"),
		},
		Messaging: MessagingConfig{
			NATSURL: viper.GetString("messaging.nats_url"),
			Subject: viper.GetString("messaging.subject"),
		},
	}

	return cfg, nil
}
