package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Channels  ChannelsConfig
	Broadcast BroadcastConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// ChannelConfig describes one external channel. A channel with no gateway
// URL is simply unconfigured; sends on it are rejected up front.
type ChannelConfig struct {
	GatewayURL  string
	PacingDelay time.Duration
}

type ChannelsConfig struct {
	BotAPI   ChannelConfig
	Personal ChannelConfig
	BridgeA  ChannelConfig
	BridgeB  ChannelConfig
}

type BroadcastConfig struct {
	PollInterval time.Duration
}

func LoadAll() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: mustEnv("POSTGRES_URL"),
		},
		Channels: ChannelsConfig{
			BotAPI:   loadChannel("BOT_API", 3),
			Personal: loadChannel("PERSONAL", 7),
			BridgeA:  loadChannel("BRIDGE_A", 10),
			BridgeB:  loadChannel("BRIDGE_B", 10),
		},
		Broadcast: BroadcastConfig{
			PollInterval: time.Duration(getEnvInt("BROADCAST_POLL_MS", 200)) * time.Millisecond,
		},
		Redis: loadRedisConfig(),
	}

	validate(cfg)
	return cfg, nil
}

func loadChannel(prefix string, defaultPacingSeconds int) ChannelConfig {
	return ChannelConfig{
		GatewayURL:  os.Getenv(prefix + "_GATEWAY_URL"),
		PacingDelay: time.Duration(getEnvInt("PACING_"+prefix+"_SECONDS", defaultPacingSeconds)) * time.Second,
	}
}

func loadRedisConfig() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
		TTL:      time.Duration(getEnvInt("REDIS_TTL_SECONDS", 86400)) * time.Second,
	}
}

func validate(cfg *Config) {
	if cfg.Broadcast.PollInterval <= 0 {
		panic("BROADCAST_POLL_MS must be > 0")
	}
	for _, ch := range []struct {
		name string
		cfg  ChannelConfig
	}{
		{"BOT_API", cfg.Channels.BotAPI},
		{"PERSONAL", cfg.Channels.Personal},
		{"BRIDGE_A", cfg.Channels.BridgeA},
		{"BRIDGE_B", cfg.Channels.BridgeB},
	} {
		if ch.cfg.PacingDelay <= 0 {
			panic(fmt.Sprintf("PACING_%s_SECONDS must be > 0", ch.name))
		}
	}
}

func mustEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("missing required env var: %s", key))
	}
	return val
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid int for env %s: %s", key, v))
	}
	return i
}
