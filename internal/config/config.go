package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Match    MatchConfig    `mapstructure:"match"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres, mysql, sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type NotifyConfig struct {
	Driver         string        `mapstructure:"driver"` // redis, nats
	Workers        int           `mapstructure:"workers"`
	Buffer         int           `mapstructure:"buffer"`
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

type MatchConfig struct {
	StaleLockTimeout       time.Duration `mapstructure:"staleLockTimeout"`
	LockBackstop           time.Duration `mapstructure:"lockBackstop"`
	HeartbeatInterval      time.Duration `mapstructure:"heartbeatInterval"`
	HeartbeatTimeout       time.Duration `mapstructure:"heartbeatTimeout"`
	HeartbeatSweepInterval time.Duration `mapstructure:"heartbeatSweepInterval"`
	StaleSweepInterval     time.Duration `mapstructure:"staleSweepInterval"`
	MatchSweepInterval     time.Duration `mapstructure:"matchSweepInterval"`
	MaxSearchAge           time.Duration `mapstructure:"maxSearchAge"`
	HandoffTimeout         time.Duration `mapstructure:"handoffTimeout"`
	ClaimAttempts          int           `mapstructure:"claimAttempts"`
	SweepBatchSize         int           `mapstructure:"sweepBatchSize"`
	Transactional          bool          `mapstructure:"transactional"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdownTimeout", "10s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=chat password=chat dbname=chatmatch port=5432 sslmode=disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("notify.driver", "redis")
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.buffer", 1024)
	v.SetDefault("notify.publishTimeout", "2s")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire", 72)

	v.SetDefault("match.staleLockTimeout", "5s")
	v.SetDefault("match.lockBackstop", "10s")
	v.SetDefault("match.heartbeatInterval", "15s")
	v.SetDefault("match.heartbeatTimeout", "30s")
	v.SetDefault("match.heartbeatSweepInterval", "10s")
	v.SetDefault("match.staleSweepInterval", "60s")
	v.SetDefault("match.matchSweepInterval", "5s")
	v.SetDefault("match.maxSearchAge", "10m")
	v.SetDefault("match.handoffTimeout", "2m")
	v.SetDefault("match.claimAttempts", 3)
	v.SetDefault("match.sweepBatchSize", 500)
	v.SetDefault("match.transactional", true)
}

// Load reads the yaml file at path on top of the defaults. Environment
// variables prefixed with CHATMATCH_ override file values
// (CHATMATCH_REDIS_ADDR for redis.addr). An empty path loads defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("chatmatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Notify.Driver {
	case "redis", "nats":
	default:
		return fmt.Errorf("unsupported notify driver %q", c.Notify.Driver)
	}
	if c.Match.HeartbeatTimeout <= c.Match.HeartbeatInterval {
		return fmt.Errorf("match.heartbeatTimeout (%s) must exceed match.heartbeatInterval (%s)",
			c.Match.HeartbeatTimeout, c.Match.HeartbeatInterval)
	}
	if c.Match.StaleLockTimeout <= 0 || c.Match.LockBackstop < c.Match.StaleLockTimeout {
		return fmt.Errorf("match.lockBackstop must be >= match.staleLockTimeout > 0")
	}
	if c.Match.HandoffTimeout <= 0 {
		return fmt.Errorf("match.handoffTimeout must be positive")
	}
	if c.Server.Mode == "release" && c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required in release mode")
	}
	return nil
}

func LoadConfig(path string) {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Error loading config: %s", err)
	}
	GlobalConfig = cfg
}
