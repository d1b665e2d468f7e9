// Package config loads daod settings from an optional YAML file, a .env file
// and DAO_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "DAO"

type Config struct {
	HTTP     HTTPConfig
	GRPC     GRPCConfig
	PG       PGConfig
	Redis    RedisConfig
	S3       S3Config
	Auth     AuthConfig
	Chain    ChainConfig
	Treasury TreasuryConfig
	Vote     VoteConfig
	Dev      DevConfig
}

type HTTPConfig struct {
	Addr        string
	RatePerSec  float64
	RateBurst   int
	CORSOrigins []string
}

type GRPCConfig struct {
	Addr string
}

// PGConfig selects Postgres persistence. An empty DSN keeps everything in
// memory.
type PGConfig struct {
	DSN string
}

// RedisConfig enables event publication when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// S3Config enables the S3 content store when Bucket is set.
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// ChainConfig drives the local height clock. Zero disables it.
type ChainConfig struct {
	BlockInterval time.Duration
}

type TreasuryConfig struct {
	MinSeed int64
}

// VoteConfig is the default spend vote threshold, in whole percent, and
// duration in blocks (0: no expiry).
type VoteConfig struct {
	DefaultSupportPct uint32
	DefaultTurnoutPct uint32
	DefaultDuration   uint64
}

// DevConfig enables the faucet endpoint that endows accounts.
type DevConfig struct {
	Faucet       bool
	FaucetAmount int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_per_sec", 50.0)
	v.SetDefault("http.rate_burst", 100)
	v.SetDefault("http.cors_origins", "*")
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("pg.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "dao.events")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "content")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "sunshine")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("chain.block_interval", 0)
	v.SetDefault("treasury.min_seed", 1)
	v.SetDefault("vote.default_support_pct", 50)
	v.SetDefault("vote.default_turnout_pct", 10)
	v.SetDefault("vote.default_duration", 0)
	v.SetDefault("dev.faucet", false)
	v.SetDefault("dev.faucet_amount", 1000)
}

// Load reads configuration. path may be empty; a .env file in the working
// directory is loaded when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:        v.GetString("http.addr"),
			RatePerSec:  v.GetFloat64("http.rate_per_sec"),
			RateBurst:   v.GetInt("http.rate_burst"),
			CORSOrigins: splitList(v.GetString("http.cors_origins")),
		},
		GRPC: GRPCConfig{Addr: v.GetString("grpc.addr")},
		PG:   PGConfig{DSN: v.GetString("pg.dsn")},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		S3: S3Config{
			Region:          v.GetString("s3.region"),
			Bucket:          v.GetString("s3.bucket"),
			Prefix:          v.GetString("s3.prefix"),
			Endpoint:        v.GetString("s3.endpoint"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
		},
		Auth: AuthConfig{
			Secret:   v.GetString("auth.secret"),
			Issuer:   v.GetString("auth.issuer"),
			TokenTTL: v.GetDuration("auth.token_ttl"),
		},
		Chain:    ChainConfig{BlockInterval: v.GetDuration("chain.block_interval")},
		Treasury: TreasuryConfig{MinSeed: v.GetInt64("treasury.min_seed")},
		Vote: VoteConfig{
			DefaultSupportPct: v.GetUint32("vote.default_support_pct"),
			DefaultTurnoutPct: v.GetUint32("vote.default_turnout_pct"),
			DefaultDuration:   v.GetUint64("vote.default_duration"),
		},
		Dev: DevConfig{
			Faucet:       v.GetBool("dev.faucet"),
			FaucetAmount: v.GetInt64("dev.faucet_amount"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.Treasury.MinSeed < 1 {
		errs = append(errs, fmt.Errorf("treasury.min_seed must be positive, got %d", c.Treasury.MinSeed))
	}
	if p := c.Vote.DefaultSupportPct; p == 0 || p >= 100 {
		errs = append(errs, fmt.Errorf("vote.default_support_pct must be in (0, 100), got %d", p))
	}
	if p := c.Vote.DefaultTurnoutPct; p == 0 || p >= 100 {
		errs = append(errs, fmt.Errorf("vote.default_turnout_pct must be in (0, 100), got %d", p))
	}
	if c.HTTP.RatePerSec <= 0 || c.HTTP.RateBurst <= 0 {
		errs = append(errs, errors.New("http.rate_per_sec and http.rate_burst must be positive"))
	}
	if c.Dev.Faucet && c.Dev.FaucetAmount <= 0 {
		errs = append(errs, errors.New("dev.faucet_amount must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
