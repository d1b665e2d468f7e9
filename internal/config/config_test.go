package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("DAO_AUTH_SECRET", "s3cret")
	t.Setenv("DAO_HTTP_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("DAO_CHAIN_BLOCK_INTERVAL", "2s")
	t.Setenv("DAO_VOTE_DEFAULT_SUPPORT_PCT", "66")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.GRPC.Addr != ":9090" || cfg.Redis.Channel != "dao.events" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Chain.BlockInterval != 2*time.Second || cfg.Vote.DefaultSupportPct != 66 || cfg.Vote.DefaultTurnoutPct != 10 {
		t.Fatalf("unexpected chain/vote config %+v %+v", cfg.Chain, cfg.Vote)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daod.yaml")
	body := "auth:\n  secret: from-file\ntreasury:\n  min_seed: 25\ns3:\n  bucket: dao-content\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DAO_TREASURY_MIN_SEED", "40")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Secret != "from-file" || cfg.S3.Bucket != "dao-content" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Treasury.MinSeed != 40 {
		t.Fatalf("env must override the file, got %d", cfg.Treasury.MinSeed)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		HTTP: HTTPConfig{Addr: ":1", RatePerSec: 1, RateBurst: 1},
		Vote: VoteConfig{DefaultSupportPct: 100, DefaultTurnoutPct: 5},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"auth.secret", "treasury.min_seed", "vote.default_support_pct"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}
