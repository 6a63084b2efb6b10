// Package config loads process configuration from the environment, with a
// .env file honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backend selectors for STORE_BACKEND.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreRedis  = "redis"
)

// Config is the full process configuration.
type Config struct {
	Port         int
	SolanaRPC    string
	SolanaWS     string
	Commitment   string
	MinLamports  uint64
	ChallengeTTL time.Duration
	JWTSecret    string

	StoreBackend string
	StorePath    string // bolt backend
	RedisAddr    string // redis backend

	WebhookSecret string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:         envInt("PORT", 8787),
		SolanaRPC:    envStr("SOLANA_RPC", "https://api.devnet.solana.com"),
		SolanaWS:     envStr("SOLANA_WS", "wss://api.devnet.solana.com"),
		Commitment:   envStr("SOLANA_COMMITMENT", "confirmed"),
		MinLamports:  envUint("MIN_LAMPORTS", 7_000),
		ChallengeTTL: time.Duration(envInt("CHALLENGE_TTL_MS", 5*60*1000)) * time.Millisecond,
		JWTSecret:    envStr("JWT_SECRET", "change-me"),

		StoreBackend: envStr("STORE_BACKEND", StoreMemory),
		StorePath:    envStr("STORE_PATH", "payauth.db"),
		RedisAddr:    envStr("REDIS_ADDR", "localhost:6379"),

		WebhookSecret: envStr("WEBHOOK_SECRET", ""),
	}

	switch cfg.Commitment {
	case "confirmed", "finalized":
	default:
		return Config{}, fmt.Errorf("unsupported SOLANA_COMMITMENT %q", cfg.Commitment)
	}
	switch cfg.StoreBackend {
	case StoreMemory, StoreBolt, StoreRedis:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envUint(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
