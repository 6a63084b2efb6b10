// Command payauthd runs the pay-to-authenticate backend: the HTTP front
// door, the chain watcher, and the expiry sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	goredis "github.com/redis/go-redis/v9"

	payauth "github.com/safu-labs/payauth"
	"github.com/safu-labs/payauth/chain"
	"github.com/safu-labs/payauth/config"
	"github.com/safu-labs/payauth/devauth"
	"github.com/safu-labs/payauth/httpapi"
	"github.com/safu-labs/payauth/session"
	boltstore "github.com/safu-labs/payauth/store/bolt"
	memorystore "github.com/safu-labs/payauth/store/memory"
	redisstore "github.com/safu-labs/payauth/store/redis"
	"github.com/safu-labs/payauth/webhook"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	commitment := rpc.CommitmentConfirmed
	if cfg.Commitment == "finalized" {
		commitment = rpc.CommitmentFinalized
	}
	chainClient := chain.NewClient(ctx, cfg.SolanaRPC, cfg.SolanaWS, commitment, log.With("component", "chain"))
	defer chainClient.Close()

	issuer, err := session.NewIssuer(store, []byte(cfg.JWTSecret))
	if err != nil {
		return err
	}
	notifier := webhook.New(cfg.WebhookSecret, log.With("component", "webhook"))

	matcher := payauth.NewMatcher(store, chainClient, issuer, notifier, log.With("component", "matcher"))
	chainClient.SetHandler(matcher.HandleNotification)

	factory := payauth.NewFactory(store, log.With("component", "factory"))
	engine := payauth.NewService(store, factory, chainClient, log.With("component", "engine"))

	sweeper := payauth.NewSweeper(store, payauth.DefaultSweepInterval, log.With("component", "sweeper"))
	go sweeper.Run(ctx)

	devs := devauth.NewRegistry([]byte(cfg.JWTSecret), devauth.Defaults{
		MinLamports:  cfg.MinLamports,
		ChallengeTTL: cfg.ChallengeTTL,
		Commitment:   cfg.Commitment,
	})
	bootKey := devs.EnsureDefaultProject()
	log.Info("default project ready", "apiKey", bootKey.Key)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: httpapi.New(engine, devs, log.With("component", "http")).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", server.Addr, "store", cfg.StoreBackend, "rpc", cfg.SolanaRPC)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore selects the store backend from configuration.
func openStore(cfg config.Config) (payauth.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBolt:
		store, err := boltstore.Open(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return redisstore.New(client), func() { _ = client.Close() }, nil
	default:
		return memorystore.New(), func() {}, nil
	}
}
