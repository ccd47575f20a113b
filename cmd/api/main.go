package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"tillpoint.org/internal/auth"
	"tillpoint.org/internal/config"
	"tillpoint.org/internal/httpapi"
	"tillpoint.org/internal/obs"
	"tillpoint.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	tokens, err := auth.NewTokenService(cfg.AccessSecret, cfg.RefreshSecret,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	registry, err := auth.NewRevocationRegistry(redisClient)
	if err != nil {
		log.Fatalf("revocation registry: %v", err)
	}
	cache, err := auth.NewPermissionCache(redisClient, cfg.PermissionTTL)
	if err != nil {
		log.Fatalf("permission cache: %v", err)
	}
	resolver, err := auth.NewResolver(store, cache)
	if err != nil {
		log.Fatalf("permission resolver: %v", err)
	}
	gate, err := auth.NewGate(tokens, registry, resolver)
	if err != nil {
		log.Fatalf("gate: %v", err)
	}

	api, err := httpapi.New(httpapi.Deps{
		ReadyProbe: httpapi.ReadyProbe{DB: store.DB(), Redis: redisClient},
		Version:    version,
		Gate:       gate,
		Tokens:     tokens,
		Registry:   registry,
		Directory:  store,
		RateBurst:  cfg.RateLimitBurst,
		RatePerSec: cfg.RateLimitPerSec,
	})
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting tillpoint-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
