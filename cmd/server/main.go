package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/watchsync/roomhub/internal/api"
	"github.com/watchsync/roomhub/internal/auth"
	"github.com/watchsync/roomhub/internal/config"
	"github.com/watchsync/roomhub/internal/mirror"
	"github.com/watchsync/roomhub/internal/server"
	"github.com/watchsync/roomhub/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr                      string
	signingSecret             string
	audience                  string
	allowedOrigins            stringSliceFlag
	defaultEncryptionRequired bool
	cacheAddr                 string
	roomEmptyGrace            time.Duration
	pingInterval              time.Duration
	activityTimeout           time.Duration
	production                bool
)

func main() {
	flag.StringVar(&addr, "addr", config.DefaultListenAddr, "server listen address")
	flag.StringVar(&signingSecret, "signing-secret", "", "base64 encoded session token signing secret")
	flag.StringVar(&audience, "audience", "", "expected token audience (empty enables dev mode)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed CORS origins")
	flag.BoolVar(&defaultEncryptionRequired, "default-encryption-required", false, "encryption_required applied to rooms created without an explicit value")
	flag.StringVar(&cacheAddr, "cache-addr", "", "redis address for the room metadata mirror (mirror disabled when empty)")
	flag.DurationVar(&roomEmptyGrace, "room-empty-grace", config.DefaultRoomEmptyGrace, "delay between a room becoming empty and its deletion")
	flag.DurationVar(&pingInterval, "ping-interval", config.DefaultPingInterval, "heartbeat ping interval")
	flag.DurationVar(&activityTimeout, "activity-timeout", config.DefaultActivityTimeout, "hard connection activity timeout")
	flag.BoolVar(&production, "production", false, "refuse to boot with a missing signing secret, and deny cross-origin requests when no allowed origins are set")
	flag.Parse()

	logger := log.New(os.Stderr, "[roomhub] ", log.LstdFlags)

	cfg, err := config.NewConfig(config.Params{
		ListenAddr:                addr,
		SigningSecretBase64:       signingSecret,
		Audience:                  audience,
		AllowedOrigins:            allowedOrigins,
		DefaultEncryptionRequired: defaultEncryptionRequired,
		CacheAddr:                 cacheAddr,
		RoomEmptyGrace:            roomEmptyGrace,
		PingInterval:              pingInterval,
		ActivityTimeout:           activityTimeout,
		Production:                production,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	if cfg.DevMode {
		logger.Println("DEV MODE: token verification accepts unsigned claims")
	}

	var roomMirror mirror.Mirror
	if cfg.CacheAddr != "" {
		redisMirror := mirror.NewRedisMirror(cfg.CacheAddr, logger)
		defer redisMirror.Close()
		roomMirror = redisMirror
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	stats.RegisterAll(statsUpdater)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	verifier := auth.NewVerifier(cfg.SigningSecret, cfg.Audience, cfg.DevMode, logger)
	hub := server.NewHub(roomMirror, cfg.DefaultEncryptionRequired, cfg.RoomEmptyGrace, statsUpdater, logger)
	wsManager := server.NewManager(hub, verifier, cfg.AllowedOrigins, cfg.PingInterval, cfg.ActivityTimeout, statsUpdater, logger)

	app := api.NewApp(mux, logger, hub, verifier, wsManager, roomMirror, statsUpdater, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
