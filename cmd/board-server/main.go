package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskforge-sync/domain"
	"taskforge-sync/internal/redisconn"
	"taskforge-sync/server"
)

type config struct {
	Debug         bool          `env:"DEBUG"`
	Port          string        `env:"BOARD_SERVER_PORT"       envDefault:"8080"`
	JWTSecret     string        `env:"JWT_SECRET"`
	JWTAudience   string        `env:"JWT_AUDIENCE"`
	BoardsFile    string        `env:"BOARDS_FILE"`
	RedisConn     string        `env:"REDIS_CONNECTION_STRING"`
	FanoutChannel string        `env:"FANOUT_CHANNEL"          envDefault:"taskforge:board-updates"`
	DeduperTTL    time.Duration `env:"DEDUPER_TTL"             envDefault:"24h"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.DeduperTTL <= 0 {
		log.Fatal("invalid DEDUPER_TTL: must be greater than zero")
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, accepting anonymous connections")
	}

	boards := server.NewRepository(demoBoard())
	if cfg.BoardsFile != "" {
		repo, err := server.LoadRepository(cfg.BoardsFile)
		if err != nil {
			log.Fatalf("boards: %v", err)
		}
		boards = repo
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New()
	logger.SetLevel(log.GetLevel())
	hub := server.NewHub(logger)
	deps := server.Deps{
		Boards:    boards,
		Hub:       hub,
		Publisher: server.NewLocalFanout(hub),
		Auth:      server.NewAuth(cfg.JWTSecret, cfg.JWTAudience),
		Logger:    logger,
	}
	if cfg.RedisConn != "" {
		rc, err := redisconn.New(cfg.RedisConn)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		fanout := server.NewRedisFanout(rc, cfg.FanoutChannel, hub, logger)
		go fanout.Run(ctx)
		deps.Publisher = fanout
		deps.Deduper = server.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, server.HeaderIdempotencyKey},
	}))
	server.Register(e, deps)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.WithField("connections", hub.CloseAll()).Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func demoBoard() domain.BoardState {
	b := domain.NewBoardState("demo")
	b.Name = "Demo"
	b.Todo = []domain.Card{
		{ID: "card-1", Title: "Write the release notes"},
		{ID: "card-2", Title: "Review the onboarding flow"},
	}
	b.Doing = []domain.Card{{ID: "card-3", Title: "Fix the flaky deploy"}}
	return b
}
