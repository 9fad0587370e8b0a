// Package main provides the chat server binary. It accepts framed JSON
// envelopes over TCP (and optionally WebSocket), authenticates users
// against PostgreSQL, and relays chat, presence, and match traffic.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/chat/handlers"
	"github.com/parlorchat/parlor/internal/chat/session"
	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/game"
	"github.com/parlorchat/parlor/internal/observability"
	"github.com/parlorchat/parlor/internal/server"
	"github.com/parlorchat/parlor/internal/storage/postgres"
	"github.com/parlorchat/parlor/internal/transport"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting parlor server",
		zap.String("listen_addr", cfg.Listen.Addr()),
		zap.Bool("websocket", cfg.WebSocket.Enabled),
	)

	// Connect to PostgreSQL
	ctx := context.Background()
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	// Build services
	accounts := postgres.NewAccountRepository(pool.DB())
	friends := postgres.NewFriendRepository(pool.DB())
	messages := postgres.NewMessageRepository(pool.DB())
	games := postgres.NewGameRepository(pool.DB())

	registry := session.NewRegistry()
	manager := game.NewManager(registry, games, logger)
	handler := handlers.NewHandler(accounts, accounts, friends, messages, games, manager, registry, logger)

	acceptor := transport.NewAcceptor(cfg.Listen, handler, logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	lifecycle.Add("tcp", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			acceptor.Stop()
		},
	})

	if cfg.WebSocket.Enabled {
		wsAcceptor := transport.NewWSAcceptor(cfg.WebSocket, handler, logger)
		lifecycle.Add("websocket", &server.FuncService{
			StartFn: func() error {
				return wsAcceptor.ListenAndServe()
			},
			StopFn: func() {
				wsAcceptor.Stop()
			},
		})
	}

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("listen_addr", cfg.Listen.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
