package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/invitegate/invitegate/internal/attribution"
	"github.com/invitegate/invitegate/internal/bot"
	"github.com/invitegate/invitegate/internal/config"
	"github.com/invitegate/invitegate/internal/db"
	"github.com/invitegate/invitegate/internal/handlers"
	"github.com/invitegate/invitegate/internal/invite"
	"github.com/invitegate/invitegate/internal/logger"
	"github.com/invitegate/invitegate/internal/relay"
	"github.com/invitegate/invitegate/internal/server"
	"github.com/invitegate/invitegate/internal/store"
	"github.com/invitegate/invitegate/internal/telegram"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideStore,
			provideTelegramClient,
			provideInviteService,
			provideAttributionService,
			provideRelayService,
			provideBot,
			handlers.NewPingHandler,
			provideLeaderboardHandler,
			provideServer,
		),
		fx.Invoke(
			startBot,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, err
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideStore(log *slog.Logger, conn *pgxpool.Pool) *store.Store {
	return store.NewStore(log, conn)
}

func provideTelegramClient(log *slog.Logger, cfg config.Config) (*telegram.Client, error) {
	return telegram.NewClient(log, cfg.Telegram.BotToken)
}

func provideInviteService(log *slog.Logger, st *store.Store, client *telegram.Client, cfg config.Config) *invite.Service {
	return invite.NewService(log, st, client, cfg.Telegram)
}

func provideAttributionService(log *slog.Logger, st *store.Store, client *telegram.Client, cfg config.Config) *attribution.Service {
	return attribution.NewService(log, st, client, cfg.Telegram)
}

func provideRelayService(log *slog.Logger, st *store.Store, client *telegram.Client, cfg config.Config) *relay.Service {
	return relay.NewService(log, st, client, cfg.Telegram)
}

func provideBot(log *slog.Logger, client *telegram.Client, issuer *invite.Service, attributor *attribution.Service, router *relay.Service, st *store.Store, cfg config.Config) *bot.Bot {
	return bot.New(log, client, issuer, attributor, router, st, cfg)
}

func provideLeaderboardHandler(log *slog.Logger, st *store.Store) *handlers.LeaderboardHandler {
	return handlers.NewLeaderboardHandler(log, st)
}

func provideServer(cfg config.Config, pingHandler *handlers.PingHandler, leaderboardHandler *handlers.LeaderboardHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, pingHandler, leaderboardHandler)
}

func startBot(lc fx.Lifecycle, logger *slog.Logger, client *telegram.Client, cfg config.Config, b *bot.Bot) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			checkConfiguredChats(ctx, logger, client, cfg)
			go b.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

// checkConfiguredChats logs what the configured chat ids resolve to so a
// mistyped id or a non-forum staff group shows up at startup instead of on
// the first relay.
func checkConfiguredChats(ctx context.Context, logger *slog.Logger, client *telegram.Client, cfg config.Config) {
	if info, err := client.GetChat(ctx, cfg.Telegram.ChannelID); err != nil {
		logger.Warn("destination channel lookup failed",
			slog.Int64("channel_id", cfg.Telegram.ChannelID),
			slog.Any("error", err))
	} else {
		logger.Info("destination channel",
			slog.String("title", info.Title),
			slog.String("type", info.Type))
	}
	if info, err := client.GetChat(ctx, cfg.Telegram.StaffChatID); err != nil {
		logger.Warn("staff chat lookup failed",
			slog.Int64("staff_chat_id", cfg.Telegram.StaffChatID),
			slog.Any("error", err))
	} else {
		logger.Info("staff chat",
			slog.String("title", info.Title),
			slog.String("type", info.Type))
		if info.Type != "supergroup" {
			logger.Warn("staff chat is not a supergroup, forum topics will fail",
				slog.String("type", info.Type))
		}
	}
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
