package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/alert"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/backoff"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cache"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/config"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cost"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/gateway"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/httpapi"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/httpapi/middleware"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/logging"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/notify"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/remote"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo/memory"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo/postgres"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo/sqlite"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/scheduler"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/session"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store_open_error", zap.Error(err))
	}
	defer closeStore()

	client, err := remote.NewEC2Client(ctx, cfg.Region)
	if err != nil {
		logger.Fatal("ec2_client_error", zap.Error(err))
	}

	c := cache.New()
	policy := backoff.Policy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}
	gw := gateway.New(client, c, policy, cfg.CacheTTL, cfg.TagKey, cfg.TagValue, logger)
	tracker := session.NewTracker(store, logger)

	// Sessions left open by a previous run get settled against the live
	// state before the loops start.
	if err := tracker.Restore(ctx, func(ctx context.Context, id string) (domain.ResourceState, error) {
		return gw.GetState(ctx, id, true)
	}); err != nil {
		logger.Warn("restore_error", zap.Error(err))
	}

	engine := alert.NewEngine(store, tracker, gw, logger)

	var notifier notify.Notifier
	if d := notify.NewDiscord(cfg.DiscordWebhook); d != nil {
		notifier = notify.Multi{d}
	} else {
		logger.Warn("discord_webhook_missing")
	}

	costs := cost.NewReporter(store, store, tracker, logger)

	go scheduler.NewPoller(logger, gw, tracker, store, cfg.Region, cfg.PollInterval).Run(ctx)
	go scheduler.NewSweeper(logger, c, cfg.SweepInterval).Run(ctx)
	go scheduler.NewEvaluator(logger, engine, store, notifier, cfg.EvalInterval).Run(ctx)
	go scheduler.NewRecorder(logger, costs, store, cfg.CostInterval).Run(ctx)
	keys := middleware.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	api := httpapi.NewServer(logger, gw, tracker, store, costs, c, keys)

	srv := &http.Server{Addr: cfg.Addr, Handler: api.Router()}
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api_listen_error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Info("store_selected", zap.String("backend", "postgres"))
		return pg, pg.Close, nil

	case cfg.SQLitePath != "":
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("store_selected",
			zap.String("backend", "sqlite"),
			zap.String("path", cfg.SQLitePath))
		return db, func() { _ = db.Close() }, nil

	default:
		logger.Info("store_selected", zap.String("backend", "memory"))
		return memory.New(), func() {}, nil
	}
}
