// Package app wires configuration, storage, refresh and the HTTP surface
// into a runnable daemon.
package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/UsageDeck/internal/api"
	"github.com/router-for-me/UsageDeck/internal/config"
	"github.com/router-for-me/UsageDeck/internal/db"
	"github.com/router-for-me/UsageDeck/internal/fetch"
	"github.com/router-for-me/UsageDeck/internal/logging"
	"github.com/router-for-me/UsageDeck/internal/models"
	"github.com/router-for-me/UsageDeck/internal/provider"
	"github.com/router-for-me/UsageDeck/internal/refresh"
	"github.com/router-for-me/UsageDeck/internal/reset"
	"github.com/router-for-me/UsageDeck/internal/store"
)

const shutdownTimeout = 10 * time.Second

// AppConfig holds command-line inputs.
type AppConfig struct {
	ConfigPath string
}

// Migrate opens the database and runs migrations, then exits.
func Migrate(ctx context.Context, cfg AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	loaded, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(loaded.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the daemon and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg AppConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}

	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	configs, errStore := config.NewStore(configPath)
	if errStore != nil {
		return errStore
	}
	current := configs.Current()
	logging.Setup(current.Log)

	conn, errOpen := db.Open(current.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	st := store.New(conn)
	registry := provider.NewRegistry()

	engine := fetch.NewEngine(registry, current.Refresh.MaxConcurrency)
	engine.OnDiscover = func(identity models.ProviderIdentity) {
		if errUpsert := st.UpsertIdentity(context.Background(), identity); errUpsert != nil {
			log.WithError(errUpsert).Warnf("discovered identity upsert failed (provider=%s)", identity.ProviderID)
		}
	}

	detector := reset.NewDetector(st, thresholdsFromConfig(current.Reset))
	orchestrator := refresh.NewOrchestrator(configs, st, engine, detector)
	orchestrator.Start(ctx)

	server := api.NewServer(current.Server.Addr, configs, st, orchestrator, registry)
	server.Start()

	log.Infof("usagedeck started (config=%s db=%s addr=%s)", configPath, current.Database.DSN, current.Server.Addr)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("http shutdown failed")
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		if errClose := sqlDB.Close(); errClose != nil {
			log.WithError(errClose).Warn("database close failed")
		}
	}
	return nil
}

// thresholdsFromConfig maps the numeric config block onto detector
// thresholds, keeping defaults for unset fields.
func thresholdsFromConfig(cfg config.Reset) reset.Thresholds {
	thresholds := reset.Thresholds{}
	if cfg.ScheduleBufferSeconds > 0 {
		thresholds.ScheduleBuffer = time.Duration(cfg.ScheduleBufferSeconds) * time.Second
	}
	if cfg.QuotaPrevMinPercent > 0 {
		thresholds.QuotaPrevMinPercent = cfg.QuotaPrevMinPercent
	}
	if cfg.QuotaDropRatio > 0 {
		thresholds.QuotaDropRatio = cfg.QuotaDropRatio
	}
	if cfg.UsageDropRatio > 0 {
		thresholds.UsageDropRatio = cfg.UsageDropRatio
	}
	return thresholds
}
