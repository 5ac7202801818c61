// Package rdtclient wires the application together: configuration, the
// database, the provider client, the tick scheduler and the HTTP server.
package rdtclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-co-op/gocron/v2"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/logger"
	"github.com/laster13/rdt-client/internal/utils"
	"github.com/laster13/rdt-client/pkg/progress"
	"github.com/laster13/rdt-client/pkg/provider"
	"github.com/laster13/rdt-client/pkg/runner"
	"github.com/laster13/rdt-client/pkg/server"
	"github.com/laster13/rdt-client/pkg/store"
	"github.com/laster13/rdt-client/pkg/torrents"
	"github.com/laster13/rdt-client/pkg/version"
	"github.com/laster13/rdt-client/pkg/web"
)

func Start(ctx context.Context) error {
	cfg := config.Get()
	logger.Setup(cfg.LogDir(), cfg.LogLevel)
	_log := logger.Default()

	_log.Info().Str("version", version.GetInfo().Version).Str("log_level", cfg.LogLevel).Msg("starting rdt-client")

	db, err := store.Open(cfg.DatabaseFile())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	rd := provider.New(cfg.Provider)
	facade := torrents.New(cfg, db, rd)
	reporter := progress.NewReporter(cfg.ProgressHook, facade)
	run := runner.New(cfg, facade, db.Downloads(), reporter)

	if err := run.Initialize(); err != nil {
		return fmt.Errorf("initializing runner: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	defer func() { _ = scheduler.Shutdown() }()

	jd, err := utils.ConvertToJobDef(cfg.General.TickInterval)
	if err != nil {
		return fmt.Errorf("invalid tick interval %q: %w", cfg.General.TickInterval, err)
	}
	// Singleton mode: a slow tick is skipped over, never overlapped.
	if _, err := scheduler.NewJob(jd, gocron.NewTask(func() {
		run.Tick(ctx)
	}), gocron.WithContext(ctx), gocron.WithSingletonMode(gocron.LimitModeReschedule)); err != nil {
		return fmt.Errorf("scheduling tick: %w", err)
	}
	scheduler.Start()
	_log.Info().Str("interval", cfg.General.TickInterval).Msg("tick scheduler started")

	handlers := map[string]http.Handler{
		"/": web.New(facade).Routes(),
	}
	srv := server.New(handlers)

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		if err != nil {
			_log.Error().Err(err).Msg("server error")
		}
	}

	if err := scheduler.StopJobs(); err != nil {
		_log.Warn().Err(err).Msg("failed to stop scheduled jobs")
	}
	wg.Wait()
	_log.Info().Msg("shut down")
	return nil
}
