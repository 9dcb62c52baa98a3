package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/three-kingdoms/internal/api"
	"github.com/jensholdgaard/three-kingdoms/internal/bot"
	"github.com/jensholdgaard/three-kingdoms/internal/clock"
	"github.com/jensholdgaard/three-kingdoms/internal/config"
	"github.com/jensholdgaard/three-kingdoms/internal/engine"
	"github.com/jensholdgaard/three-kingdoms/internal/health"
	"github.com/jensholdgaard/three-kingdoms/internal/leader"
	"github.com/jensholdgaard/three-kingdoms/internal/store"
	"github.com/jensholdgaard/three-kingdoms/internal/telemetry"
	"github.com/jensholdgaard/three-kingdoms/internal/verify"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/three-kingdoms/internal/store/memory"
	_ "github.com/jensholdgaard/three-kingdoms/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewLocalProvider(os.Stderr)
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	svc, err := engine.NewService(repos, cfg.Engine, clk, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating match service: %w", err)
	}

	healthHandler := health.NewHandler(clk, health.Checker{Name: "database", Check: repos.Ping})

	// The HTTP API runs on every replica; the store serializes writers.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(svc, healthHandler, cfg.Server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", listenErr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthHandler.SetReady(false)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	healthHandler.SetReady(true)

	// lead runs the background work only one replica should do.
	lead := func(ctx context.Context) {
		lg, lctx := errgroup.WithContext(ctx)
		lg.Go(func() error {
			return verify.NewRunner(repos.Matches, svc, cfg.Engine, logger, tp.TracerProvider).Run(lctx)
		})
		if cfg.Discord.Enabled {
			lg.Go(func() error {
				discordBot, botErr := bot.New(cfg.Discord, svc, logger, tp.TracerProvider)
				if botErr != nil {
					return fmt.Errorf("creating bot: %w", botErr)
				}
				if botErr = discordBot.Start(lctx); botErr != nil {
					return fmt.Errorf("starting bot: %w", botErr)
				}
				<-lctx.Done()
				return discordBot.Stop()
			})
		}
		logger.InfoContext(ctx, "tkserver is leading", slog.String("version", version))
		if leadErr := lg.Wait(); leadErr != nil {
			logger.ErrorContext(ctx, "leader work failed", slog.Any("error", leadErr))
		}
		// Hold leadership until it is lost or the process stops.
		<-ctx.Done()
	}

	g.Go(func() error {
		err := leader.Run(gctx, cfg.LeaderElection, logger, lead, func() {
			logger.Info("no longer leading, shutting down...")
			cancel()
		})
		if err != nil {
			return fmt.Errorf("leader election: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
