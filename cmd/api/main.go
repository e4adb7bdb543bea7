package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/cropcover/internal/adapters/analysis"
	"github.com/samirrijal/cropcover/internal/adapters/geocoder"
	"github.com/samirrijal/cropcover/internal/adapters/http"
	"github.com/samirrijal/cropcover/internal/adapters/memory"
	natsadapter "github.com/samirrijal/cropcover/internal/adapters/nats"
	"github.com/samirrijal/cropcover/internal/adapters/scheduler"
	"github.com/samirrijal/cropcover/internal/adapters/valkey"
	"github.com/samirrijal/cropcover/internal/core/domain"
	"github.com/samirrijal/cropcover/internal/core/ports"
	"github.com/samirrijal/cropcover/internal/core/usecases"
	"github.com/samirrijal/cropcover/internal/pkg/config"
	"github.com/samirrijal/cropcover/internal/pkg/logging"
	"github.com/samirrijal/cropcover/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("cropcover-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Analysis service client
	client := analysis.New(analysis.Config{
		BaseURL:          cfg.Analysis.BaseURL,
		BreakerFailures:  cfg.Analysis.BreakerFailures,
		BreakerOpenDelay: cfg.Analysis.BreakerOpenDelay,
	})

	// Reverse geocoding for point labels
	var labels ports.Geocoder
	if cfg.Map.Geocode {
		if g := geocoder.NewGoogle(cfg.Map.APIKey); g != nil {
			labels = g
		}
	}

	deps := &http.Dependencies{
		Client: http.ClientConfig{
			MapsAPIKey:   cfg.Map.APIKey,
			Center:       http.CenterConfig{Lat: cfg.Map.CenterLat, Lng: cfg.Map.CenterLng},
			Zoom:         cfg.Map.Zoom,
			SummerDate:   cfg.Session.SummerDate,
			WinterDate:   cfg.Session.WinterDate,
			GeocodeLabel: labels != nil,
		},
		RateLimit:      cfg.Server.RateLimit,
		AnalyzeTimeout: cfg.Analysis.WaitTimeout(),
	}

	// NATS outcome events
	var publisher ports.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			defer nc.Close()
			publisher = nc
			deps.Broker = nc
		}
	}

	// Valkey-backed rate limiter storage
	if cfg.Valkey.Addr != "" {
		store, err := valkey.New(cfg.Valkey.Addr, "cropcover:limiter:")
		if err != nil {
			slog.Warn("valkey unavailable, rate limiting per instance", "error", err)
		} else {
			defer store.Close()
			deps.LimiterStorage = store
			deps.Store = store
		}
	}

	// Sessions
	sessions := usecases.NewSessionService(memory.NewSessionRepo(), client, labels, publisher, usecases.SessionConfig{
		AnalysisTimeout: cfg.Analysis.Timeout,
		IdleTTL:         cfg.Session.IdleTTL,
		DefaultDates:    domain.DateParams{Summer: cfg.Session.SummerDate, Winter: cfg.Session.WinterDate},
	})
	deps.Sessions = sessions

	sweeper := scheduler.NewSweeper(sessions, cfg.Session.SweepInterval)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("start sweeper: %v", err)
	}
	defer sweeper.Stop()

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    64 * 1024,
		AppName:      "CropCover API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, If-None-Match",
		ExposeHeaders:    "ETag, Location, X-Request-ID",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Browser client
	if cfg.Server.StaticDir != "" {
		app.Static("/", cfg.Server.StaticDir)
	}

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "analysis_url", cfg.Analysis.BaseURL)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// Let pending label lookups and outcome publishes finish before closing NATS.
	waited := make(chan struct{})
	go func() {
		sessions.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-shutdownCtx.Done():
		slog.Warn("background work still running at shutdown")
	}

	slog.Info("server stopped")
}
