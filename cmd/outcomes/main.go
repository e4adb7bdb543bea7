// Command outcomes tails the analysis outcome stream and writes one structured
// log line per terminal analysis.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	natsadapter "github.com/samirrijal/cropcover/internal/adapters/nats"
	"github.com/samirrijal/cropcover/internal/core/domain"
	"github.com/samirrijal/cropcover/internal/pkg/config"
	"github.com/samirrijal/cropcover/internal/pkg/logging"
)

const durableName = "cropcover-outcome-log"

func main() {
	cfg, err := config.Load("cropcover-outcomes")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.NATS.URL == "" {
		log.Fatalf("config: nats.url is required")
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL, "cropcover-outcomes")
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	err = sub.SubscribeAnalysisOutcomes(ctx, durableName, func(_ context.Context, o *domain.AnalysisOutcome) error {
		attrs := []any{
			"session_id", o.SessionID,
			"generation", o.Generation,
			"state", o.State,
			"lat", o.Request.Point.Lat,
			"lng", o.Request.Point.Lng,
			"summer_date", o.Request.SummerDate,
			"winter_date", o.Request.WinterDate,
			"duration_ms", o.DurationMS,
		}
		if o.State == domain.StateFailed {
			logger.Warn("analysis outcome", append(attrs, "kind", o.ErrorKind, "error", o.Error)...)
			return nil
		}
		if o.Summer != nil && o.Winter != nil {
			attrs = append(attrs,
				"summer_crop_acres", o.Summer.AcresWithCrop,
				"winter_crop_acres", o.Winter.AcresWithCrop,
			)
		}
		logger.Info("analysis outcome", attrs...)
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	slog.Info("outcome consumer started", "durable", durableName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down outcome consumer", "signal", sig.String())
}
