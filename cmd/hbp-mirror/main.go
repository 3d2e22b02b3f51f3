package main

import (
	"context"
	"os"
	"time"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/api"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/cli"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/events"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/export"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/feed"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/log"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/storage"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger().With(log.FieldComponent, log.ComponentMirror)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting hbp-mirror")

	repo, err := storage.NewMirrorRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open mirror database", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	exporter, err := export.New(context.Background(), cfg.ExportSettings())
	if err != nil {
		logger.Error("Failed to initialize export target", log.FieldError, err)
		os.Exit(1)
	}
	if exporter == nil {
		logger.Info("Export disabled")
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.APIToken)
	controller := feed.NewController(client,
		feed.WithPageSize(cfg.PageSize),
		feed.WithSessionExpiredFunc(func() {
			logger.Error("API session expired; update HBP_API_TOKEN and restart")
		}),
	)

	mirror := worker.NewMirror(controller, repo, exporter, worker.MirrorConfig{
		ResyncInterval:  cfg.ResyncInterval,
		ExportBatchSize: cfg.ExportBatchSize,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mirror.Stop(stopCtx); err != nil {
			logger.Warn("Mirror did not stop cleanly", log.FieldError, err)
		}
	})

	if err := mirror.Start(ctx); err != nil {
		logger.Error("Failed to start mirror", log.FieldError, err)
		os.Exit(1)
	}

	// AMQP is optional; without it the mirror relies on interval resyncs.
	if cfg.AMQPURL != "" {
		eventsClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect to AMQP", log.FieldError, err)
			os.Exit(1)
		}
		defer eventsClient.Close()

		go func() {
			err := eventsClient.ConsumeTransactionEvents(ctx, func(event *events.TransactionEvent) error {
				return mirror.HandleEvent(ctx, event)
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("Event consumption stopped", log.FieldError, err)
			}
		}()
		logger.Info("Consuming transaction events", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled; relying on interval resyncs")
	}

	cli.WaitForShutdown(ctx, done)
}
