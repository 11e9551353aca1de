package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/app"
	"legal-intake-orchestrator/internal/extraction"
	"legal-intake-orchestrator/internal/ocr"
	"legal-intake-orchestrator/internal/openai"
	"legal-intake-orchestrator/internal/storage"
	appTemporal "legal-intake-orchestrator/internal/temporal"
)

func main() {
	cmd := app.NewCommand("worker", "Run the legal document workflow worker", run)
	if !app.Execute(context.Background(), cmd) {
		os.Exit(1)
	}
}

func run(ctx context.Context, rt app.Runtime) error {
	cfg, logger := rt.Config, rt.Logger

	store, err := storage.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	blob, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("connect minio: %w", err)
	}

	temporalClient, err := app.DialTemporal(rt)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	tesseract := ocr.NewTesseract(cfg.Languages())
	recognizer := ocr.Router{
		Text:  ocr.PlainText{},
		Image: tesseract,
		PDF:   ocr.NewPDF(tesseract, cfg.OCRPDFWorkers, logger),
	}

	var llm openai.Client
	if cfg.OpenAIAPIKey != "" {
		llm = openai.NewHTTPClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	}

	activities := &appTemporal.Activities{
		Store:      store,
		Blob:       blob,
		Extraction: extraction.NewStep(recognizer, cfg.OCRMinTextLength, logger),
		Mappers:    newMappers(cfg, llm, time.Duration(cfg.OpenAITimeoutSec)*time.Second, logger),
		Logger:     logger,
	}

	w := worker.New(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	appTemporal.Register(w, activities)

	logger.Info("worker running",
		zap.String("task_queue", cfg.TemporalTaskQueue),
		zap.String("entity_extractor", cfg.EntityExtractor),
		zap.Strings("ocr_languages", tesseract.Languages),
	)
	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	logger.Info("worker stopped")
	return nil
}
