package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/app"
	"legal-intake-orchestrator/internal/approval"
	"legal-intake-orchestrator/internal/config"
	"legal-intake-orchestrator/internal/events"
	appTemporal "legal-intake-orchestrator/internal/temporal"
)

func main() {
	cmd := app.NewCommand("event-handler", "Start document workflows from bucket notifications", run)
	if !app.Execute(context.Background(), cmd) {
		os.Exit(1)
	}
}

func run(ctx context.Context, rt app.Runtime) error {
	cfg, logger := rt.Config, rt.Logger

	minioClient, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return fmt.Errorf("connect minio: %w", err)
	}

	temporalClient, err := app.DialTemporal(rt)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	source := events.NewMinioUploadEventSource(minioClient, cfg.MinioBucket, "", "", logger)
	starter := &workflowStarter{client: temporalClient, cfg: cfg, logger: logger}

	logger.Info("listening for object-created events", zap.String("bucket", cfg.MinioBucket))
	if err := source.Run(ctx, starter.Start); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("event source stopped: %w", err)
	}
	return nil
}

type workflowStarter struct {
	client client.Client
	cfg    config.Config
	logger *zap.Logger
}

// Start launches one workflow per document. A workflow already running for
// the document is not an error: bucket notifications may be redelivered.
func (s *workflowStarter) Start(parent context.Context, event events.UploadEvent) error {
	workflowID := app.WorkflowID(s.cfg, event.DocumentID)
	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	_, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, appTemporal.LegalDocumentWorkflowName, workflowInput(s.cfg, event))
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			s.logger.Info("workflow already started", zap.String("workflow_id", workflowID), zap.String("object_key", event.ObjectKey))
			return nil
		}
		return fmt.Errorf("start workflow for object %s: %w", event.ObjectKey, err)
	}

	s.logger.Info("started workflow",
		zap.String("workflow_id", workflowID),
		zap.String("object_key", event.ObjectKey),
		zap.String("form_type", string(event.FormType)),
	)
	return nil
}

func workflowInput(cfg config.Config, event events.UploadEvent) appTemporal.WorkflowInput {
	return appTemporal.WorkflowInput{
		DocumentID:  event.DocumentID,
		Filename:    event.Filename,
		ObjectKey:   event.ObjectKey,
		ContentType: event.ContentType,
		FormType:    event.FormType,
		Policy: approval.Policy{
			AutoApprove:           cfg.ApprovalAutoApprove,
			AutoApproveConfidence: cfg.ApprovalAutoApproveConfidence,
		},
	}
}
