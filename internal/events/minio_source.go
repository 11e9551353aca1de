package events

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/notification"
	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/domain"
)

const objectCreatedEvent = "s3:ObjectCreated:*"

type UploadEvent struct {
	DocumentID  string
	Filename    string
	ObjectKey   string
	ContentType string
	Size        int64
	FormType    domain.FormType
	EventName   string
}

type UploadEventSource interface {
	Run(ctx context.Context, handler func(context.Context, UploadEvent) error) error
}

type MinioUploadEventSource struct {
	client *minio.Client
	bucket string
	prefix string
	suffix string
	logger *zap.Logger
}

func NewMinioUploadEventSource(client *minio.Client, bucket, prefix, suffix string, logger *zap.Logger) *MinioUploadEventSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioUploadEventSource{
		client: client,
		bucket: bucket,
		prefix: prefix,
		suffix: suffix,
		logger: logger.With(zap.String("component", "events.minio")),
	}
}

func (s *MinioUploadEventSource) Run(ctx context.Context, handler func(context.Context, UploadEvent) error) error {
	notificationCh := s.client.ListenBucketNotification(ctx, s.bucket, s.prefix, s.suffix, []string{objectCreatedEvent})
	for {
		select {
		case <-ctx.Done():
			return nil
		case info, ok := <-notificationCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("minio notification stream closed")
			}
			if info.Err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("minio notification stream error: %w", info.Err)
			}
			for _, record := range info.Records {
				event, err := toUploadEvent(record)
				if err != nil {
					s.logger.Warn("skipping notification", zap.String("key", record.S3.Object.Key), zap.Error(err))
					continue
				}
				if err := handler(ctx, event); err != nil {
					return err
				}
			}
		}
	}
}

func toUploadEvent(record notification.Event) (UploadEvent, error) {
	objectKey, err := decodeObjectKey(record.S3.Object.Key)
	if err != nil {
		return UploadEvent{}, err
	}
	documentID, filename, err := parseObjectKey(objectKey)
	if err != nil {
		return UploadEvent{}, err
	}
	formType := formTypeFromMetadata(record.S3.Object.UserMetadata)
	if !formType.Valid() {
		return UploadEvent{}, fmt.Errorf("%w: %q on %s", domain.ErrUnknownFormType, formType, objectKey)
	}
	return UploadEvent{
		DocumentID:  documentID,
		Filename:    filename,
		ObjectKey:   objectKey,
		ContentType: record.S3.Object.ContentType,
		Size:        record.S3.Object.Size,
		FormType:    formType,
		EventName:   record.EventName,
	}, nil
}

// formTypeFromMetadata finds the form type whether the key arrives bare or
// with the X-Amz-Meta- prefix, in any case.
func formTypeFromMetadata(meta map[string]string) domain.FormType {
	for k, v := range meta {
		key := strings.ToLower(k)
		if key == "form-type" || key == "x-amz-meta-form-type" {
			return domain.FormType(strings.ToLower(strings.TrimSpace(v)))
		}
	}
	return ""
}

func decodeObjectKey(encoded string) (string, error) {
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", err
	}
	decoded = strings.TrimSpace(decoded)
	if decoded == "" {
		return "", fmt.Errorf("object key is empty")
	}
	return decoded, nil
}

func parseObjectKey(objectKey string) (string, string, error) {
	cleaned := strings.Trim(strings.ReplaceAll(objectKey, "\\", "/"), "/")
	parts := strings.SplitN(cleaned, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("object key %q does not match document_id/filename", objectKey)
	}
	documentID := strings.TrimSpace(parts[0])
	filename := strings.TrimSpace(parts[1])
	if documentID == "" || filename == "" {
		return "", "", fmt.Errorf("object key %q missing document id or filename", objectKey)
	}
	return documentID, filename, nil
}
