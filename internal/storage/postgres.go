package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/lib/pq"

	"legal-intake-orchestrator/internal/domain"
)

// Review queue statuses. Open rows carry the document status they wait in.
const (
	ReviewNeedsReview = string(domain.StatusNeedsReview)
	ReviewPending     = string(domain.StatusPending)
	ReviewApproved    = "APPROVED"
	ReviewRejected    = "REJECTED"
)

var ErrInvalidReviewStatus = errors.New("review status is not open")

var openReviewStatuses = []string{ReviewNeedsReview, ReviewPending}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateReceivedDocument(ctx context.Context, rec domain.DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, content_type, size_bytes, form_type, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Filename, rec.ContentType, rec.SizeBytes, rec.FormType, domain.StatusReceived)
	return err
}

func (s *PostgresStore) SetDocumentObjectKey(ctx context.Context, documentID, objectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET object_key = $2, updated_at = NOW()
		WHERE id = $1
	`, documentID, objectKey)
	return err
}

// UpsertDocument records a document first seen through a storage event. An
// existing row keeps its object key and form type.
func (s *PostgresStore) UpsertDocument(ctx context.Context, rec domain.DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, object_key, content_type, size_bytes, form_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			object_key = CASE WHEN documents.object_key IS NULL OR documents.object_key = '' THEN EXCLUDED.object_key ELSE documents.object_key END,
			content_type = CASE WHEN documents.content_type = '' THEN EXCLUDED.content_type ELSE documents.content_type END,
			size_bytes = GREATEST(documents.size_bytes, EXCLUDED.size_bytes),
			updated_at = NOW()
	`, rec.ID, rec.Filename, rec.ObjectKey, rec.ContentType, rec.SizeBytes, rec.FormType, rec.Status)
	return err
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (domain.DocumentRecord, error) {
	var rec domain.DocumentRecord
	var finalJSON []byte
	var rejectedReason sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, COALESCE(object_key, ''), content_type, size_bytes, form_type, status,
		       COALESCE(confidence, 0), COALESCE(dedupe_key, ''), final_json, rejected_reason
		FROM documents
		WHERE id = $1
	`, documentID)
	if err := row.Scan(
		&rec.ID,
		&rec.Filename,
		&rec.ObjectKey,
		&rec.ContentType,
		&rec.SizeBytes,
		&rec.FormType,
		&rec.Status,
		&rec.Confidence,
		&rec.DedupeKey,
		&finalJSON,
		&rejectedReason,
	); err != nil {
		return domain.DocumentRecord{}, err
	}
	rec.FinalJSON = finalJSON
	if rejectedReason.Valid {
		rec.RejectedReason = &rejectedReason.String
	}
	return rec, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, documentID string, status domain.DocumentStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, documentID, status)
	return err
}

func (s *PostgresStore) SaveExtraction(ctx context.Context, documentID string, text string, confidence float64, pageCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET raw_text = $2, ocr_confidence = $3, page_count = $4, status = $5, updated_at = NOW()
		WHERE id = $1
	`, documentID, text, confidence, pageCount, domain.StatusExtracted)
	return err
}

func (s *PostgresStore) SaveMapping(ctx context.Context, documentID string, payload []byte, confidence float64, dedupeKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET current_json = $2::jsonb,
		    confidence = $3,
		    dedupe_key = NULLIF($4, ''),
		    status = $5,
		    updated_at = NOW()
		WHERE id = $1
	`, documentID, string(payload), confidence, dedupeKey, domain.StatusMapped)
	return err
}

// FindDuplicates returns the other live documents sharing dedupeKey, oldest
// first.
func (s *PostgresStore) FindDuplicates(ctx context.Context, documentID, dedupeKey string) ([]string, error) {
	if dedupeKey == "" {
		return []string{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM documents
		WHERE dedupe_key = $2 AND id <> $1 AND status NOT IN ($3, $4)
		ORDER BY created_at ASC
	`, documentID, dedupeKey, domain.StatusRejected, domain.StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) InsertAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (document_id, action, actor, previous_status, new_status, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.DocumentID, entry.Action, entry.Actor, entry.PreviousStatus, entry.NewStatus, entry.Comment, entry.At)
	return err
}

func (s *PostgresStore) ListAudit(ctx context.Context, documentID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, action, actor, previous_status, new_status, comment, created_at
		FROM audit_log
		WHERE document_id = $1
		ORDER BY id ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var e domain.AuditEntry
		var actor sql.NullString
		if err := rows.Scan(&e.DocumentID, &e.Action, &actor, &e.PreviousStatus, &e.NewStatus, &e.Comment, &e.At); err != nil {
			return nil, err
		}
		if actor.Valid {
			e.Actor = &actor.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertStepLog(ctx context.Context, documentID string, entry domain.StepLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_log (document_id, step, level, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, documentID, entry.Step, entry.Level, entry.Message, entry.At)
	return err
}

func (s *PostgresStore) ListStepLog(ctx context.Context, documentID string) ([]domain.StepLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, level, message, created_at
		FROM step_log
		WHERE document_id = $1
		ORDER BY id ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StepLogEntry, 0)
	for rows.Next() {
		var e domain.StepLogEntry
		if err := rows.Scan(&e.Step, &e.Level, &e.Message, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveSnapshot keeps the latest pipeline state of a document for readers that
// cannot query the workflow, such as after it has closed.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, documentID string, state []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_snapshots (document_id, state, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (document_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = NOW()
	`, documentID, string(state))
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	var state []byte
	row := s.db.QueryRowContext(ctx, `SELECT state FROM pipeline_snapshots WHERE document_id = $1`, documentID)
	if err := row.Scan(&state); err != nil {
		return nil, err
	}
	return state, nil
}

// QueueReview opens or refreshes the queue row for a document and moves the
// document to the matching status. item.Status must be an open status.
func (s *PostgresStore) QueueReview(ctx context.Context, item domain.ReviewQueueItem) error {
	if !slices.Contains(openReviewStatuses, item.Status) {
		return fmt.Errorf("queue review %s: %w", item.Status, ErrInvalidReviewStatus)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO review_queue (document_id, form_type, warnings, errors, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE SET
			form_type = EXCLUDED.form_type,
			warnings = EXCLUDED.warnings,
			errors = EXCLUDED.errors,
			status = EXCLUDED.status,
			updated_at = NOW()
	`, item.DocumentID, item.FormType, pq.Array(item.Warnings), pq.Array(item.Errors), item.Status)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, item.DocumentID, domain.DocumentStatus(item.Status))
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) ResolveReview(ctx context.Context, documentID string, decision string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE review_queue
		SET status = $2, updated_at = NOW()
		WHERE document_id = $1
	`, documentID, decision)
	return err
}

func (s *PostgresStore) SaveFinalResult(ctx context.Context, documentID string, payload []byte, confidence float64, status domain.DocumentStatus, rejectedReason *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET final_json = CASE WHEN $2 = '' THEN final_json ELSE $2::jsonb END,
		    confidence = $3,
		    status = $4,
		    rejected_reason = $5,
		    updated_at = NOW()
		WHERE id = $1
	`, documentID, string(payload), confidence, status, rejectedReason)
	return err
}

func (s *PostgresStore) ListPendingReviews(ctx context.Context) ([]domain.ReviewQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, form_type, warnings, errors, status
		FROM review_queue
		WHERE status = ANY($1)
		ORDER BY created_at ASC
	`, pq.Array(openReviewStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ReviewQueueItem, 0)
	for rows.Next() {
		var item domain.ReviewQueueItem
		var warnings, errs []string
		if err := rows.Scan(&item.DocumentID, &item.FormType, pq.Array(&warnings), pq.Array(&errs), &item.Status); err != nil {
			return nil, err
		}
		item.Warnings = warnings
		item.Errors = errs
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// CountDocuments fails when the schema has not been migrated.
func (s *PostgresStore) CountDocuments(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}
