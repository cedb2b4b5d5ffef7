package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/domain"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
)

const inspectionColumns = `
	id,
	source,
	status,
	unlabelled_key,
	labelled_key,
	file_name,
	content_type,
	size_bytes,
	content_hash,
	upload_attempts,
	poll_attempts,
	failure_reason,
	submitted_at,
	uploaded_at,
	completed_at,
	created_at,
	updated_at
`

type InspectionRepository struct {
	db *sqlx.DB
}

var _ ports.InspectionRepository = (*InspectionRepository)(nil)

func NewInspectionRepo(db *sqlx.DB) *InspectionRepository {
	return &InspectionRepository{db: db}
}

func (r *InspectionRepository) Create(ctx context.Context, inspection *domain.Inspection) (*domain.Inspection, error) {
	query := `
		INSERT INTO inspection (
			id, source, status, unlabelled_key, labelled_key, file_name,
			content_type, size_bytes, content_hash, upload_attempts,
			poll_attempts, failure_reason, submitted_at, uploaded_at, completed_at
		)
		VALUES (
			:id, :source, :status, :unlabelled_key, :labelled_key, :file_name,
			:content_type, :size_bytes, :content_hash, :upload_attempts,
			:poll_attempts, :failure_reason, :submitted_at, :uploaded_at, :completed_at
		)
		RETURNING ` + inspectionColumns

	args := map[string]any{
		"id":              inspection.ID,
		"source":          inspection.Source,
		"status":          inspection.Status,
		"unlabelled_key":  inspection.UnlabelledKey,
		"labelled_key":    inspection.LabelledKey,
		"file_name":       inspection.FileName,
		"content_type":    inspection.ContentType,
		"size_bytes":      inspection.SizeBytes,
		"content_hash":    inspection.ContentHash,
		"upload_attempts": inspection.UploadAttempts,
		"poll_attempts":   inspection.PollAttempts,
		"failure_reason":  inspection.FailureReason,
		"submitted_at":    inspection.SubmittedAt,
		"uploaded_at":     inspection.UploadedAt,
		"completed_at":    inspection.CompletedAt,
	}

	rows, err := r.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if rows.Next() {
		var stored domain.Inspection
		if err := rows.StructScan(&stored); err != nil {
			return nil, err
		}
		return &stored, nil
	}
	return nil, sql.ErrNoRows
}

func (r *InspectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Inspection, error) {
	query := `SELECT ` + inspectionColumns + ` FROM inspection WHERE id = $1`

	var inspection domain.Inspection
	if err := r.db.GetContext(ctx, &inspection, query, id); err != nil {
		return nil, err
	}
	return &inspection, nil
}

func (r *InspectionRepository) Update(ctx context.Context, inspection *domain.Inspection) (*domain.Inspection, error) {
	query := `
		UPDATE inspection
		SET
			status = :status,
			content_hash = :content_hash,
			size_bytes = :size_bytes,
			upload_attempts = :upload_attempts,
			poll_attempts = :poll_attempts,
			failure_reason = :failure_reason,
			uploaded_at = :uploaded_at,
			completed_at = :completed_at,
			updated_at = NOW()
		WHERE id = :id
		RETURNING ` + inspectionColumns

	args := map[string]any{
		"id":              inspection.ID,
		"status":          inspection.Status,
		"content_hash":    inspection.ContentHash,
		"size_bytes":      inspection.SizeBytes,
		"upload_attempts": inspection.UploadAttempts,
		"poll_attempts":   inspection.PollAttempts,
		"failure_reason":  inspection.FailureReason,
		"uploaded_at":     inspection.UploadedAt,
		"completed_at":    inspection.CompletedAt,
	}

	rows, err := r.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if rows.Next() {
		var stored domain.Inspection
		if err := rows.StructScan(&stored); err != nil {
			return nil, err
		}
		return &stored, nil
	}
	return nil, sql.ErrNoRows
}

func (r *InspectionRepository) List(ctx context.Context, filter domain.InspectionListFilter) ([]domain.Inspection, error) {
	clauses := []string{"TRUE"}
	args := []any{}
	idx := 1

	if filter.Status != nil {
		clauses = append(clauses, fmt.Sprintf("status = $%d", idx))
		args = append(args, *filter.Status)
		idx++
	}
	if filter.Source != nil {
		clauses = append(clauses, fmt.Sprintf("source = $%d", idx))
		args = append(args, *filter.Source)
		idx++
	}
	if filter.SubmittedAfter != nil {
		clauses = append(clauses, fmt.Sprintf("submitted_at >= $%d", idx))
		args = append(args, *filter.SubmittedAfter)
		idx++
	}
	if filter.SubmittedBefore != nil {
		clauses = append(clauses, fmt.Sprintf("submitted_at <= $%d", idx))
		args = append(args, *filter.SubmittedBefore)
		idx++
	}

	where := "WHERE " + strings.Join(clauses, " AND ")

	sortCol := "submitted_at"
	switch filter.SortField {
	case domain.InspectionSortUpdatedAt:
		sortCol = "updated_at"
	}
	order := "DESC"
	if filter.SortOrder == domain.SortOrderAsc {
		order = "ASC"
	}

	args = append(args, filter.Limit, filter.Offset)

	query := fmt.Sprintf(
		`SELECT %s FROM inspection %s ORDER BY %s %s, id DESC LIMIT $%d OFFSET $%d`,
		inspectionColumns, where, sortCol, order, idx, idx+1,
	)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inspections []domain.Inspection
	for rows.Next() {
		var inspection domain.Inspection
		if err := rows.StructScan(&inspection); err != nil {
			return nil, err
		}
		inspections = append(inspections, inspection)
	}
	return inspections, rows.Err()
}

func (r *InspectionRepository) CountByStatus(ctx context.Context) (*domain.InspectionStats, error) {
	const query = `
		SELECT
			COUNT(*)::int AS total,
			COUNT(*) FILTER (WHERE status = 'pending')::int AS pending,
			COUNT(*) FILTER (WHERE status = 'uploading')::int AS uploading,
			COUNT(*) FILTER (WHERE status = 'awaiting_result')::int AS awaiting_result,
			COUNT(*) FILTER (WHERE status = 'completed')::int AS completed,
			COUNT(*) FILTER (WHERE status = 'upload_failed')::int AS upload_failed,
			COUNT(*) FILTER (WHERE status = 'timed_out')::int AS timed_out
		FROM inspection
	`

	var row struct {
		Total          int `db:"total"`
		Pending        int `db:"pending"`
		Uploading      int `db:"uploading"`
		AwaitingResult int `db:"awaiting_result"`
		Completed      int `db:"completed"`
		UploadFailed   int `db:"upload_failed"`
		TimedOut       int `db:"timed_out"`
	}

	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return nil, err
	}

	return &domain.InspectionStats{
		Total: row.Total,
		ByStatus: map[domain.InspectionStatus]int{
			domain.InspectionStatusPending:        row.Pending,
			domain.InspectionStatusUploading:      row.Uploading,
			domain.InspectionStatusAwaitingResult: row.AwaitingResult,
			domain.InspectionStatusCompleted:      row.Completed,
			domain.InspectionStatusUploadFailed:   row.UploadFailed,
			domain.InspectionStatusTimedOut:       row.TimedOut,
		},
	}, nil
}

func (r *InspectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM inspection WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
