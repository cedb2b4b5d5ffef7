package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidInspectionStatus = errors.New("invalid inspection status")

type InspectionStatus string

const (
	InspectionStatusPending        InspectionStatus = "pending"
	InspectionStatusUploading      InspectionStatus = "uploading"
	InspectionStatusAwaitingResult InspectionStatus = "awaiting_result"
	InspectionStatusCompleted      InspectionStatus = "completed"
	InspectionStatusUploadFailed   InspectionStatus = "upload_failed"
	InspectionStatusTimedOut       InspectionStatus = "timed_out"
)

// ParseInspectionStatus validates a status string coming from outside the
// process (query params, CLI flags).
func ParseInspectionStatus(value string) (InspectionStatus, error) {
	switch InspectionStatus(value) {
	case InspectionStatusPending,
		InspectionStatusUploading,
		InspectionStatusAwaitingResult,
		InspectionStatusCompleted,
		InspectionStatusUploadFailed,
		InspectionStatusTimedOut:
		return InspectionStatus(value), nil
	}
	return "", ErrInvalidInspectionStatus
}

// Terminal reports whether the inspection can no longer change state.
func (s InspectionStatus) Terminal() bool {
	switch s {
	case InspectionStatusCompleted, InspectionStatusUploadFailed, InspectionStatusTimedOut:
		return true
	}
	return false
}

// CanTransitionTo enforces the inspection lifecycle:
// pending -> uploading -> awaiting_result -> completed, with upload_failed
// branching off uploading and timed_out branching off awaiting_result.
// Presigned submissions skip uploading because the client performs the
// upload itself; confirming moves pending straight to awaiting_result.
func (s InspectionStatus) CanTransitionTo(next InspectionStatus) bool {
	switch s {
	case InspectionStatusPending:
		return next == InspectionStatusUploading || next == InspectionStatusAwaitingResult
	case InspectionStatusUploading:
		return next == InspectionStatusAwaitingResult || next == InspectionStatusUploadFailed
	case InspectionStatusAwaitingResult:
		return next == InspectionStatusCompleted || next == InspectionStatusTimedOut
	}
	return false
}

type InspectionSource string

const (
	InspectionSourceCamera InspectionSource = "camera"
	InspectionSourceUpload InspectionSource = "upload"
)

func ParseInspectionSource(value string) (InspectionSource, error) {
	switch InspectionSource(value) {
	case InspectionSourceCamera, InspectionSourceUpload:
		return InspectionSource(value), nil
	}
	return "", errors.New("invalid inspection source")
}

// Inspection is one submitted component photo and its trip through the
// shared-bucket handshake with the external inference worker.
type Inspection struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	Source         InspectionSource `db:"source" json:"source"`
	Status         InspectionStatus `db:"status" json:"status"`
	UnlabelledKey  string           `db:"unlabelled_key" json:"unlabelled_key"`
	LabelledKey    string           `db:"labelled_key" json:"labelled_key"`
	FileName       *string          `db:"file_name" json:"file_name,omitempty"`
	ContentType    string           `db:"content_type" json:"content_type"`
	SizeBytes      int64            `db:"size_bytes" json:"size_bytes"`
	ContentHash    *string          `db:"content_hash" json:"content_hash,omitempty"`
	UploadAttempts int              `db:"upload_attempts" json:"upload_attempts"`
	PollAttempts   int              `db:"poll_attempts" json:"poll_attempts"`
	FailureReason  *string          `db:"failure_reason" json:"failure_reason,omitempty"`
	SubmittedAt    time.Time        `db:"submitted_at" json:"submitted_at"`
	UploadedAt     *time.Time       `db:"uploaded_at" json:"uploaded_at,omitempty"`
	CompletedAt    *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

type InspectionSortField string

const (
	InspectionSortSubmittedAt InspectionSortField = "submitted_at"
	InspectionSortUpdatedAt   InspectionSortField = "updated_at"
)

type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

type InspectionListFilter struct {
	Limit           int
	Offset          int
	Status          *InspectionStatus
	Source          *InspectionSource
	SubmittedAfter  *time.Time
	SubmittedBefore *time.Time
	SortField       InspectionSortField
	SortOrder       SortOrder
}

type InspectionListResult struct {
	Inspections []Inspection `json:"inspections"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

type InspectionStats struct {
	Total    int                      `json:"total"`
	ByStatus map[InspectionStatus]int `json:"by_status"`
}
