package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aws/smithy-go/ptr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zeebo/blake3"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/domain"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/mailbox"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/media"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/notify"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
)

var (
	ErrInspectionValidation  = errors.New("inspection validation failed")
	ErrInspectionNotFound    = errors.New("inspection not found")
	ErrResultNotReady        = errors.New("inspection result is not ready")
	ErrSubmissionNotUploaded = errors.New("submission has not reached the bucket")
	ErrInspectionConflict    = errors.New("inspection state conflict")
)

type InspectionServiceConfig struct {
	MaxImageBytes     int64
	AllowedMIMETypes  []string
	ImageProcessor    media.Processor
	ImageMaxDimension int
	PresignTTL        time.Duration
	Upload            mailbox.UploaderConfig
	Poll              mailbox.PollerConfig
	Workers           int
	QueueSize         int
}

// SubmissionInput is a photo handed to the server for the full
// upload-and-poll round trip.
type SubmissionInput struct {
	Source      string
	Reader      io.Reader
	FileName    string
	ContentType string
	Size        int64
	Wait        bool
}

// PresignRequest asks for a write credential so the client can perform the
// bucket upload itself.
type PresignRequest struct {
	Source      string
	FileName    string
	ContentType string
	SizeBytes   int64
}

type PresignedSubmission struct {
	Inspection *domain.Inspection    `json:"inspection"`
	Post       mailbox.PresignedPost `json:"post"`
}

const (
	defaultMaxInspectionBytes = int64(10 * 1024 * 1024)
	defaultPresignTTL         = time.Hour
	defaultPollWorkers        = 4
	defaultPollQueueSize      = 64
	persistTimeout            = 5 * time.Second
)

var defaultAllowedInspectionMIMEs = []string{
	"image/jpeg",
	"image/png",
}

type pollJob struct {
	inspectionID uuid.UUID
}

type InspectionService struct {
	inspections ports.InspectionRepository
	store       ports.ObjectStore
	presigner   ports.PostPresigner
	notifier    notify.Notifier
	keys        mailbox.KeyScheme
	uploader    *mailbox.Uploader
	poller      *mailbox.Poller

	maxImageBytes     int64
	allowedMIMEs      map[string]struct{}
	imageProcessor    media.Processor
	imageMaxDimension int
	presignTTL        time.Duration
	now               func() time.Time

	jobs     chan pollJob
	wg       sync.WaitGroup
	pollCtx  context.Context
	stopPoll context.CancelFunc
	stopOnce sync.Once
}

func NewInspectionService(
	inspections ports.InspectionRepository,
	store ports.ObjectStore,
	presigner ports.PostPresigner,
	notifier notify.Notifier,
	keys mailbox.KeyScheme,
	cfg InspectionServiceConfig,
) *InspectionService {
	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxInspectionBytes
	}
	allowedMIMEs := cfg.AllowedMIMETypes
	if len(allowedMIMEs) == 0 {
		allowedMIMEs = defaultAllowedInspectionMIMEs
	}
	mimeSet := make(map[string]struct{}, len(allowedMIMEs))
	for _, mt := range allowedMIMEs {
		mimeSet[strings.ToLower(strings.TrimSpace(mt))] = struct{}{}
	}
	maxDimension := cfg.ImageMaxDimension
	if maxDimension <= 0 {
		maxDimension = media.DefaultMaxDimension
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultPollWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultPollQueueSize
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	pollCtx, stopPoll := context.WithCancel(context.Background())
	s := &InspectionService{
		inspections:       inspections,
		store:             store,
		presigner:         presigner,
		notifier:          notifier,
		keys:              keys,
		uploader:          mailbox.NewUploader(cfg.Upload),
		poller:            mailbox.NewPoller(store, cfg.Poll),
		maxImageBytes:     maxBytes,
		allowedMIMEs:      mimeSet,
		imageProcessor:    cfg.ImageProcessor,
		imageMaxDimension: maxDimension,
		presignTTL:        ttl,
		now:               time.Now,
		jobs:              make(chan pollJob, queueSize),
		pollCtx:           pollCtx,
		stopPoll:          stopPoll,
	}

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.pollWorker()
	}
	return s
}

// Shutdown stops the background poll workers. Jobs still queued are
// abandoned; their inspections remain awaiting_result and can be resumed
// with ConfirmSubmission.
func (s *InspectionService) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(s.stopPoll)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit runs the full server-side flow for one photo: validate, downscale,
// create the record, push it through the presigned POST, then either wait
// for the labelled result or queue the poll in the background.
func (s *InspectionService) Submit(ctx context.Context, input SubmissionInput) (*domain.Inspection, error) {
	source, err := s.parseSource(input.Source, input.FileName)
	if err != nil {
		return nil, err
	}
	contentType := media.NormalizeContentType(input.ContentType, input.FileName)
	if err := s.validateSubmission(contentType, input.Size); err != nil {
		return nil, err
	}
	if input.Reader == nil {
		return nil, fmt.Errorf("%w: missing image payload", ErrInspectionValidation)
	}

	data, contentType, err := s.prepareImage(ctx, input.Reader, input.FileName, contentType)
	if err != nil {
		return nil, err
	}

	pair := s.keys.NewPair()
	now := s.now().UTC()
	record := &domain.Inspection{
		ID:            pair.ID,
		Source:        source,
		Status:        domain.InspectionStatusPending,
		UnlabelledKey: pair.UnlabelledKey,
		LabelledKey:   pair.LabelledKey,
		FileName:      optionalString(input.FileName),
		ContentType:   contentType,
		SizeBytes:     int64(len(data)),
		SubmittedAt:   now,
	}
	stored, err := s.inspections.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrInspectionConflict
		}
		return nil, err
	}

	return s.dispatch(ctx, stored, data, input.FileName, input.Wait)
}

// PresignedSubmission creates the record and mints the write credential the
// client will use to upload the photo itself.
func (s *InspectionService) PresignedSubmission(ctx context.Context, req PresignRequest) (*PresignedSubmission, error) {
	source, err := s.parseSource(req.Source, req.FileName)
	if err != nil {
		return nil, err
	}
	contentType := media.NormalizeContentType(req.ContentType, req.FileName)
	if err := s.validateSubmission(contentType, req.SizeBytes); err != nil {
		return nil, err
	}

	pair := s.keys.NewPair()
	now := s.now().UTC()
	record := &domain.Inspection{
		ID:            pair.ID,
		Source:        source,
		Status:        domain.InspectionStatusPending,
		UnlabelledKey: pair.UnlabelledKey,
		LabelledKey:   pair.LabelledKey,
		FileName:      optionalString(req.FileName),
		ContentType:   contentType,
		SizeBytes:     req.SizeBytes,
		SubmittedAt:   now,
	}
	stored, err := s.inspections.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrInspectionConflict
		}
		return nil, err
	}

	policy, err := s.presigner.PresignPost(ctx, stored.UnlabelledKey, ports.PresignInput{
		ContentType: contentType,
		MaxBytes:    s.maxImageBytes,
		TTL:         s.presignTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("presign submission: %w", err)
	}

	return &PresignedSubmission{
		Inspection: stored,
		Post: mailbox.PresignedPost{
			URL:       policy.URL,
			Fields:    policy.Fields,
			Key:       stored.UnlabelledKey,
			ExpiresAt: policy.ExpiresAt,
		},
	}, nil
}

// ConfirmSubmission is the second half of the presigned flow: the client
// claims it uploaded, the server verifies the object exists and enters the
// poll phase. Also resumes awaiting_result inspections whose poll was lost
// to a restart.
func (s *InspectionService) ConfirmSubmission(ctx context.Context, id uuid.UUID, wait bool) (*domain.Inspection, error) {
	insp, err := s.getInspection(ctx, id)
	if err != nil {
		return nil, err
	}

	switch insp.Status {
	case domain.InspectionStatusPending, domain.InspectionStatusAwaitingResult:
	case domain.InspectionStatusCompleted:
		return insp, nil
	default:
		return nil, fmt.Errorf("%w: cannot confirm submission in status %s", ErrInspectionConflict, insp.Status)
	}

	info, err := s.store.Stat(ctx, insp.UnlabelledKey)
	if err != nil {
		if ports.IsObjectNotFound(err) {
			return nil, ErrSubmissionNotUploaded
		}
		return nil, fmt.Errorf("stat submission: %w", err)
	}

	if insp.Status == domain.InspectionStatusPending {
		if err := transition(insp, domain.InspectionStatusAwaitingResult); err != nil {
			return nil, err
		}
		insp.SizeBytes = info.Size
		insp.UploadedAt = ptr.Time(s.now().UTC())
		insp, err = s.inspections.Update(ctx, insp)
		if err != nil {
			return nil, err
		}
	}

	return s.enterPollPhase(ctx, insp, wait)
}

func (s *InspectionService) Get(ctx context.Context, id uuid.UUID) (*domain.Inspection, error) {
	return s.getInspection(ctx, id)
}

func (s *InspectionService) List(ctx context.Context, filter domain.InspectionListFilter) (*domain.InspectionListResult, error) {
	normalized := s.normalizeListFilter(filter)
	items, err := s.inspections.List(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return &domain.InspectionListResult{
		Inspections: items,
		Limit:       normalized.Limit,
		Offset:      normalized.Offset,
	}, nil
}

func (s *InspectionService) Stats(ctx context.Context) (*domain.InspectionStats, error) {
	return s.inspections.CountByStatus(ctx)
}

// Delete removes the record and both bucket objects. Object removal is
// best-effort; a missing labelled object is the normal case for anything
// that never completed.
func (s *InspectionService) Delete(ctx context.Context, id uuid.UUID) error {
	insp, err := s.getInspection(ctx, id)
	if err != nil {
		return err
	}

	for _, key := range []string{insp.UnlabelledKey, insp.LabelledKey} {
		if key == "" {
			continue
		}
		if err := s.store.Remove(ctx, key); err != nil && !ports.IsObjectNotFound(err) {
			log.Printf("inspection %s: remove object %s: %v", insp.ID, key, err)
		}
	}

	if err := s.inspections.Delete(ctx, id); err != nil {
		if isNotFound(err) {
			return ErrInspectionNotFound
		}
		return err
	}
	return nil
}

// Result streams the labelled image for a completed inspection.
func (s *InspectionService) Result(ctx context.Context, id uuid.UUID) (io.ReadCloser, ports.ObjectInfo, error) {
	insp, err := s.getInspection(ctx, id)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}
	if insp.Status != domain.InspectionStatusCompleted {
		return nil, ports.ObjectInfo{}, fmt.Errorf("%w: status is %s", ErrResultNotReady, insp.Status)
	}

	rc, info, err := s.store.Get(ctx, insp.LabelledKey)
	if err != nil {
		if ports.IsObjectNotFound(err) {
			return nil, ports.ObjectInfo{}, ErrResultNotReady
		}
		return nil, ports.ObjectInfo{}, err
	}
	return rc, info, nil
}

// Original streams the photo as it was uploaded to the bucket.
func (s *InspectionService) Original(ctx context.Context, id uuid.UUID) (io.ReadCloser, ports.ObjectInfo, error) {
	insp, err := s.getInspection(ctx, id)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}

	rc, info, err := s.store.Get(ctx, insp.UnlabelledKey)
	if err != nil {
		if ports.IsObjectNotFound(err) {
			return nil, ports.ObjectInfo{}, ErrInspectionNotFound
		}
		return nil, ports.ObjectInfo{}, err
	}
	return rc, info, nil
}

func (s *InspectionService) getInspection(ctx context.Context, id uuid.UUID) (*domain.Inspection, error) {
	if id == uuid.Nil {
		return nil, ErrInspectionNotFound
	}
	insp, err := s.inspections.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInspectionNotFound
		}
		return nil, err
	}
	return insp, nil
}

func (s *InspectionService) prepareImage(ctx context.Context, reader io.Reader, fileName, contentType string) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(reader, s.maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: image is empty", ErrInspectionValidation)
	}
	if int64(len(data)) > s.maxImageBytes {
		return nil, "", fmt.Errorf("%w: image exceeds size limit (%d bytes)", ErrInspectionValidation, s.maxImageBytes)
	}
	if s.imageProcessor == nil {
		return data, contentType, nil
	}

	result, err := s.imageProcessor.Process(ctx, media.Image{
		Reader:      bytes.NewReader(data),
		FileName:    fileName,
		ContentType: contentType,
	}, s.imageMaxDimension)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedImage) {
			return nil, "", fmt.Errorf("%w: %v", ErrInspectionValidation, err)
		}
		// Transcode trouble is not the client's fault. Ship the original
		// bytes rather than rejecting the inspection.
		log.Printf("media processing failed, uploading original bytes: %v", err)
		return data, contentType, nil
	}
	return result.Bytes, result.ContentType, nil
}

func (s *InspectionService) dispatch(ctx context.Context, insp *domain.Inspection, data []byte, fileName string, wait bool) (*domain.Inspection, error) {
	if err := transition(insp, domain.InspectionStatusUploading); err != nil {
		return nil, err
	}
	insp, err := s.inspections.Update(ctx, insp)
	if err != nil {
		return nil, err
	}

	policy, err := s.presigner.PresignPost(ctx, insp.UnlabelledKey, ports.PresignInput{
		ContentType: insp.ContentType,
		MaxBytes:    s.maxImageBytes,
		TTL:         s.presignTTL,
	})
	if err != nil {
		return s.failUpload(ctx, insp, 0, fmt.Errorf("presign: %w", err))
	}

	sum := blake3.Sum256(data)

	result, err := s.uploader.Upload(ctx, mailbox.PresignedPost{
		URL:       policy.URL,
		Fields:    policy.Fields,
		Key:       insp.UnlabelledKey,
		ExpiresAt: policy.ExpiresAt,
	}, mailbox.Payload{
		Bytes:       data,
		FileName:    fileName,
		ContentType: insp.ContentType,
	})
	if err != nil {
		return s.failUpload(ctx, insp, result.Attempts, err)
	}

	if err := transition(insp, domain.InspectionStatusAwaitingResult); err != nil {
		return nil, err
	}
	insp.UploadAttempts = result.Attempts
	insp.SizeBytes = int64(len(data))
	insp.ContentHash = ptr.String(hex.EncodeToString(sum[:]))
	insp.UploadedAt = ptr.Time(s.now().UTC())
	insp, err = s.inspections.Update(ctx, insp)
	if err != nil {
		return nil, err
	}

	return s.enterPollPhase(ctx, insp, wait)
}

func (s *InspectionService) enterPollPhase(ctx context.Context, insp *domain.Inspection, wait bool) (*domain.Inspection, error) {
	if wait {
		return s.awaitResult(ctx, insp)
	}

	select {
	case s.jobs <- pollJob{inspectionID: insp.ID}:
	case <-s.pollCtx.Done():
		log.Printf("inspection %s: poll not scheduled, workers are stopped", insp.ID)
	case <-ctx.Done():
		log.Printf("inspection %s: poll not scheduled: %v", insp.ID, ctx.Err())
	}
	return insp, nil
}

// awaitResult runs the poll loop and persists the outcome. Cancellation
// mid-poll leaves the record awaiting_result so a later ConfirmSubmission
// can pick it back up.
func (s *InspectionService) awaitResult(ctx context.Context, insp *domain.Inspection) (*domain.Inspection, error) {
	result, err := s.poller.Await(ctx, insp.LabelledKey)
	switch {
	case err == nil:
		return s.completeInspection(ctx, insp, result.Attempts)
	case errors.Is(err, mailbox.ErrPollExhausted):
		return s.timeOutInspection(ctx, insp, result.Attempts, err)
	default:
		return insp, err
	}
}

func (s *InspectionService) completeInspection(ctx context.Context, insp *domain.Inspection, attempts int) (*domain.Inspection, error) {
	if err := transition(insp, domain.InspectionStatusCompleted); err != nil {
		return nil, err
	}
	insp.PollAttempts = attempts
	insp.CompletedAt = ptr.Time(s.now().UTC())

	updated, err := s.persistOutcome(ctx, insp)
	if err != nil {
		return nil, err
	}
	s.announce(*updated)
	return updated, nil
}

func (s *InspectionService) timeOutInspection(ctx context.Context, insp *domain.Inspection, attempts int, cause error) (*domain.Inspection, error) {
	if err := transition(insp, domain.InspectionStatusTimedOut); err != nil {
		return nil, err
	}
	insp.PollAttempts = attempts
	insp.FailureReason = ptr.String(cause.Error())

	updated, err := s.persistOutcome(ctx, insp)
	if err != nil {
		return nil, err
	}
	s.announce(*updated)
	return updated, nil
}

func (s *InspectionService) failUpload(ctx context.Context, insp *domain.Inspection, attempts int, cause error) (*domain.Inspection, error) {
	if err := transition(insp, domain.InspectionStatusUploadFailed); err != nil {
		return nil, err
	}
	insp.UploadAttempts = attempts
	insp.FailureReason = ptr.String(cause.Error())

	updated, err := s.persistOutcome(ctx, insp)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	s.announce(*updated)
	return updated, nil
}

// persistOutcome writes a terminal state on a context detached from the
// caller, so a dropped request or a shutdown cannot lose a result that was
// already decided.
func (s *InspectionService) persistOutcome(ctx context.Context, insp *domain.Inspection) (*domain.Inspection, error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return s.inspections.Update(persistCtx, insp)
}

func (s *InspectionService) pollWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.pollCtx.Done():
			return
		case job := <-s.jobs:
			s.resolveResult(s.pollCtx, job)
		}
	}
}

func (s *InspectionService) resolveResult(ctx context.Context, job pollJob) {
	insp, err := s.inspections.GetByID(ctx, job.inspectionID)
	if err != nil {
		log.Printf("inspection %s: background poll load: %v", job.inspectionID, err)
		return
	}
	if insp.Status != domain.InspectionStatusAwaitingResult {
		return
	}
	if _, err := s.awaitResult(ctx, insp); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("inspection %s: background poll: %v", job.inspectionID, err)
	}
}

func (s *InspectionService) announce(insp domain.Inspection) {
	go s.notifier.InspectionFinished(context.Background(), insp)
}

func (s *InspectionService) parseSource(raw, fileName string) (domain.InspectionSource, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		if strings.TrimSpace(fileName) != "" {
			return domain.InspectionSourceUpload, nil
		}
		return domain.InspectionSourceCamera, nil
	}
	source, err := domain.ParseInspectionSource(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInspectionValidation, err)
	}
	return source, nil
}

func (s *InspectionService) validateSubmission(contentType string, size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: image is empty", ErrInspectionValidation)
	}
	if s.maxImageBytes > 0 && size > s.maxImageBytes {
		return fmt.Errorf("%w: image exceeds size limit (%d bytes)", ErrInspectionValidation, s.maxImageBytes)
	}
	if _, ok := s.allowedMIMEs[contentType]; !ok {
		return fmt.Errorf("%w: unsupported content type %s", ErrInspectionValidation, contentType)
	}
	return nil
}

func (s *InspectionService) normalizeListFilter(filter domain.InspectionListFilter) domain.InspectionListFilter {
	result := filter
	if result.Limit <= 0 {
		result.Limit = 20
	}
	if result.Limit > 100 {
		result.Limit = 100
	}
	if result.Offset < 0 {
		result.Offset = 0
	}
	if result.SortField != domain.InspectionSortUpdatedAt {
		result.SortField = domain.InspectionSortSubmittedAt
	}
	if result.SortOrder != domain.SortOrderAsc {
		result.SortOrder = domain.SortOrderDesc
	}
	return result
}

func transition(insp *domain.Inspection, next domain.InspectionStatus) error {
	if !insp.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s cannot move to %s", ErrInspectionConflict, insp.Status, next)
	}
	insp.Status = next
	return nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
