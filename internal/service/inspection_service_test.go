package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go/ptr"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/domain"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/mailbox"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
)

type fakeInspectionRepo struct {
	mu         sync.Mutex
	items      map[uuid.UUID]domain.Inspection
	lastFilter domain.InspectionListFilter
	createErr  error
}

func newFakeInspectionRepo() *fakeInspectionRepo {
	return &fakeInspectionRepo{items: map[uuid.UUID]domain.Inspection{}}
}

func (r *fakeInspectionRepo) Create(_ context.Context, insp *domain.Inspection) (*domain.Inspection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	stored := *insp
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.items[stored.ID] = stored
	out := stored
	return &out, nil
}

func (r *fakeInspectionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Inspection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := stored
	return &out, nil
}

func (r *fakeInspectionRepo) Update(_ context.Context, insp *domain.Inspection) (*domain.Inspection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[insp.ID]; !ok {
		return nil, sql.ErrNoRows
	}
	stored := *insp
	stored.UpdatedAt = time.Now().UTC()
	r.items[stored.ID] = stored
	out := stored
	return &out, nil
}

func (r *fakeInspectionRepo) List(_ context.Context, filter domain.InspectionListFilter) ([]domain.Inspection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter
	out := make([]domain.Inspection, 0, len(r.items))
	for _, stored := range r.items {
		out = append(out, stored)
	}
	return out, nil
}

func (r *fakeInspectionRepo) CountByStatus(_ context.Context) (*domain.InspectionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.InspectionStats{ByStatus: map[domain.InspectionStatus]int{}}
	for _, stored := range r.items {
		stats.Total++
		stats.ByStatus[stored.Status]++
	}
	return stats, nil
}

func (r *fakeInspectionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.items, id)
	return nil
}

func (r *fakeInspectionRepo) status(t *testing.T, id uuid.UUID) domain.InspectionStatus {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[id]
	if !ok {
		t.Fatalf("inspection %s not in repo", id)
	}
	return stored.Status
}

type storedObject struct {
	data        []byte
	contentType string
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string]storedObject{}}
}

func (s *fakeObjectStore) put(key, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = storedObject{data: append([]byte(nil), data...), contentType: contentType}
}

func (s *fakeObjectStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeObjectStore) EnsureBucket(context.Context) error { return nil }

func (s *fakeObjectStore) Put(_ context.Context, key, contentType string, reader io.Reader, _ int64) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.put(key, contentType, data)
	return nil
}

func (s *fakeObjectStore) Get(_ context.Context, key string) (io.ReadCloser, ports.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ports.ObjectInfo{}, ports.ErrObjectNotFound
	}
	info := ports.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

func (s *fakeObjectStore) Stat(_ context.Context, key string) (ports.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return ports.ObjectInfo{}, ports.ErrObjectNotFound
	}
	return ports.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (s *fakeObjectStore) List(_ context.Context, prefix string) ([]ports.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ports.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType})
		}
	}
	return out, nil
}

func (s *fakeObjectStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type fakePresigner struct {
	url string
	err error
}

func (p *fakePresigner) PresignPost(_ context.Context, key string, input ports.PresignInput) (*ports.PresignedPostPolicy, error) {
	if p.err != nil {
		return nil, p.err
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ports.PresignedPostPolicy{
		URL:       p.url,
		Fields:    map[string]string{"key": key, "Content-Type": input.ContentType},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

type captureNotifier struct {
	events chan domain.Inspection
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{events: make(chan domain.Inspection, 8)}
}

func (n *captureNotifier) InspectionFinished(_ context.Context, insp domain.Inspection) {
	n.events <- insp
}

func (n *captureNotifier) wait(t *testing.T) domain.Inspection {
	t.Helper()
	select {
	case insp := <-n.events:
		return insp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return domain.Inspection{}
	}
}

// bucketEndpoint accepts presigned-POST form submissions and stores the file
// part under the key field, optionally writing the labelled sibling right
// away to stand in for an instant inference worker.
func bucketEndpoint(t *testing.T, store *fakeObjectStore, keys mailbox.KeyScheme, labelImmediately bool, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		key := r.FormValue("key")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			t.Errorf("read file part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		store.put(key, r.FormValue("Content-Type"), data)
		if labelImmediately {
			labelled, err := keys.DeriveLabelledKey(key)
			if err != nil {
				t.Errorf("derive labelled key: %v", err)
			} else {
				store.put(labelled, "image/jpeg", data)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

type serviceFixture struct {
	svc      *InspectionService
	repo     *fakeInspectionRepo
	store    *fakeObjectStore
	notifier *captureNotifier
	keys     mailbox.KeyScheme
}

func newServiceFixture(t *testing.T, presigner ports.PostPresigner, store *fakeObjectStore, cfg InspectionServiceConfig) *serviceFixture {
	t.Helper()
	repo := newFakeInspectionRepo()
	notifier := newCaptureNotifier()
	keys := mailbox.NewKeyScheme("", "")
	svc := NewInspectionService(repo, store, presigner, notifier, keys, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return &serviceFixture{svc: svc, repo: repo, store: store, notifier: notifier, keys: keys}
}

func fastPollConfig() InspectionServiceConfig {
	return InspectionServiceConfig{
		Upload: mailbox.UploaderConfig{MaxAttempts: 2, RetryDelay: 0},
		Poll:   mailbox.PollerConfig{InitialDelay: 0, Interval: time.Millisecond, MaxAttempts: 5},
	}
}

func TestSubmitWaitCompletes(t *testing.T) {
	store := newFakeObjectStore()
	keys := mailbox.NewKeyScheme("", "")
	server := bucketEndpoint(t, store, keys, true, http.StatusNoContent)
	defer server.Close()

	fx := newServiceFixture(t, &fakePresigner{url: server.URL}, store, fastPollConfig())

	payload := []byte("jpeg-bytes-for-screw-photo")
	insp, err := fx.svc.Submit(context.Background(), SubmissionInput{
		Source:      "upload",
		Reader:      bytes.NewReader(payload),
		FileName:    "screws.jpg",
		ContentType: "image/jpeg",
		Size:        int64(len(payload)),
		Wait:        true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if insp.Status != domain.InspectionStatusCompleted {
		t.Fatalf("status = %s, want completed", insp.Status)
	}
	if insp.UploadAttempts != 1 {
		t.Errorf("upload attempts = %d, want 1", insp.UploadAttempts)
	}
	if insp.PollAttempts != 1 {
		t.Errorf("poll attempts = %d, want 1", insp.PollAttempts)
	}
	if insp.CompletedAt == nil || insp.UploadedAt == nil {
		t.Error("expected uploaded_at and completed_at to be set")
	}
	if insp.SizeBytes != int64(len(payload)) {
		t.Errorf("size = %d, want %d", insp.SizeBytes, len(payload))
	}

	sum := blake3.Sum256(payload)
	wantHash := hex.EncodeToString(sum[:])
	if insp.ContentHash == nil || *insp.ContentHash != wantHash {
		t.Errorf("content hash = %v, want %s", insp.ContentHash, wantHash)
	}

	if !store.has(insp.UnlabelledKey) {
		t.Error("unlabelled object missing from bucket")
	}
	if !store.has(insp.LabelledKey) {
		t.Error("labelled object missing from bucket")
	}

	notified := fx.notifier.wait(t)
	if notified.Status != domain.InspectionStatusCompleted {
		t.Errorf("notified status = %s, want completed", notified.Status)
	}
}

func TestSubmitUploadFailure(t *testing.T) {
	store := newFakeObjectStore()
	keys := mailbox.NewKeyScheme("", "")
	server := bucketEndpoint(t, store, keys, false, http.StatusInternalServerError)
	defer server.Close()

	fx := newServiceFixture(t, &fakePresigner{url: server.URL}, store, fastPollConfig())

	payload := []byte("jpeg-bytes")
	insp, err := fx.svc.Submit(context.Background(), SubmissionInput{
		Source:      "camera",
		Reader:      bytes.NewReader(payload),
		ContentType: "image/jpeg",
		Size:        int64(len(payload)),
		Wait:        true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if insp.Status != domain.InspectionStatusUploadFailed {
		t.Fatalf("status = %s, want upload_failed", insp.Status)
	}
	if insp.UploadAttempts != 2 {
		t.Errorf("upload attempts = %d, want 2", insp.UploadAttempts)
	}
	if insp.FailureReason == nil || *insp.FailureReason == "" {
		t.Error("expected failure reason to be recorded")
	}

	notified := fx.notifier.wait(t)
	if notified.Status != domain.InspectionStatusUploadFailed {
		t.Errorf("notified status = %s, want upload_failed", notified.Status)
	}
}

func TestSubmitPollTimeout(t *testing.T) {
	store := newFakeObjectStore()
	keys := mailbox.NewKeyScheme("", "")
	server := bucketEndpoint(t, store, keys, false, http.StatusNoContent)
	defer server.Close()

	fx := newServiceFixture(t, &fakePresigner{url: server.URL}, store, fastPollConfig())

	payload := []byte("jpeg-bytes")
	insp, err := fx.svc.Submit(context.Background(), SubmissionInput{
		Source:      "camera",
		Reader:      bytes.NewReader(payload),
		ContentType: "image/jpeg",
		Size:        int64(len(payload)),
		Wait:        true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if insp.Status != domain.InspectionStatusTimedOut {
		t.Fatalf("status = %s, want timed_out", insp.Status)
	}
	if insp.PollAttempts != 5 {
		t.Errorf("poll attempts = %d, want 5", insp.PollAttempts)
	}
	if insp.FailureReason == nil {
		t.Error("expected failure reason to be recorded")
	}

	notified := fx.notifier.wait(t)
	if notified.Status != domain.InspectionStatusTimedOut {
		t.Errorf("notified status = %s, want timed_out", notified.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid"}, store, fastPollConfig())

	cases := []struct {
		name  string
		input SubmissionInput
	}{
		{
			name:  "empty payload",
			input: SubmissionInput{Source: "camera", Reader: bytes.NewReader(nil), ContentType: "image/jpeg", Size: 0},
		},
		{
			name:  "oversized payload",
			input: SubmissionInput{Source: "camera", Reader: bytes.NewReader([]byte("x")), ContentType: "image/jpeg", Size: defaultMaxInspectionBytes + 1},
		},
		{
			name:  "unsupported content type",
			input: SubmissionInput{Source: "camera", Reader: bytes.NewReader([]byte("x")), ContentType: "text/plain", Size: 1},
		},
		{
			name:  "unknown source",
			input: SubmissionInput{Source: "scanner", Reader: bytes.NewReader([]byte("x")), ContentType: "image/jpeg", Size: 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := fx.svc.Submit(context.Background(), tc.input); !errors.Is(err, ErrInspectionValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSubmitBackgroundPoll(t *testing.T) {
	store := newFakeObjectStore()
	keys := mailbox.NewKeyScheme("", "")
	server := bucketEndpoint(t, store, keys, true, http.StatusNoContent)
	defer server.Close()

	fx := newServiceFixture(t, &fakePresigner{url: server.URL}, store, fastPollConfig())

	payload := []byte("jpeg-bytes")
	insp, err := fx.svc.Submit(context.Background(), SubmissionInput{
		Source:      "upload",
		Reader:      bytes.NewReader(payload),
		FileName:    "screws.jpg",
		ContentType: "image/jpeg",
		Size:        int64(len(payload)),
		Wait:        false,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if insp.Status != domain.InspectionStatusAwaitingResult {
		t.Fatalf("status = %s, want awaiting_result", insp.Status)
	}

	notified := fx.notifier.wait(t)
	if notified.Status != domain.InspectionStatusCompleted {
		t.Fatalf("notified status = %s, want completed", notified.Status)
	}
	if got := fx.repo.status(t, insp.ID); got != domain.InspectionStatusCompleted {
		t.Errorf("repo status = %s, want completed", got)
	}
}

func TestPresignedSubmissionAndConfirm(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid/form"}, store, fastPollConfig())

	sub, err := fx.svc.PresignedSubmission(context.Background(), PresignRequest{
		Source:      "upload",
		FileName:    "screws.png",
		ContentType: "image/png",
		SizeBytes:   1024,
	})
	if err != nil {
		t.Fatalf("PresignedSubmission: %v", err)
	}
	if sub.Inspection.Status != domain.InspectionStatusPending {
		t.Fatalf("status = %s, want pending", sub.Inspection.Status)
	}
	if sub.Post.URL == "" || sub.Post.Fields["key"] != sub.Inspection.UnlabelledKey {
		t.Fatalf("presigned post not bound to the record key: %+v", sub.Post)
	}
	if sub.Post.ExpiresAt.Before(time.Now()) {
		t.Error("expected credential expiry in the future")
	}

	// Client-side upload happens out of band; drop the objects in directly.
	payload := []byte("png-bytes")
	store.put(sub.Inspection.UnlabelledKey, "image/png", payload)
	store.put(sub.Inspection.LabelledKey, "image/jpeg", payload)

	confirmed, err := fx.svc.ConfirmSubmission(context.Background(), sub.Inspection.ID, true)
	if err != nil {
		t.Fatalf("ConfirmSubmission: %v", err)
	}
	if confirmed.Status != domain.InspectionStatusCompleted {
		t.Fatalf("status = %s, want completed", confirmed.Status)
	}
	if confirmed.SizeBytes != int64(len(payload)) {
		t.Errorf("size = %d, want %d (from bucket stat)", confirmed.SizeBytes, len(payload))
	}
	if confirmed.UploadedAt == nil {
		t.Error("expected uploaded_at to be set on confirm")
	}
}

func TestConfirmSubmissionNotUploaded(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid"}, store, fastPollConfig())

	sub, err := fx.svc.PresignedSubmission(context.Background(), PresignRequest{
		Source:      "upload",
		FileName:    "screws.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   10,
	})
	if err != nil {
		t.Fatalf("PresignedSubmission: %v", err)
	}

	if _, err := fx.svc.ConfirmSubmission(context.Background(), sub.Inspection.ID, true); err != ErrSubmissionNotUploaded {
		t.Fatalf("expected ErrSubmissionNotUploaded, got %v", err)
	}
}

func TestConfirmSubmissionConflict(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid"}, store, fastPollConfig())

	pair := fx.keys.NewPair()
	seed := domain.Inspection{
		ID:            pair.ID,
		Source:        domain.InspectionSourceCamera,
		Status:        domain.InspectionStatusUploadFailed,
		UnlabelledKey: pair.UnlabelledKey,
		LabelledKey:   pair.LabelledKey,
		ContentType:   "image/jpeg",
		FailureReason: ptr.String("upload rejected"),
		SubmittedAt:   time.Now().UTC(),
	}
	if _, err := fx.repo.Create(context.Background(), &seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := fx.svc.ConfirmSubmission(context.Background(), pair.ID, true)
	if !errors.Is(err, ErrInspectionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConfirmSubmissionIdempotentWhenCompleted(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid"}, store, fastPollConfig())

	pair := fx.keys.NewPair()
	seed := domain.Inspection{
		ID:            pair.ID,
		Source:        domain.InspectionSourceUpload,
		Status:        domain.InspectionStatusCompleted,
		UnlabelledKey: pair.UnlabelledKey,
		LabelledKey:   pair.LabelledKey,
		ContentType:   "image/jpeg",
		CompletedAt:   ptr.Time(time.Now().UTC()),
		SubmittedAt:   time.Now().UTC(),
	}
	if _, err := fx.repo.Create(context.Background(), &seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	insp, err := fx.svc.ConfirmSubmission(context.Background(), pair.ID, true)
	if err != nil {
		t.Fatalf("ConfirmSubmission: %v", err)
	}
	if insp.Status != domain.InspectionStatusCompleted {
		t.Fatalf("status = %s, want completed", insp.Status)
	}
}

func TestResultLifecycle(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid"}, store, fastPollConfig())

	pair := fx.keys.NewPair()
	seed := domain.Inspection{
		ID:            pair.ID,
		Source:        domain.InspectionSourceCamera,
		Status:        domain.InspectionStatusAwaitingResult,
		UnlabelledKey: pair.UnlabelledKey,
		LabelledKey:   pair.LabelledKey,
		ContentType:   "image/jpeg",
		SubmittedAt:   time.Now().UTC(),
	}
	if _, err := fx.repo.Create(context.Background(), &seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, _, err := fx.svc.Result(context.Background(), pair.ID); !errors.Is(err, ErrResultNotReady) {
		t.Fatalf("expected ErrResultNotReady, got %v", err)
	}

	// Flip to completed and provide the labelled object.
	stored, _ := fx.repo.GetByID(context.Background(), pair.ID)
	stored.Status = domain.InspectionStatusCompleted
	if _, err := fx.repo.Update(context.Background(), stored); err != nil {
		t.Fatalf("update seed: %v", err)
	}
	labelled := []byte("labelled-bytes")
	store.put(pair.LabelledKey, "image/jpeg", labelled)

	rc, info, err := fx.svc.Result(context.Background(), pair.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !bytes.Equal(data, labelled) {
		t.Error("result bytes do not match the labelled object")
	}
	if info.ContentType != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", info.ContentType)
	}

	if _, _, err := fx.svc.Result(context.Background(), uuid.New()); err != ErrInspectionNotFound {
		t.Fatalf("expected ErrInspectionNotFound, got %v", err)
	}
}

func TestDeleteRemovesRecordAndObjects(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid"}, store, fastPollConfig())

	pair := fx.keys.NewPair()
	seed := domain.Inspection{
		ID:            pair.ID,
		Source:        domain.InspectionSourceCamera,
		Status:        domain.InspectionStatusCompleted,
		UnlabelledKey: pair.UnlabelledKey,
		LabelledKey:   pair.LabelledKey,
		ContentType:   "image/jpeg",
		SubmittedAt:   time.Now().UTC(),
	}
	if _, err := fx.repo.Create(context.Background(), &seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.put(pair.UnlabelledKey, "image/jpeg", []byte("a"))
	store.put(pair.LabelledKey, "image/jpeg", []byte("b"))

	if err := fx.svc.Delete(context.Background(), pair.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.has(pair.UnlabelledKey) || store.has(pair.LabelledKey) {
		t.Error("expected both objects to be removed")
	}
	if err := fx.svc.Delete(context.Background(), pair.ID); err != ErrInspectionNotFound {
		t.Fatalf("expected ErrInspectionNotFound on second delete, got %v", err)
	}
}

func TestListNormalizesFilter(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid"}, store, fastPollConfig())

	if _, err := fx.svc.List(context.Background(), domain.InspectionListFilter{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if fx.repo.lastFilter.Limit != 20 {
		t.Errorf("default limit = %d, want 20", fx.repo.lastFilter.Limit)
	}
	if fx.repo.lastFilter.SortField != domain.InspectionSortSubmittedAt {
		t.Errorf("default sort field = %s, want submitted_at", fx.repo.lastFilter.SortField)
	}
	if fx.repo.lastFilter.SortOrder != domain.SortOrderDesc {
		t.Errorf("default sort order = %s, want desc", fx.repo.lastFilter.SortOrder)
	}

	if _, err := fx.svc.List(context.Background(), domain.InspectionListFilter{Limit: 10_000, Offset: -3}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if fx.repo.lastFilter.Limit != 100 {
		t.Errorf("clamped limit = %d, want 100", fx.repo.lastFilter.Limit)
	}
	if fx.repo.lastFilter.Offset != 0 {
		t.Errorf("clamped offset = %d, want 0", fx.repo.lastFilter.Offset)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{url: "http://bucket.invalid"}, store, fastPollConfig())

	for _, status := range []domain.InspectionStatus{
		domain.InspectionStatusCompleted,
		domain.InspectionStatusCompleted,
		domain.InspectionStatusTimedOut,
	} {
		pair := fx.keys.NewPair()
		seed := domain.Inspection{
			ID:            pair.ID,
			Source:        domain.InspectionSourceCamera,
			Status:        status,
			UnlabelledKey: pair.UnlabelledKey,
			LabelledKey:   pair.LabelledKey,
			ContentType:   "image/jpeg",
			SubmittedAt:   time.Now().UTC(),
		}
		if _, err := fx.repo.Create(context.Background(), &seed); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	stats, err := fx.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[domain.InspectionStatusCompleted] != 2 {
		t.Errorf("completed = %d, want 2", stats.ByStatus[domain.InspectionStatusCompleted])
	}
	if stats.ByStatus[domain.InspectionStatusTimedOut] != 1 {
		t.Errorf("timed_out = %d, want 1", stats.ByStatus[domain.InspectionStatusTimedOut])
	}
}

func TestSubmitPresignFailureMarksUploadFailed(t *testing.T) {
	store := newFakeObjectStore()
	fx := newServiceFixture(t, &fakePresigner{err: fmt.Errorf("mint: connection refused")}, store, fastPollConfig())

	payload := []byte("jpeg-bytes")
	insp, err := fx.svc.Submit(context.Background(), SubmissionInput{
		Source:      "camera",
		Reader:      bytes.NewReader(payload),
		ContentType: "image/jpeg",
		Size:        int64(len(payload)),
		Wait:        true,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if insp.Status != domain.InspectionStatusUploadFailed {
		t.Fatalf("status = %s, want upload_failed", insp.Status)
	}
	if insp.UploadAttempts != 0 {
		t.Errorf("upload attempts = %d, want 0 (failed before first attempt)", insp.UploadAttempts)
	}
}
