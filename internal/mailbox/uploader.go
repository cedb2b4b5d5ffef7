package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"time"
)

var (
	ErrUploadRejected    = errors.New("upload rejected by storage")
	ErrCredentialExpired = errors.New("presigned credential expired")
)

// PresignedPost is a time-limited write credential for a single object key:
// the target URL plus the form fields the policy was signed over.
type PresignedPost struct {
	URL       string            `json:"url"`
	Fields    map[string]string `json:"fields"`
	Key       string            `json:"key"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Payload is the image to submit. Bytes are buffered so the same payload
// can be re-sent across retry attempts.
type Payload struct {
	Bytes       []byte
	FileName    string
	ContentType string
}

type UploaderConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	HTTPClient  *http.Client
}

const (
	defaultUploadAttempts = 3
	defaultRetryDelay     = 2 * time.Second
	defaultUploadTimeout  = 60 * time.Second
)

// Uploader performs the multipart submission authorized by a presigned
// POST, retrying a bounded number of times with a fixed delay in between.
type Uploader struct {
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
}

func NewUploader(cfg UploaderConfig) *Uploader {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultUploadAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay < 0 {
		retryDelay = defaultRetryDelay
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultUploadTimeout}
	}
	return &Uploader{
		client:      client,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

type UploadResult struct {
	// Attempts is the number of submissions actually made, including the
	// successful one.
	Attempts int
}

// Upload submits the payload to the presigned URL. The same credential is
// reused across attempts; storage accepts the form only when it replies
// 204 No Content. Returns the last error once the attempt budget is spent.
func (u *Uploader) Upload(ctx context.Context, post PresignedPost, payload Payload) (UploadResult, error) {
	if len(payload.Bytes) == 0 {
		return UploadResult{}, errors.New("empty upload payload")
	}

	var lastErr error
	attempts := 0
	for attempts < u.maxAttempts {
		if err := ctx.Err(); err != nil {
			return UploadResult{Attempts: attempts}, err
		}
		if !post.ExpiresAt.IsZero() && time.Now().After(post.ExpiresAt) {
			if lastErr != nil {
				return UploadResult{Attempts: attempts}, fmt.Errorf("%w after %d attempts: %v", ErrCredentialExpired, attempts, lastErr)
			}
			return UploadResult{Attempts: attempts}, ErrCredentialExpired
		}

		attempts++
		if err := u.submit(ctx, post, payload); err != nil {
			lastErr = err
			if attempts < u.maxAttempts {
				select {
				case <-ctx.Done():
					return UploadResult{Attempts: attempts}, ctx.Err()
				case <-time.After(u.retryDelay):
				}
			}
			continue
		}
		return UploadResult{Attempts: attempts}, nil
	}
	return UploadResult{Attempts: attempts}, lastErr
}

func (u *Uploader) submit(ctx context.Context, post PresignedPost, payload Payload) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	// Policy fields first; storage requires the file part to come last.
	for name, value := range post.Fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("write form field %s: %w", name, err)
		}
	}

	fileName := payload.FileName
	if fileName == "" {
		fileName = path.Base(post.Key)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	if payload.ContentType != "" {
		header.Set("Content-Type", payload.ContentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(payload.Bytes)); err != nil {
		return fmt.Errorf("copy payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, post.URL, &body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d", ErrUploadRejected, resp.StatusCode)
	}
	return nil
}
