package sdk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Status mirrors the inspection lifecycle exposed by the gateway.
type Status string

const (
	StatusPending        Status = "pending"
	StatusUploading      Status = "uploading"
	StatusAwaitingResult Status = "awaiting_result"
	StatusCompleted      Status = "completed"
	StatusUploadFailed   Status = "upload_failed"
	StatusTimedOut       Status = "timed_out"
)

// Terminal reports whether the inspection can no longer change state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusUploadFailed, StatusTimedOut:
		return true
	}
	return false
}

// Inspection is one submitted photo as the gateway reports it.
type Inspection struct {
	ID             uuid.UUID  `json:"id"`
	Source         string     `json:"source"`
	Status         Status     `json:"status"`
	UnlabelledKey  string     `json:"unlabelled_key"`
	LabelledKey    string     `json:"labelled_key"`
	FileName       *string    `json:"file_name,omitempty"`
	ContentType    string     `json:"content_type"`
	SizeBytes      int64      `json:"size_bytes"`
	ContentHash    *string    `json:"content_hash,omitempty"`
	UploadAttempts int        `json:"upload_attempts"`
	PollAttempts   int        `json:"poll_attempts"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	UploadedAt     *time.Time `json:"uploaded_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	OriginalURL    string     `json:"original_url,omitempty"`
	ResultURL      string     `json:"result_url,omitempty"`
}

// Stats is the by-status breakdown from the stats endpoint.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// APIError is a non-2xx reply decoded from the gateway's error envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if len(query) > 0 {
		httpReq.URL.RawQuery = query.Encode()
	}
	c.addAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out != nil {
		return decodeInto(resp.Body, out)
	}
	return nil
}

func decodeInto(r io.Reader, out any) error {
	if err := sonic.ConfigDefault.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doStream issues a GET and hands back the raw body for 200 replies.
func (c *Client) doStream(ctx context.Context, path string) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.addAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeAPIError(resp)
	}
	return resp.Body, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := sonic.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
	}
	return apiErr
}

func (c *Client) addAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
