// Package sdk is a Go client for the screw inspection gateway. It covers
// the server-side submission round trip, the presigned client-side upload
// flow, and the operator endpoints.
package sdk

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/mailbox"
)

// Client talks to the inspection gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// NewClient creates a new SDK client.
// baseURL is the base URL of the API, e.g., "http://localhost:8080/api/v1".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// NewClientWithHTTPClient creates an SDK client with a custom HTTP client.
func NewClientWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// SetToken attaches a bearer token to subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the bearer token currently attached to the client.
func (c *Client) Token() string {
	return c.token
}

// Authenticate trades the operator key for a session token and stores it
// on the client.
func (c *Client) Authenticate(ctx context.Context, operatorKey, principal string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/auth/token", nil, map[string]string{
		"operator_key": operatorKey,
		"principal":    principal,
	}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// SubmitRequest is the request parameters for Submit.
type SubmitRequest struct {
	Source   string
	File     io.Reader
	FileName string
	// Background asks the gateway to return as soon as the image is in
	// the bucket instead of blocking until the result arrives.
	Background bool
}

// Submit uploads a photo through the gateway, which performs the bucket
// submission itself. With Background unset the call blocks until the
// inspection reaches a terminal state and returns the outcome record.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Inspection, error) {
	if req.File == nil {
		return nil, fmt.Errorf("submit requires a file reader")
	}

	// The multipart body is streamed through a pipe; the image is never
	// buffered in full.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	writeErr := make(chan error, 1)

	fileName := req.FileName
	if fileName == "" {
		fileName = "inspection.jpg"
	}

	go func() {
		defer close(writeErr)
		defer pw.Close()

		if req.Source != "" {
			if err := writer.WriteField("source", req.Source); err != nil {
				pw.CloseWithError(err)
				writeErr <- fmt.Errorf("write source: %w", err)
				return
			}
		}

		part, err := writer.CreateFormFile("image", fileName)
		if err != nil {
			pw.CloseWithError(err)
			writeErr <- fmt.Errorf("create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, req.File); err != nil {
			pw.CloseWithError(err)
			writeErr <- fmt.Errorf("copy file: %w", err)
			return
		}
		if err := writer.Close(); err != nil {
			pw.CloseWithError(err)
			writeErr <- fmt.Errorf("close writer: %w", err)
			return
		}
	}()

	target := c.baseURL + "/inspections"
	if req.Background {
		target += "?wait=false"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		<-writeErr
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.addAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Ensure the writer goroutine finishes.
		<-writeErr
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if wErr := <-writeErr; wErr != nil {
		return nil, wErr
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeAPIError(resp)
	}

	insp := &Inspection{}
	if err := decodeInto(resp.Body, insp); err != nil {
		return nil, err
	}
	return insp, nil
}

// PresignedSubmitRequest is the request parameters for SubmitPresigned.
type PresignedSubmitRequest struct {
	Source      string
	FileName    string
	ContentType string
	Payload     []byte
	Background  bool
	// UploadAttempts bounds how many times the same credential is
	// replayed against the bucket before giving up. Zero uses the
	// gateway-matching default of three.
	UploadAttempts int
	RetryDelay     time.Duration
}

// SubmitPresigned runs the client-side upload flow: register a pending
// inspection, post the image straight to the bucket with the returned
// credential, then confirm so the gateway starts polling for the result.
func (c *Client) SubmitPresigned(ctx context.Context, req PresignedSubmitRequest) (*Inspection, error) {
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("submit requires a payload")
	}

	grant, err := c.CreatePresigned(ctx, req)
	if err != nil {
		return nil, err
	}

	uploader := mailbox.NewUploader(mailbox.UploaderConfig{
		MaxAttempts: req.UploadAttempts,
		RetryDelay:  req.RetryDelay,
		HTTPClient:  c.httpClient,
	})
	if _, err := uploader.Upload(ctx, grant.Post, mailbox.Payload{
		Bytes:       req.Payload,
		FileName:    req.FileName,
		ContentType: req.ContentType,
	}); err != nil {
		return &grant.Inspection, fmt.Errorf("bucket upload: %w", err)
	}

	return c.ConfirmSubmission(ctx, grant.Inspection.ID, !req.Background)
}

// PresignedGrant pairs the registered inspection with its upload credential.
type PresignedGrant struct {
	Inspection Inspection            `json:"inspection"`
	Post       mailbox.PresignedPost `json:"post"`
}

// CreatePresigned registers a pending inspection and returns the POST
// policy for uploading its image. Callers who use this directly must
// post the policy fields first and the file part last, then confirm.
func (c *Client) CreatePresigned(ctx context.Context, req PresignedSubmitRequest) (*PresignedGrant, error) {
	payload := map[string]any{
		"content_type": req.ContentType,
		"size_bytes":   len(req.Payload),
	}
	if req.Source != "" {
		payload["source"] = req.Source
	}
	if req.FileName != "" {
		payload["file_name"] = req.FileName
	}

	grant := &PresignedGrant{}
	if err := c.doJSON(ctx, http.MethodPost, "/inspections/presigned", nil, payload, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// ConfirmSubmission tells the gateway a presigned upload reached the
// bucket. With wait true it blocks until the inspection is terminal.
func (c *Client) ConfirmSubmission(ctx context.Context, id uuid.UUID, wait bool) (*Inspection, error) {
	query := url.Values{}
	query.Set("wait", strconv.FormatBool(wait))

	insp := &Inspection{}
	path := "/inspections/" + id.String() + "/submitted"
	if err := c.doJSON(ctx, http.MethodPost, path, query, nil, insp); err != nil {
		return nil, err
	}
	return insp, nil
}

// Get fetches one inspection record.
func (c *Client) Get(ctx context.Context, id uuid.UUID) (*Inspection, error) {
	insp := &Inspection{}
	if err := c.doJSON(ctx, http.MethodGet, "/inspections/"+id.String(), nil, nil, insp); err != nil {
		return nil, err
	}
	return insp, nil
}

// WaitTerminal polls Get until the inspection reaches a terminal state.
func (c *Client) WaitTerminal(ctx context.Context, id uuid.UUID, interval time.Duration) (*Inspection, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		insp, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if insp.Status.Terminal() {
			return insp, nil
		}
		select {
		case <-ctx.Done():
			return insp, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Result streams the labelled image into dst.
func (c *Client) Result(ctx context.Context, id uuid.UUID, dst io.Writer) error {
	body, err := c.doStream(ctx, "/inspections/"+id.String()+"/result")
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if _, err := io.Copy(dst, body); err != nil {
		return fmt.Errorf("stream download: %w", err)
	}
	return nil
}

// Original streams the submitted image into dst, verifying it against the
// content hash the gateway recorded at upload time when one is present.
func (c *Client) Original(ctx context.Context, id uuid.UUID, dst io.Writer) error {
	insp, err := c.Get(ctx, id)
	if err != nil {
		return err
	}

	body, err := c.doStream(ctx, "/inspections/"+id.String()+"/original")
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	var writer io.Writer = dst
	var hasher *blake3.Hasher
	if insp.ContentHash != nil && *insp.ContentHash != "" {
		hasher = blake3.New()
		writer = io.MultiWriter(dst, hasher)
	}

	if _, err := io.Copy(writer, body); err != nil {
		return fmt.Errorf("stream download: %w", err)
	}
	if hasher != nil {
		got := hex.EncodeToString(hasher.Sum(nil))
		if got != *insp.ContentHash {
			return fmt.Errorf("hash mismatch: expected %s, got %s", *insp.ContentHash, got)
		}
	}
	return nil
}

// ListRequest filters the operator inspection listing.
type ListRequest struct {
	Status          Status
	Source          string
	SubmittedAfter  time.Time
	SubmittedBefore time.Time
	Limit           int
	Offset          int
	Sort            string
	Order           string
}

// ListResponse is one page of inspections.
type ListResponse struct {
	Inspections []Inspection `json:"inspections"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
}

// List fetches a page of inspections. Requires an operator token.
func (c *Client) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	query := url.Values{}
	if req.Status != "" {
		query.Set("status", string(req.Status))
	}
	if req.Source != "" {
		query.Set("source", req.Source)
	}
	if !req.SubmittedAfter.IsZero() {
		query.Set("submitted_after", req.SubmittedAfter.Format(time.RFC3339))
	}
	if !req.SubmittedBefore.IsZero() {
		query.Set("submitted_before", req.SubmittedBefore.Format(time.RFC3339))
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		query.Set("offset", strconv.Itoa(req.Offset))
	}
	if req.Sort != "" {
		query.Set("sort", req.Sort)
	}
	if req.Order != "" {
		query.Set("order", req.Order)
	}

	resp := &ListResponse{}
	if err := c.doJSON(ctx, http.MethodGet, "/inspections", query, nil, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stats fetches inspection counts by status. Requires an operator token.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	if err := c.doJSON(ctx, http.MethodGet, "/inspections/stats", nil, nil, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Delete removes an inspection and its bucket objects. Requires an
// operator token.
func (c *Client) Delete(ctx context.Context, id uuid.UUID) error {
	return c.doJSON(ctx, http.MethodDelete, "/inspections/"+id.String(), nil, nil, nil)
}
