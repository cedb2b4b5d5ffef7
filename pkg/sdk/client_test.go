package sdk_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/zulfikar2701/sakae-riken-screws-detection/pkg/sdk"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func record(id uuid.UUID, status sdk.Status) map[string]any {
	return map[string]any{
		"id":             id.String(),
		"source":         "upload",
		"status":         string(status),
		"unlabelled_key": "image/unlabelled/" + id.String() + ".jpg",
		"labelled_key":   "image/labelled/" + id.String() + ".jpg",
		"content_type":   "image/jpeg",
		"submitted_at":   time.Now().UTC().Format(time.RFC3339),
	}
}

func TestSubmitSendsMultipartAndDecodesRecord(t *testing.T) {
	id := uuid.New()
	var gotSource, gotFileName string
	var gotPayload []byte

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/inspections", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "" {
			t.Errorf("expected no wait param on default submit, got %q", r.URL.Query().Get("wait"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotSource = r.FormValue("source")
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFileName = header.Filename
		gotPayload, _ = io.ReadAll(file)
		writeJSON(t, w, http.StatusCreated, record(id, sdk.StatusCompleted))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sdk.NewClient(server.URL + "/api/v1")
	insp, err := client.Submit(context.Background(), sdk.SubmitRequest{
		Source:   "upload",
		File:     bytes.NewReader([]byte("jpeg-bytes")),
		FileName: "screw.jpg",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if insp.ID != id {
		t.Fatalf("expected id %s, got %s", id, insp.ID)
	}
	if insp.Status != sdk.StatusCompleted {
		t.Fatalf("expected completed, got %s", insp.Status)
	}
	if gotSource != "upload" {
		t.Fatalf("expected source upload, got %q", gotSource)
	}
	if gotFileName != "screw.jpg" {
		t.Fatalf("expected file name screw.jpg, got %q", gotFileName)
	}
	if string(gotPayload) != "jpeg-bytes" {
		t.Fatalf("expected payload to arrive intact, got %q", gotPayload)
	}
}

func TestSubmitBackgroundSetsWaitFalse(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/inspections", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "false" {
			t.Errorf("expected wait=false, got %q", r.URL.Query().Get("wait"))
		}
		writeJSON(t, w, http.StatusAccepted, record(id, sdk.StatusAwaitingResult))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sdk.NewClient(server.URL + "/api/v1")
	insp, err := client.Submit(context.Background(), sdk.SubmitRequest{
		File:       bytes.NewReader([]byte("jpeg-bytes")),
		FileName:   "screw.jpg",
		Background: true,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if insp.Status != sdk.StatusAwaitingResult {
		t.Fatalf("expected awaiting_result, got %s", insp.Status)
	}
}

func TestSubmitSurfacesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/inspections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]string{"error": "image file part required"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sdk.NewClient(server.URL + "/api/v1")
	_, err := client.Submit(context.Background(), sdk.SubmitRequest{
		File: bytes.NewReader([]byte("x")),
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	apiErr, ok := err.(*sdk.APIError)
	if !ok {
		t.Fatalf("expected *sdk.APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "image file part") {
		t.Fatalf("expected server message, got %q", apiErr.Message)
	}
}

func TestSubmitPresignedUploadsThenConfirms(t *testing.T) {
	id := uuid.New()
	key := "image/unlabelled/" + id.String() + ".jpg"
	payload := []byte("presigned-jpeg-bytes")

	var bucketBody []byte
	var lastPartName string
	confirmed := false

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("POST /api/v1/inspections/presigned", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode presign request: %v", err)
		}
		if req["content_type"] != "image/jpeg" {
			t.Errorf("expected content_type image/jpeg, got %v", req["content_type"])
		}
		writeJSON(t, w, http.StatusCreated, map[string]any{
			"inspection": record(id, sdk.StatusPending),
			"post": map[string]any{
				"url":        server.URL + "/bucket",
				"fields":     map[string]string{"key": key, "Content-Type": "image/jpeg"},
				"key":        key,
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			},
		})
	})
	mux.HandleFunc("POST /bucket", func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("parse bucket content type: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reader := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("read bucket part: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			lastPartName = part.FormName()
			data, _ := io.ReadAll(part)
			if part.FileName() != "" {
				bucketBody = data
			}
			_ = part.Close()
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/inspections/{id}/submitted", func(w http.ResponseWriter, r *http.Request) {
		if len(bucketBody) == 0 {
			t.Error("confirm arrived before the bucket upload")
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Errorf("expected wait=true, got %q", r.URL.Query().Get("wait"))
		}
		confirmed = true
		writeJSON(t, w, http.StatusOK, record(id, sdk.StatusCompleted))
	})

	client := sdk.NewClient(server.URL + "/api/v1")
	insp, err := client.SubmitPresigned(context.Background(), sdk.PresignedSubmitRequest{
		FileName:    "screw.jpg",
		ContentType: "image/jpeg",
		Payload:     payload,
	})
	if err != nil {
		t.Fatalf("SubmitPresigned returned error: %v", err)
	}

	if insp.Status != sdk.StatusCompleted {
		t.Fatalf("expected completed, got %s", insp.Status)
	}
	if !confirmed {
		t.Fatal("expected confirm call")
	}
	if !bytes.Equal(bucketBody, payload) {
		t.Fatalf("expected bucket to receive payload, got %q", bucketBody)
	}
	if lastPartName != "file" {
		t.Fatalf("expected file part last in bucket form, got %q", lastPartName)
	}
}

func TestOriginalVerifiesContentHash(t *testing.T) {
	id := uuid.New()
	payload := []byte("original-jpeg-bytes")
	sum := blake3.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/inspections/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec := record(id, sdk.StatusCompleted)
		rec["content_hash"] = hash
		writeJSON(t, w, http.StatusOK, rec)
	})
	mux.HandleFunc("GET /api/v1/inspections/{id}/original", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(payload)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sdk.NewClient(server.URL + "/api/v1")
	var buf bytes.Buffer
	if err := client.Original(context.Background(), id, &buf); err != nil {
		t.Fatalf("Original returned error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("expected payload bytes, got %q", buf.Bytes())
	}
}

func TestOriginalRejectsHashMismatch(t *testing.T) {
	id := uuid.New()
	sum := blake3.Sum256([]byte("what was uploaded"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/inspections/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec := record(id, sdk.StatusCompleted)
		rec["content_hash"] = hex.EncodeToString(sum[:])
		writeJSON(t, w, http.StatusOK, rec)
	})
	mux.HandleFunc("GET /api/v1/inspections/{id}/original", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered bytes"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sdk.NewClient(server.URL + "/api/v1")
	var buf bytes.Buffer
	err := client.Original(context.Background(), id, &buf)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch error, got %v", err)
	}
}

func TestWaitTerminalPollsUntilDone(t *testing.T) {
	id := uuid.New()
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/inspections/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := sdk.StatusAwaitingResult
		if calls >= 3 {
			status = sdk.StatusCompleted
		}
		writeJSON(t, w, http.StatusOK, record(id, status))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sdk.NewClient(server.URL + "/api/v1")
	insp, err := client.WaitTerminal(context.Background(), id, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTerminal returned error: %v", err)
	}
	if insp.Status != sdk.StatusCompleted {
		t.Fatalf("expected completed, got %s", insp.Status)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestAuthenticateAttachesBearerToken(t *testing.T) {
	var authHeader string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]string{"token": "session-token"})
	})
	mux.HandleFunc("GET /api/v1/inspections/stats", func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		writeJSON(t, w, http.StatusOK, map[string]any{
			"total":     2,
			"by_status": map[string]int{"completed": 2},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sdk.NewClient(server.URL + "/api/v1")
	if err := client.Authenticate(context.Background(), "operator-key", "line-a"); err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}

	stats, err := client.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected total 2, got %d", stats.Total)
	}
	if stats.ByStatus[sdk.StatusCompleted] != 2 {
		t.Fatalf("expected 2 completed, got %v", stats.ByStatus)
	}
	if authHeader != "Bearer session-token" {
		t.Fatalf("expected bearer token on stats call, got %q", authHeader)
	}
}
