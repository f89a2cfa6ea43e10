package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"meetingScribe/api/dto"
	"meetingScribe/api/middleware"
	"meetingScribe/api/validation"
)

type mockService struct {
	requestUploadURLFunc func(ctx context.Context, userID string, req *dto.UploadURLRequest) (*dto.UploadURLResponse, error)
	completeUploadFunc   func(ctx context.Context, userID, traceID string, req *dto.UploadCompleteRequest) (*dto.IngestResponse, error)
	directUploadFunc     func(ctx context.Context, userID, traceID, filename, contentType string, data []byte, skip bool) (*dto.IngestResponse, error)
	getJobStatusFunc     func(ctx context.Context, userID, jobID string) (*dto.JobStatusResponse, error)
	retryJobFunc         func(ctx context.Context, userID, traceID, jobID string) (*dto.IngestResponse, error)
}

func (m *mockService) RequestUploadURL(ctx context.Context, userID string, req *dto.UploadURLRequest) (*dto.UploadURLResponse, error) {
	if m.requestUploadURLFunc != nil {
		return m.requestUploadURLFunc(ctx, userID, req)
	}
	return &dto.UploadURLResponse{
		UploadURL: "https://store.example/signed",
		Location:  "users/" + userID + "/temp/1-abcd1234.mp3",
		UploadID:  uuid.New().String(),
		ExpiresIn: 900,
	}, nil
}

func (m *mockService) CompleteUpload(ctx context.Context, userID, traceID string, req *dto.UploadCompleteRequest) (*dto.IngestResponse, error) {
	if m.completeUploadFunc != nil {
		return m.completeUploadFunc(ctx, userID, traceID, req)
	}
	return &dto.IngestResponse{JobID: uuid.New().String(), EstimatedTimeSeconds: 30}, nil
}

func (m *mockService) DirectUpload(ctx context.Context, userID, traceID, filename, contentType string, data []byte, skip bool) (*dto.IngestResponse, error) {
	if m.directUploadFunc != nil {
		return m.directUploadFunc(ctx, userID, traceID, filename, contentType, data, skip)
	}
	return &dto.IngestResponse{JobID: uuid.New().String(), Location: "users/" + userID + "/temp/1-abcd1234.wav", EstimatedTimeSeconds: 30}, nil
}

func (m *mockService) GetJobStatus(ctx context.Context, userID, jobID string) (*dto.JobStatusResponse, error) {
	if m.getJobStatusFunc != nil {
		return m.getJobStatusFunc(ctx, userID, jobID)
	}
	return &dto.JobStatusResponse{JobID: jobID, Status: "processing", Progress: 10}, nil
}

func (m *mockService) RetryJob(ctx context.Context, userID, traceID, jobID string) (*dto.IngestResponse, error) {
	if m.retryJobFunc != nil {
		return m.retryJobFunc(ctx, userID, traceID, jobID)
	}
	return &dto.IngestResponse{JobID: uuid.New().String(), EstimatedTimeSeconds: 30}, nil
}

func newTestMux(t *testing.T, svc Service) *http.ServeMux {
	t.Helper()

	handler := NewIngestHandler(svc, zaptest.NewLogger(t), 100<<20)
	mux := http.NewServeMux()
	handler.Register(mux)
	return mux
}

func serve(mux *http.ServeMux, req *http.Request, userID string) *httptest.ResponseRecorder {
	traceID := uuid.New().String()
	ctx := context.WithValue(req.Context(), middleware.TraceIDKey, traceID)
	ctx = context.WithValue(ctx, middleware.UserIDKey, userID)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestUploadURL_Success(t *testing.T) {
	mux := newTestMux(t, &mockService{})

	body := `{"filename":"standup.mp3","fileSize":2097152,"fileHash":"abc123","contentType":"audio/mpeg"}`
	req := httptest.NewRequest("POST", "/upload-url", strings.NewReader(body))

	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var resp dto.UploadURLResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.UploadURL == "" || resp.UploadID == "" {
		t.Error("Expected upload URL and upload id in response")
	}
}

func TestUploadURL_InvalidBody(t *testing.T) {
	mux := newTestMux(t, &mockService{})

	req := httptest.NewRequest("POST", "/upload-url", strings.NewReader("{not json"))
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestUploadURL_ValidationError(t *testing.T) {
	mux := newTestMux(t, &mockService{
		requestUploadURLFunc: func(ctx context.Context, userID string, req *dto.UploadURLRequest) (*dto.UploadURLResponse, error) {
			return nil, validation.ErrMissingFilename
		},
	})

	req := httptest.NewRequest("POST", "/upload-url", strings.NewReader(`{}`))
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestUploadComplete_Duplicate(t *testing.T) {
	mux := newTestMux(t, &mockService{
		completeUploadFunc: func(ctx context.Context, userID, traceID string, req *dto.UploadCompleteRequest) (*dto.IngestResponse, error) {
			return nil, &dto.DuplicateError{MeetingID: "m-existing"}
		},
	})

	body := `{"uploadId":"up1","location":"users/u1/temp/1-abc.mp3"}`
	req := httptest.NewRequest("POST", "/upload-complete", strings.NewReader(body))
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", rec.Code)
	}

	var resp dto.DuplicateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.MeetingID != "m-existing" {
		t.Errorf("Expected meetingId m-existing, got %s", resp.MeetingID)
	}
}

func TestUploadComplete_ObjectMissing(t *testing.T) {
	mux := newTestMux(t, &mockService{
		completeUploadFunc: func(ctx context.Context, userID, traceID string, req *dto.UploadCompleteRequest) (*dto.IngestResponse, error) {
			return nil, dto.ErrObjectNotFound
		},
	})

	body := `{"uploadId":"up1"}`
	req := httptest.NewRequest("POST", "/upload-complete", strings.NewReader(body))
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestUploadComplete_MissingUploadID(t *testing.T) {
	mux := newTestMux(t, &mockService{})

	req := httptest.NewRequest("POST", "/upload-complete", strings.NewReader(`{}`))
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestUpload_Success(t *testing.T) {
	mux := newTestMux(t, &mockService{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "standup.wav")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	content := make([]byte, 1024)
	copy(content, []byte("RIFF"))
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp dto.IngestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.JobID == "" {
		t.Error("Expected a job id in the response")
	}
}

func TestUpload_RejectsNonAudio(t *testing.T) {
	mux := newTestMux(t, &mockService{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("file", "notes.txt")
	part.Write([]byte("just some text"))
	writer.Close()

	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestUpload_NoFile(t *testing.T) {
	mux := newTestMux(t, &mockService{})

	req := httptest.NewRequest("POST", "/upload", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data")
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestStatus_Success(t *testing.T) {
	jobID := uuid.New().String()
	mux := newTestMux(t, &mockService{
		getJobStatusFunc: func(ctx context.Context, userID, id string) (*dto.JobStatusResponse, error) {
			if id != jobID {
				t.Errorf("Expected job id %s, got %s", jobID, id)
			}
			return &dto.JobStatusResponse{JobID: id, Status: "processing", Progress: 10}, nil
		},
	})

	req := httptest.NewRequest("GET", "/status/"+jobID, nil)
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var resp dto.JobStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Progress != 10 {
		t.Errorf("Expected progress 10, got %d", resp.Progress)
	}
}

func TestStatus_NotFound(t *testing.T) {
	mux := newTestMux(t, &mockService{
		getJobStatusFunc: func(ctx context.Context, userID, jobID string) (*dto.JobStatusResponse, error) {
			return nil, dto.ErrJobNotFound
		},
	})

	req := httptest.NewRequest("GET", "/status/"+uuid.New().String(), nil)
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestStatus_Forbidden(t *testing.T) {
	mux := newTestMux(t, &mockService{
		getJobStatusFunc: func(ctx context.Context, userID, jobID string) (*dto.JobStatusResponse, error) {
			return nil, dto.ErrForbidden
		},
	})

	req := httptest.NewRequest("GET", "/status/"+uuid.New().String(), nil)
	rec := serve(mux, req, "u2")

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}
}

func TestRetry_NotRetryable(t *testing.T) {
	mux := newTestMux(t, &mockService{
		retryJobFunc: func(ctx context.Context, userID, traceID, jobID string) (*dto.IngestResponse, error) {
			return nil, dto.ErrNotRetryable
		},
	})

	req := httptest.NewRequest("POST", "/retry/"+uuid.New().String(), nil)
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestRetry_Success(t *testing.T) {
	mux := newTestMux(t, &mockService{})

	req := httptest.NewRequest("POST", "/retry/"+uuid.New().String(), nil)
	rec := serve(mux, req, "u1")

	if rec.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", rec.Code)
	}
}
