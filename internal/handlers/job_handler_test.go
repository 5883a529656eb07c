package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/common"
	"github.com/ternarybob/purgo/internal/identifier"
	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/jobtypes"
	"github.com/ternarybob/purgo/internal/models"
	"github.com/ternarybob/purgo/internal/services/jobs"
	"github.com/ternarybob/purgo/internal/storage/memory"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

// stubQueue accepts every job without running it, so jobs stay in the
// status Create leaves them with.
type stubQueue struct{}

func (q *stubQueue) Enqueue(ctx context.Context, job *models.Job) error { return nil }
func (q *stubQueue) Shutdown(ctx context.Context) error                 { return nil }

// jobTestEnv wires a job handler to an in-memory repository so tests drive
// the full upload path instead of a mocked service.
type jobTestEnv struct {
	handler *JobHandler
	repo    *memory.Repository
}

func newJobTestEnv(t *testing.T) *jobTestEnv {
	t.Helper()
	repo := memory.NewRepository(common.SystemClock{}, arbor.NewLogger())
	registry := jobtypes.NewRegistry(&jobtypes.JobType{
		ID:            "pdf",
		MimeTypes:     []string{"application/pdf"},
		ReadableTypes: []string{"PDF"},
	})
	svc := jobs.NewService(repo, &stubQueue{}, identifier.NewMagicIdentifier(), registry, arbor.NewLogger())
	return &jobTestEnv{
		handler: NewJobHandler(svc, arbor.NewLogger()),
		repo:    repo,
	}
}

// uploadRequest builds a multipart POST with the document under the doc_src
// field, plus any extra form fields.
func uploadRequest(t *testing.T, target, filename string, doc []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("doc_src", filename)
	if err != nil {
		t.Fatalf("Failed to build multipart body: %v", err)
	}
	if _, err := part.Write(doc); err != nil {
		t.Fatalf("Failed to build multipart body: %v", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("Failed to build multipart body: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to build multipart body: %v", err)
	}
	req := httptest.NewRequest("POST", target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

// createJob uploads a sample document and returns the new job id.
func (e *jobTestEnv) createJob(t *testing.T, filename string) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.CreateJobHandler(rec, uploadRequest(t, "/api/v1/jobs", filename, samplePDF, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rec.Code)
	}
	id, _ := decodeBody(t, rec)["id"].(string)
	if id == "" {
		t.Fatal("Expected a job id in the create response")
	}
	return id
}

// finishJob moves a job to a terminal status directly in the repository.
func (e *jobTestEnv) finishJob(t *testing.T, id string, status models.JobStatus, result []byte) {
	t.Helper()
	if err := e.repo.UpdateJob(context.Background(), id, interfaces.JobUpdate{
		Status: &status,
		Result: result,
	}); err != nil {
		t.Fatalf("Failed to update job: %v", err)
	}
}

func TestCreateJobHandler_Success(t *testing.T) {
	env := newJobTestEnv(t)

	req := uploadRequest(t, "/api/v1/jobs", "report.pdf", samplePDF, nil)
	rec := httptest.NewRecorder()
	env.handler.CreateJobHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", rec.Code)
	}

	response := decodeBody(t, rec)
	id, _ := response["id"].(string)
	if len(id) != 27 {
		t.Errorf("Expected a 27 character job id, got %q", id)
	}
	if location := rec.Header().Get("Location"); location != "/api/v1/jobs/"+id {
		t.Errorf("Expected Location header /api/v1/jobs/%s, got %q", id, location)
	}
	if response["type"] != "pdf" {
		t.Errorf("Expected type 'pdf', got %v", response["type"])
	}
	if int(response["status"].(float64)) != int(models.JobStatusCreated) {
		t.Errorf("Expected status CREATED, got %v", response["status"])
	}

	job, err := env.repo.FindJob(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to find created job: %v", err)
	}
	if !bytes.Equal(job.Source, samplePDF) {
		t.Error("Expected the uploaded document to be stored as job source")
	}
	if job.Name != "report.pdf" {
		t.Errorf("Expected job name 'report.pdf', got %q", job.Name)
	}
}

func TestCreateJobHandler_UnsupportedType(t *testing.T) {
	env := newJobTestEnv(t)

	req := uploadRequest(t, "/api/v1/jobs", "note.txt", []byte("plain text, not a document"), nil)
	rec := httptest.NewRecorder()
	env.handler.CreateJobHandler(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", rec.Code)
	}

	response := decodeBody(t, rec)
	if response["error"] != "You uploaded an unsupported document type." {
		t.Errorf("Expected unsupported type message, got %v", response["error"])
	}
	accepted, ok := response["accepted_types"].([]interface{})
	if !ok || len(accepted) != 1 || accepted[0] != "PDF" {
		t.Errorf("Expected accepted_types [PDF], got %v", response["accepted_types"])
	}
}

func TestCreateJobHandler_MissingFile(t *testing.T) {
	env := newJobTestEnv(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("params", "{}"); err != nil {
		t.Fatalf("Failed to build multipart body: %v", err)
	}
	writer.Close()
	req := httptest.NewRequest("POST", "/api/v1/jobs", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := httptest.NewRecorder()
	env.handler.CreateJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["error"] != "A document file (doc_src) is required" {
		t.Errorf("Expected missing file message, got %v", response["error"])
	}
}

func TestCreateJobHandler_NotMultipart(t *testing.T) {
	env := newJobTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/jobs", strings.NewReader("raw document bytes"))
	rec := httptest.NewRecorder()
	env.handler.CreateJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["error"] != "Expected a multipart form upload" {
		t.Errorf("Expected multipart error message, got %v", response["error"])
	}
}

func TestCreateJobHandler_UnknownSession(t *testing.T) {
	env := newJobTestEnv(t)

	req := uploadRequest(t, "/api/v1/jobs?session=missing", "report.pdf", samplePDF, nil)
	rec := httptest.NewRecorder()
	env.handler.CreateJobHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["error"] != "Invalid session id" {
		t.Errorf("Expected invalid session message, got %v", response["error"])
	}
}

func TestCreateJobHandler_AttachesToSession(t *testing.T) {
	env := newJobTestEnv(t)
	if err := env.repo.AddSession(context.Background(), &models.Session{ID: "sess-1"}); err != nil {
		t.Fatalf("Failed to add session: %v", err)
	}

	req := uploadRequest(t, "/api/v1/jobs?session=sess-1", "report.pdf", samplePDF, nil)
	rec := httptest.NewRecorder()
	env.handler.CreateJobHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rec.Code)
	}
	id, _ := decodeBody(t, rec)["id"].(string)

	job, err := env.repo.FindJob(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to find created job: %v", err)
	}
	if job.SessionID != "sess-1" {
		t.Errorf("Expected job to belong to sess-1, got %q", job.SessionID)
	}
}

func TestCreateJobHandler_ForwardsParams(t *testing.T) {
	env := newJobTestEnv(t)

	req := uploadRequest(t, "/api/v1/jobs", "report.pdf", samplePDF, map[string]string{
		"params": `{"locale":"de"}`,
	})
	rec := httptest.NewRecorder()
	env.handler.CreateJobHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rec.Code)
	}
	id, _ := decodeBody(t, rec)["id"].(string)

	job, err := env.repo.FindJob(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to find created job: %v", err)
	}
	if job.Params["locale"] != "de" {
		t.Errorf("Expected params to carry locale 'de', got %v", job.Params)
	}
}

func TestCreateJobHandler_RejectsBadParams(t *testing.T) {
	env := newJobTestEnv(t)

	req := uploadRequest(t, "/api/v1/jobs", "report.pdf", samplePDF, map[string]string{
		"params": "not a json object",
	})
	rec := httptest.NewRecorder()
	env.handler.CreateJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["error"] != "The params field must be a JSON object of strings" {
		t.Errorf("Expected params error message, got %v", response["error"])
	}
}

func TestGetJobHandler_Success(t *testing.T) {
	env := newJobTestEnv(t)
	id := env.createJob(t, "report.pdf")

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+id, nil)
	rec := httptest.NewRecorder()
	env.handler.GetJobHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["id"] != id {
		t.Errorf("Expected id %q, got %v", id, response["id"])
	}
	if _, present := response["log"]; !present {
		t.Error("Expected job details to include the log field")
	}
}

func TestGetJobHandler_NotFound(t *testing.T) {
	env := newJobTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/jobs/missing", nil)
	rec := httptest.NewRecorder()
	env.handler.GetJobHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["error"] != "Job not found" {
		t.Errorf("Expected not found message, got %v", response["error"])
	}
}

func TestGetJobHandler_MissingID(t *testing.T) {
	env := newJobTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/jobs/", nil)
	rec := httptest.NewRecorder()
	env.handler.GetJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestGetJobResultHandler_Success(t *testing.T) {
	env := newJobTestEnv(t)
	id := env.createJob(t, "report.pdf")
	env.finishJob(t, id, models.JobStatusSuccess, []byte("%PDF-1.7 cleaned"))

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+id+"/result", nil)
	rec := httptest.NewRecorder()
	env.handler.GetJobResultHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "%PDF-1.7 cleaned" {
		t.Errorf("Expected cleaned document bytes, got %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Expected Content-Type application/octet-stream, got %q", ct)
	}

	mediaType, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("Failed to parse Content-Disposition: %v", err)
	}
	if mediaType != "attachment" {
		t.Errorf("Expected attachment disposition, got %q", mediaType)
	}
	if params["filename"] != "report.pdf" {
		t.Errorf("Expected filename report.pdf, got %q", params["filename"])
	}
}

func TestGetJobResultHandler_EncodesUnicodeFilename(t *testing.T) {
	env := newJobTestEnv(t)
	id := env.createJob(t, "übersicht.pdf")
	env.finishJob(t, id, models.JobStatusSuccess, []byte("%PDF-1.7 cleaned"))

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+id+"/result", nil)
	rec := httptest.NewRecorder()
	env.handler.GetJobResultHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	disposition := rec.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, "filename*=") {
		t.Errorf("Expected an extended filename parameter, got %q", disposition)
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		t.Fatalf("Failed to parse Content-Disposition: %v", err)
	}
	if params["filename"] != "übersicht.pdf" {
		t.Errorf("Expected filename übersicht.pdf, got %q", params["filename"])
	}
}

func TestGetJobResultHandler_Unfinished(t *testing.T) {
	env := newJobTestEnv(t)
	id := env.createJob(t, "report.pdf")

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+id+"/result", nil)
	rec := httptest.NewRecorder()
	env.handler.GetJobResultHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["error"] != "Job result not found" {
		t.Errorf("Expected result not found message, got %v", response["error"])
	}
}

func TestGetJobResultHandler_NotFound(t *testing.T) {
	env := newJobTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/jobs/missing/result", nil)
	rec := httptest.NewRecorder()
	env.handler.GetJobResultHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestDeleteJobHandler_Success(t *testing.T) {
	env := newJobTestEnv(t)
	id := env.createJob(t, "report.pdf")
	env.finishJob(t, id, models.JobStatusSuccess, []byte("%PDF-1.7 cleaned"))

	req := httptest.NewRequest("DELETE", "/api/v1/jobs/"+id, nil)
	rec := httptest.NewRecorder()
	env.handler.DeleteJobHandler(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rec.Code)
	}
	if _, err := env.repo.FindJob(context.Background(), id); err == nil {
		t.Error("Expected job to be deleted")
	}
}

func TestDeleteJobHandler_Unfinished(t *testing.T) {
	env := newJobTestEnv(t)
	id := env.createJob(t, "report.pdf")

	req := httptest.NewRequest("DELETE", "/api/v1/jobs/"+id, nil)
	rec := httptest.NewRecorder()
	env.handler.DeleteJobHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rec.Code)
	}
	response := decodeBody(t, rec)
	if response["error"] != "Job is still being processed" {
		t.Errorf("Expected conflict message, got %v", response["error"])
	}
	if _, err := env.repo.FindJob(context.Background(), id); err != nil {
		t.Error("Expected unfinished job to survive the delete attempt")
	}
}

func TestDeleteJobHandler_NotFound(t *testing.T) {
	env := newJobTestEnv(t)

	req := httptest.NewRequest("DELETE", "/api/v1/jobs/missing", nil)
	rec := httptest.NewRecorder()
	env.handler.DeleteJobHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}
