package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	handler "github.com/SMI/cohort-tracker/internal/delivery/http"
	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/repository/mock"
	"github.com/SMI/cohort-tracker/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(store *mock.JobStore) *gin.Engine {
	logger := zap.NewNop()
	return handler.NewRouter(
		usecase.NewListReadyJobsUsecase(store, logger),
		usecase.NewCompleteJobUsecase(store, logger),
		usecase.NewFailJobUsecase(store, logger),
		usecase.NewReportQueriesUsecase(store, logger),
		logger,
	)
}

// seedReadyJob puts a fully collected job into the store and returns its ID.
func seedReadyJob(t *testing.T, store *mock.JobStore) uuid.UUID {
	t.Helper()
	ingest := usecase.NewIngestEventUsecase(store, zap.NewNop())
	ctx := context.Background()
	jobID := uuid.New()

	events := []domain.Event{
		&domain.JobSubmitted{
			JobID:               jobID,
			ProjectNumber:       "2024-0042",
			ExtractionDirectory: "extractions/2024-0042",
			KeyTag:              "SeriesInstanceUID",
			ExpectedKeyCount:    1,
			MessageHeader:       testHeader(),
		},
		&domain.KeyExpectationReported{
			JobID: jobID,
			Key:   "series-1",
			DispatchedFiles: []domain.ExpectedFile{
				{EventID: uuid.New(), FilePath: "s1/a.dcm"},
			},
			Rejections:    map[string]int{"corrupt file": 1},
			MessageHeader: testHeader(),
		},
		&domain.FileOutcomeReported{
			JobID:              jobID,
			FilePath:           "s1/a.dcm",
			Status:             domain.FileStatusSuccess,
			AnonymisedFileName: "anon-a.dcm",
			MessageHeader:      testHeader(),
		},
		&domain.FileVerificationReported{
			JobID:              jobID,
			AnonymisedFileName: "anon-a.dcm",
			IsIdentifiable:     true,
			Report:             "burned-in annotation",
			MessageHeader:      testHeader(),
		},
	}
	for _, evt := range events {
		if err := ingest.Execute(ctx, evt); err != nil {
			t.Fatalf("seed %s: %v", evt.Kind(), err)
		}
	}
	return jobID
}

func testHeader() domain.MessageHeader {
	return domain.MessageHeader{
		MessageID: uuid.New(),
		Producer:  "test-producer",
		EmittedAt: time.Now().UTC(),
	}
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := newTestRouter(mock.NewJobStore())
	w := doRequest(router, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListReadyEndpoint(t *testing.T) {
	store := mock.NewJobStore()
	jobID := seedReadyJob(t, store)
	router := newTestRouter(store)

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/ready", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Jobs []domain.JobSummary `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].JobID != jobID {
		t.Fatalf("unexpected jobs: %+v", resp.Jobs)
	}

	// Bad filter value.
	w = doRequest(router, http.MethodGet, "/api/v1/jobs/ready?job_id=not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d", w.Code)
	}
}

func TestCompleteEndpoint(t *testing.T) {
	store := mock.NewJobStore()
	jobID := seedReadyJob(t, store)
	router := newTestRouter(store)

	w := doRequest(router, http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var completed domain.CompletedJob
	if err := json.Unmarshal(w.Body.Bytes(), &completed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if completed.Job.Status != domain.StatusCompleted {
		t.Errorf("document status = %s", completed.Job.Status)
	}

	// Completing again conflicts.
	w = doRequest(router, http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/complete", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second complete status = %d", w.Code)
	}
}

func TestCompleteEndpoint_Errors(t *testing.T) {
	store := mock.NewJobStore()
	router := newTestRouter(store)

	w := doRequest(router, http.MethodPost, "/api/v1/jobs/not-a-uuid/complete", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/complete", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d", w.Code)
	}

	// A job missing its sub-stores is an upstream bug, not a client error.
	ingest := usecase.NewIngestEventUsecase(store, zap.NewNop())
	jobID := uuid.New()
	if err := ingest.Execute(context.Background(), &domain.JobSubmitted{
		JobID:               jobID,
		ProjectNumber:       "2024-0042",
		ExtractionDirectory: "extractions/2024-0042",
		KeyTag:              "SeriesInstanceUID",
		ExpectedKeyCount:    1,
		MessageHeader:       testHeader(),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w = doRequest(router, http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/complete", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty job status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestFailEndpoint(t *testing.T) {
	store := mock.NewJobStore()
	jobID := seedReadyJob(t, store)
	router := newTestRouter(store)

	body, _ := json.Marshal(map[string]string{"reason": "operator abort"})
	w := doRequest(router, http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/fail", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if store.Quarantined[jobID] == nil {
		t.Fatal("job not quarantined")
	}

	// Re-failing conflicts.
	w = doRequest(router, http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/fail", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("re-fail status = %d", w.Code)
	}

	// Missing reason is a bad request.
	w = doRequest(router, http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/fail", []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing reason status = %d", w.Code)
	}
}

func TestReportEndpoints(t *testing.T) {
	store := mock.NewJobStore()
	jobID := seedReadyJob(t, store)
	router := newTestRouter(store)

	w := doRequest(router, http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d", w.Code)
	}

	base := "/api/v1/jobs/completed/" + jobID.String()

	w = doRequest(router, http.MethodGet, base, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get completed status = %d", w.Code)
	}

	w = doRequest(router, http.MethodGet, base+"/rejections", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rejections status = %d", w.Code)
	}
	var rejResp struct {
		Rejections map[string]int `json:"rejections"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rejResp); err != nil {
		t.Fatalf("decode rejections: %v", err)
	}
	if rejResp.Rejections["corrupt file"] != 1 {
		t.Errorf("rejections = %v", rejResp.Rejections)
	}

	w = doRequest(router, http.MethodGet, base+"/verification-failures", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verification failures status = %d", w.Code)
	}
	var vfResp struct {
		Failures []domain.OutcomeRecord `json:"failures"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &vfResp); err != nil {
		t.Fatalf("decode failures: %v", err)
	}
	if len(vfResp.Failures) != 1 || vfResp.Failures[0].AnonymisedFileName != "anon-a.dcm" {
		t.Errorf("verification failures = %+v", vfResp.Failures)
	}

	w = doRequest(router, http.MethodGet, base+"/missing-files", nil)
	if w.Code != http.StatusOK {
		t.Errorf("missing files status = %d", w.Code)
	}

	w = doRequest(router, http.MethodGet, base+"/anonymisation-failures", nil)
	if w.Code != http.StatusOK {
		t.Errorf("anonymisation failures status = %d", w.Code)
	}

	// Unknown completed job.
	w = doRequest(router, http.MethodGet, "/api/v1/jobs/completed/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown completed job status = %d", w.Code)
	}
}

func TestQuarantinedEndpoint(t *testing.T) {
	store := mock.NewJobStore()
	jobID := seedReadyJob(t, store)
	router := newTestRouter(store)

	body, _ := json.Marshal(map[string]string{"reason": "operator abort"})
	if w := doRequest(router, http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/fail", body); w.Code != http.StatusOK {
		t.Fatalf("fail status = %d", w.Code)
	}

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/quarantined", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Jobs []domain.QuarantinedJob `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].JobID != jobID {
		t.Fatalf("unexpected quarantined jobs: %+v", resp.Jobs)
	}
}
