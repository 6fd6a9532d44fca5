package server

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightloom/transcriptor/internal/app"
	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/reportreader"
	"github.com/brightloom/transcriptor/internal/taxonomy"
	"github.com/brightloom/transcriptor/internal/uploader"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type fakeIDGen struct{ id string }

func (g fakeIDGen) NewID() string { return g.id }

type fakeSink struct{ events []string }

func (s *fakeSink) Emit(_ context.Context, name string, _ map[string]any) {
	s.events = append(s.events, name)
}

type fakeFiles struct {
	file       *models.File
	insertErr  error
	listResult []*models.File
}

func (f *fakeFiles) Insert(_ context.Context, file *models.File) error { return f.insertErr }
func (f *fakeFiles) MarkQueued(context.Context, string, time.Time) error { return nil }
func (f *fakeFiles) MarkFailed(context.Context, string, string, string, time.Time) error {
	return nil
}
func (f *fakeFiles) GetOwned(context.Context, string, string) (*models.File, error) {
	return f.file, nil
}
func (f *fakeFiles) ListOwned(context.Context, string, int, *time.Time, string) ([]*models.File, error) {
	return f.listResult, nil
}

type fakeObjects struct {
	putErr error
	text   string
	getErr error
}

func (o *fakeObjects) PutObject(context.Context, string, []byte, string) error { return o.putErr }
func (o *fakeObjects) GetObjectText(context.Context, string) (string, error)  { return o.text, o.getErr }
func (o *fakeObjects) DeleteObject(context.Context, string) error             { return nil }

type fakeAdmin struct {
	counts     map[models.JobStatus]int
	requeueErr error
}

func (a *fakeAdmin) CountByStatus(context.Context) (map[models.JobStatus]int, error) {
	return a.counts, nil
}
func (a *fakeAdmin) Requeue(context.Context, string, time.Time) error { return a.requeueErr }
func (a *fakeAdmin) PurgeTerminal(context.Context, time.Time) (int64, error) { return 0, nil }

func newTestServer(files *fakeFiles, objects *fakeObjects, admin *fakeAdmin) *Server {
	logger := common.NewSilentLogger()

	jobRepo := &fakeJobsFull{}

	uploadSvc := uploader.New(uploader.Deps{
		Files: files, Jobs: jobRepo, Objects: objects, Logger: logger,
		Clock: fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		IDGen: fakeIDGen{id: "file-1"}, Sink: &fakeSink{}, Bucket: "transcripts",
	})
	reportSvc := reportreader.New(reportreader.Deps{Files: files, Objects: objects, Logger: logger, Sink: &fakeSink{}})

	a := &app.App{
		Logger:       logger,
		Clock:        fakeClock{},
		Sink:         &fakeSink{},
		Files:        files,
		Admin:        admin,
		Uploader:     uploadSvc,
		ReportReader: reportSvc,
	}
	return &Server{app: a, logger: logger}
}

// fakeJobsFull backs the uploader's interfaces.JobRepository dependency;
// only Enqueue does anything, so upload tests don't need to care about
// claim/heartbeat/finalize at all.
type fakeJobsFull struct{ enqueueErr error }

func (j *fakeJobsFull) Enqueue(context.Context, string, time.Time) error { return j.enqueueErr }
func (j *fakeJobsFull) Claim(context.Context, string, time.Time) (*models.ProcessingJob, *models.FileContext, error) {
	return nil, nil, nil
}
func (j *fakeJobsFull) Heartbeat(context.Context, string, string, time.Time) error { return nil }
func (j *fakeJobsFull) FinalizeSuccess(context.Context, string, string, interfaces.ReportMetadata, time.Time) error {
	return nil
}
func (j *fakeJobsFull) FinalizeFailure(context.Context, string, string, taxonomy.Classified, time.Time) error {
	return nil
}
func (j *fakeJobsFull) SaveRawMetadata(context.Context, string, string) error { return nil }
func (j *fakeJobsFull) GetFileContext(context.Context, string) (*models.FileContext, error) {
	return nil, nil
}

func withOwner(req *http.Request, ownerID string) *http.Request {
	return req.WithContext(common.WithOwnerID(req.Context(), ownerID))
}

func multipartUploadRequest(t *testing.T, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHandleFileUpload_Success(t *testing.T) {
	srv := newTestServer(&fakeFiles{}, &fakeObjects{}, &fakeAdmin{})
	req := withOwner(multipartUploadRequest(t, "call.txt", []byte("hello")), "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileUpload(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandleFileUpload_MissingOwnerIsUnauthorized(t *testing.T) {
	srv := newTestServer(&fakeFiles{}, &fakeObjects{}, &fakeAdmin{})
	req := multipartUploadRequest(t, "call.txt", []byte("hello"))
	rec := httptest.NewRecorder()

	srv.handleFileUpload(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleFileUpload_WrongMethodIsNotAllowed(t *testing.T) {
	srv := newTestServer(&fakeFiles{}, &fakeObjects{}, &fakeAdmin{})
	req := withOwner(httptest.NewRequest(http.MethodGet, "/api/files/upload", nil), "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileUpload(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleFileUpload_MissingFileFieldIsBadRequest(t *testing.T) {
	srv := newTestServer(&fakeFiles{}, &fakeObjects{}, &fakeAdmin{})
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req = withOwner(req, "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileUpload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFileUpload_StoreFailureIsFiveHundred(t *testing.T) {
	srv := newTestServer(&fakeFiles{}, &fakeObjects{putErr: errors.New("unavailable")}, &fakeAdmin{})
	req := withOwner(multipartUploadRequest(t, "call.txt", []byte("hello")), "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileUpload(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleFileReport_Success(t *testing.T) {
	files := &fakeFiles{file: &models.File{ID: "file-1", Status: models.FileStatusSucceeded, StorageKeyReport: "k"}}
	objects := &fakeObjects{text: `{"summary":"ok","items":[]}`}
	srv := newTestServer(files, objects, &fakeAdmin{})

	req := withOwner(httptest.NewRequest(http.MethodGet, "/api/files/file-1/report", nil), "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileReport(rec, req, "file-1")

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandleFileReport_NotFound(t *testing.T) {
	srv := newTestServer(&fakeFiles{file: nil}, &fakeObjects{}, &fakeAdmin{})
	req := withOwner(httptest.NewRequest(http.MethodGet, "/api/files/missing/report", nil), "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileReport(rec, req, "missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFileReport_NotReady(t *testing.T) {
	files := &fakeFiles{file: &models.File{ID: "file-1", Status: models.FileStatusProcessingRun}}
	srv := newTestServer(files, &fakeObjects{}, &fakeAdmin{})
	req := withOwner(httptest.NewRequest(http.MethodGet, "/api/files/file-1/report", nil), "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileReport(rec, req, "file-1")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleFileReport_EmptyFileIDIsBadRequest(t *testing.T) {
	srv := newTestServer(&fakeFiles{}, &fakeObjects{}, &fakeAdmin{})
	req := withOwner(httptest.NewRequest(http.MethodGet, "/api/files//report", nil), "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileReport(rec, req, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFileList_Success(t *testing.T) {
	files := &fakeFiles{listResult: []*models.File{{ID: "file-1", OriginalFilename: "call.txt", Status: models.FileStatusSucceeded}}}
	srv := newTestServer(files, &fakeObjects{}, &fakeAdmin{})
	req := withOwner(httptest.NewRequest(http.MethodGet, "/api/files", nil), "user-1")
	rec := httptest.NewRecorder()

	srv.handleFileList(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAdminJobCounts_Success(t *testing.T) {
	admin := &fakeAdmin{counts: map[models.JobStatus]int{models.JobStatusQueued: 2}}
	srv := newTestServer(&fakeFiles{}, &fakeObjects{}, admin)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil)
	rec := httptest.NewRecorder()

	srv.handleAdminJobCounts(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAdminJobRequeue_Success(t *testing.T) {
	srv := newTestServer(&fakeFiles{}, &fakeObjects{}, &fakeAdmin{})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/jobs/job-1/requeue", nil)
	rec := httptest.NewRecorder()

	srv.handleAdminJobRequeue(rec, req, "job-1")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAdminJobRequeue_MissingIDIsBadRequest(t *testing.T) {
	srv := newTestServer(&fakeFiles{}, &fakeObjects{}, &fakeAdmin{})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/jobs//requeue", nil)
	rec := httptest.NewRecorder()

	srv.handleAdminJobRequeue(rec, req, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
