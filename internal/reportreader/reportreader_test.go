package reportreader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/models"
)

type fakeFiles struct {
	file *models.File
	err  error
}

func (f *fakeFiles) Insert(context.Context, *models.File) error                      { return nil }
func (f *fakeFiles) MarkQueued(context.Context, string, time.Time) error              { return nil }
func (f *fakeFiles) MarkFailed(context.Context, string, string, string, time.Time) error {
	return nil
}
func (f *fakeFiles) GetOwned(context.Context, string, string) (*models.File, error) {
	return f.file, f.err
}
func (f *fakeFiles) ListOwned(context.Context, string, int, *time.Time, string) ([]*models.File, error) {
	return nil, nil
}

type fakeObjects struct {
	text string
	err  error
}

func (o *fakeObjects) PutObject(context.Context, string, []byte, string) error { return nil }
func (o *fakeObjects) GetObjectText(context.Context, string) (string, error)  { return o.text, o.err }
func (o *fakeObjects) DeleteObject(context.Context, string) error             { return nil }

func newTestService(files *fakeFiles, objects *fakeObjects) *Service {
	logger := common.NewSilentLogger()
	return New(Deps{Files: files, Objects: objects, Logger: logger, Sink: common.NewLoggingEventSink(logger)})
}

func TestGetReport_Success(t *testing.T) {
	files := &fakeFiles{file: &models.File{
		ID: "file-1", Status: models.FileStatusSucceeded, StorageKeyReport: "users/u/files/file-1/report.json",
	}}
	objects := &fakeObjects{text: `{"summary":"ok","items":[]}`}
	svc := newTestService(files, objects)

	report, err := svc.GetReport(context.Background(), "user-1", "file-1")

	require.NoError(t, err)
	assert.Equal(t, "file-1", report.ID)
	assert.JSONEq(t, `{"summary":"ok","items":[]}`, string(report.ReportJSON))
}

func TestGetReport_NonExistentFileIsNotFound(t *testing.T) {
	svc := newTestService(&fakeFiles{file: nil}, &fakeObjects{})

	_, err := svc.GetReport(context.Background(), "user-1", "missing")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OutcomeNotFound, rerr.Outcome)
	assert.Equal(t, 404, rerr.HTTPStatus)
}

func TestGetReport_NotOwnedIsAlsoNotFound(t *testing.T) {
	// GetOwned already masks non-ownership as a nil result, so the reader
	// cannot distinguish "doesn't exist" from "not mine" — both land here,
	// which is the point (no cross-tenant existence disclosure).
	svc := newTestService(&fakeFiles{file: nil}, &fakeObjects{})

	_, err := svc.GetReport(context.Background(), "someone-else", "file-1")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OutcomeNotFound, rerr.Outcome)
}

func TestGetReport_NotYetSucceededIsNotReady(t *testing.T) {
	files := &fakeFiles{file: &models.File{ID: "file-1", Status: models.FileStatusProcessingRun}}
	svc := newTestService(files, &fakeObjects{})

	_, err := svc.GetReport(context.Background(), "user-1", "file-1")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OutcomeNotReady, rerr.Outcome)
	assert.Equal(t, 409, rerr.HTTPStatus)
}

func TestGetReport_SucceededWithoutReportKeyIsNotReady(t *testing.T) {
	files := &fakeFiles{file: &models.File{ID: "file-1", Status: models.FileStatusSucceeded, StorageKeyReport: ""}}
	svc := newTestService(files, &fakeObjects{})

	_, err := svc.GetReport(context.Background(), "user-1", "file-1")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OutcomeNotReady, rerr.Outcome)
}

func TestGetReport_ObjectStoreFailureIsFetchFailed(t *testing.T) {
	files := &fakeFiles{file: &models.File{ID: "file-1", Status: models.FileStatusSucceeded, StorageKeyReport: "k"}}
	objects := &fakeObjects{err: errors.New("bucket unreachable")}
	svc := newTestService(files, objects)

	_, err := svc.GetReport(context.Background(), "user-1", "file-1")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OutcomeFetchFailed, rerr.Outcome)
	assert.Equal(t, 500, rerr.HTTPStatus)
}

func TestGetReport_CorruptJSONIsFetchFailed(t *testing.T) {
	files := &fakeFiles{file: &models.File{ID: "file-1", Status: models.FileStatusSucceeded, StorageKeyReport: "k"}}
	objects := &fakeObjects{text: "not json"}
	svc := newTestService(files, objects)

	_, err := svc.GetReport(context.Background(), "user-1", "file-1")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OutcomeFetchFailed, rerr.Outcome)
}
