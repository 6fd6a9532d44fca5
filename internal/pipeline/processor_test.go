package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type fakeObjects struct {
	mu        sync.Mutex
	texts     map[string]string
	getErr    error
	putErr    error
	deleteErr error
	puts      []string
	deletes   []string
}

func (o *fakeObjects) GetObjectText(_ context.Context, key string) (string, error) {
	if o.getErr != nil {
		return "", o.getErr
	}
	return o.texts[key], nil
}

func (o *fakeObjects) PutObject(_ context.Context, key string, _ []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.putErr != nil {
		return o.putErr
	}
	o.puts = append(o.puts, key)
	return nil
}

func (o *fakeObjects) DeleteObject(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleteErr != nil {
		return o.deleteErr
	}
	o.deletes = append(o.deletes, key)
	return nil
}

type fakeLLM struct {
	out *interfaces.LLMOutput
	err error
}

func (l *fakeLLM) Analyze(context.Context, interfaces.LLMInput) (*interfaces.LLMOutput, error) {
	return l.out, l.err
}

type fakeValidator struct {
	result interfaces.ValidationResult
}

func (v *fakeValidator) Validate(string, []byte) interfaces.ValidationResult { return v.result }

type fakeJobs struct {
	finalizeSuccessErr error
	saveRawErr         error
	finalizedSuccess   bool
	savedRawKey        string
}

func (j *fakeJobs) Enqueue(context.Context, string, time.Time) error { return nil }
func (j *fakeJobs) Claim(context.Context, string, time.Time) (*models.ProcessingJob, *models.FileContext, error) {
	return nil, nil, nil
}
func (j *fakeJobs) Heartbeat(context.Context, string, string, time.Time) error { return nil }
func (j *fakeJobs) FinalizeSuccess(context.Context, string, string, interfaces.ReportMetadata, time.Time) error {
	if j.finalizeSuccessErr != nil {
		return j.finalizeSuccessErr
	}
	j.finalizedSuccess = true
	return nil
}
func (j *fakeJobs) FinalizeFailure(context.Context, string, string, taxonomy.Classified, time.Time) error {
	return nil
}
func (j *fakeJobs) SaveRawMetadata(_ context.Context, _ string, rawKey string) error {
	if j.saveRawErr != nil {
		return j.saveRawErr
	}
	j.savedRawKey = rawKey
	return nil
}
func (j *fakeJobs) GetFileContext(context.Context, string) (*models.FileContext, error) { return nil, nil }

type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeSink) Emit(_ context.Context, name string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
}

func testJob() *models.ProcessingJob { return &models.ProcessingJob{ID: "job-1"} }
func testFC() *models.FileContext {
	return &models.FileContext{FileID: "file-1", UserID: "user-1", StorageKeyOriginal: "users/user-1/files/file-1/original.txt"}
}

func TestProcess_Success(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{
		"users/user-1/files/file-1/original.txt": "hello there",
	}}
	llm := &fakeLLM{out: &interfaces.LLMOutput{ParsedJSON: []byte(`{"summary":"ok","items":[]}`), RawText: `{"summary":"ok","items":[]}`}}
	validator := &fakeValidator{result: interfaces.ValidationResult{OK: true}}
	jobs := &fakeJobs{}
	sink := &fakeSink{}

	p := New(Deps{Jobs: jobs, Objects: objects, LLM: llm, Validator: validator, Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: sink})

	err := p.Process(context.Background(), testJob(), testFC(), Params{PromptVersion: "v1", SchemaVersion: "v1"})

	require.NoError(t, err)
	assert.True(t, jobs.finalizedSuccess)
	assert.Contains(t, objects.puts, "users/user-1/files/file-1/report.json")
}

func TestProcess_NilFileContextIsFatal(t *testing.T) {
	p := New(Deps{Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: &fakeSink{}})

	err := p.Process(context.Background(), testJob(), nil, Params{})

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, taxonomy.CodeFileContextNotFound, cerr.Classified.Code)
	assert.False(t, cerr.Classified.Retriable)
}

func TestProcess_EmptyTranscriptIsFatal(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{"users/user-1/files/file-1/original.txt": "   "}}
	p := New(Deps{Objects: objects, Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: &fakeSink{}})

	err := p.Process(context.Background(), testJob(), testFC(), Params{})

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, taxonomy.CodeEmptyOriginalTranscript, cerr.Classified.Code)
}

func TestProcess_ObjectReadFailurePropagatesAsS3ReadFailed(t *testing.T) {
	objects := &fakeObjects{getErr: errors.New("ECONNRESET")}
	p := New(Deps{Objects: objects, Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: &fakeSink{}})

	err := p.Process(context.Background(), testJob(), testFC(), Params{})

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, taxonomy.CodeS3ReadFailed, cerr.Classified.Code)
}

func TestProcess_LLMCallFailurePropagates(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{"users/user-1/files/file-1/original.txt": "hi"}}
	llm := &fakeLLM{err: errors.New("provider unavailable")}
	p := New(Deps{Objects: objects, LLM: llm, Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: &fakeSink{}})

	err := p.Process(context.Background(), testJob(), testFC(), Params{})

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, taxonomy.CodeLLMCallFailed, cerr.Classified.Code)
}

func TestProcess_SchemaValidationFailurePersistsRawOutput(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{"users/user-1/files/file-1/original.txt": "hi"}}
	raw := `{"nonsense": true}`
	llm := &fakeLLM{out: &interfaces.LLMOutput{ParsedJSON: []byte(raw), RawText: raw}}
	validator := &fakeValidator{result: interfaces.ValidationResult{OK: false, Summary: "missing required field"}}
	jobs := &fakeJobs{}

	p := New(Deps{Jobs: jobs, Objects: objects, LLM: llm, Validator: validator, Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: &fakeSink{}})

	err := p.Process(context.Background(), testJob(), testFC(), Params{})

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, taxonomy.CodeSchemaValidationFailed, cerr.Classified.Code)
	assert.False(t, cerr.Classified.Retriable)
	assert.Contains(t, objects.puts, "users/user-1/files/file-1/raw_llm_output.json")
	assert.Equal(t, "users/user-1/files/file-1/raw_llm_output.json", jobs.savedRawKey)
}

func TestProcess_ReportWriteFailurePropagates(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{"users/user-1/files/file-1/original.txt": "hi"}, putErr: errors.New("disk full")}
	llm := &fakeLLM{out: &interfaces.LLMOutput{ParsedJSON: []byte(`{"summary":"ok","items":[]}`)}}
	validator := &fakeValidator{result: interfaces.ValidationResult{OK: true}}

	p := New(Deps{Objects: objects, LLM: llm, Validator: validator, Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: &fakeSink{}})

	err := p.Process(context.Background(), testJob(), testFC(), Params{})

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, taxonomy.CodeS3WriteFailed, cerr.Classified.Code)
}

func TestProcess_FinalizeFailureWithFailedDeleteEmitsOrphanReportEvent(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{"users/user-1/files/file-1/original.txt": "hi"}, deleteErr: errors.New("not found")}
	llm := &fakeLLM{out: &interfaces.LLMOutput{ParsedJSON: []byte(`{"summary":"ok","items":[]}`)}}
	validator := &fakeValidator{result: interfaces.ValidationResult{OK: true}}
	jobs := &fakeJobs{finalizeSuccessErr: errors.New("db connection dropped")}
	sink := &fakeSink{}

	p := New(Deps{Jobs: jobs, Objects: objects, LLM: llm, Validator: validator, Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: sink})

	err := p.Process(context.Background(), testJob(), testFC(), Params{})

	var cerr *ClassifiedError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, taxonomy.CodeDBUpdateFailed, cerr.Classified.Code)
	assert.Contains(t, sink.events, "orphan_report_object")
}

func TestProcess_FinalizeFailureDeletesReportWithoutEventOnSuccessfulCleanup(t *testing.T) {
	objects := &fakeObjects{texts: map[string]string{"users/user-1/files/file-1/original.txt": "hi"}}
	llm := &fakeLLM{out: &interfaces.LLMOutput{ParsedJSON: []byte(`{"summary":"ok","items":[]}`)}}
	validator := &fakeValidator{result: interfaces.ValidationResult{OK: true}}
	jobs := &fakeJobs{finalizeSuccessErr: errors.New("db connection dropped")}
	sink := &fakeSink{}

	p := New(Deps{Jobs: jobs, Objects: objects, LLM: llm, Validator: validator, Logger: common.NewSilentLogger(), Clock: fakeClock{}, Sink: sink})

	err := p.Process(context.Background(), testJob(), testFC(), Params{})

	require.Error(t, err)
	assert.Contains(t, objects.deletes, "users/user-1/files/file-1/report.json")
	assert.NotContains(t, sink.events, "orphan_report_object")
}

func TestRawOutputSampleParsesAsJSON(t *testing.T) {
	raw := `{"summary":"partial"}`
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, "partial", doc["summary"])
}
