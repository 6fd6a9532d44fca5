// Package objectstore implements the S3-compatible object store adapter
// from spec.md §4.2. It fills an extension point a prior
// internal/storage/factory.go anticipated but stubbed out
// ("S3 blob store not yet implemented (coming in Phase 2)"), built on the
// aws-sdk-go-v2 S3 client already carried as an indirect dependency.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// defaultRequestTimeout is the fallback per-call bound used when a Store
// is constructed with a zero/negative TimeoutMS. Production wiring always
// supplies internal/common.Config's derived object-store timeout instead
// (spec.md §5's "≥ 30s" floor).
const defaultRequestTimeout = 30 * time.Second

// Config is the enumerated configuration from spec.md §4.2. All fields
// except TimeoutMS are required; TimeoutMS is the SPEC_FULL.md §10
// addition bounding every request this adapter issues (spec.md §5).
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	TimeoutMS       int
}

// Store implements interfaces.ObjectStore against an S3-compatible
// endpoint with path-style addressing forced, per spec.md §4.2. It does
// not retry internally — all retry policy belongs to the worker runtime.
type Store struct {
	client  *s3.Client
	bucket  string
	logger  *common.Logger
	timeout time.Duration
}

// New constructs a Store from cfg.
func New(ctx context.Context, cfg Config, logger *common.Logger) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
		o.RetryMaxAttempts = 1
	})

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Store{client: client, bucket: cfg.Bucket, logger: logger, timeout: timeout}, nil
}

// withTimeout derives a bounded context for a single object-store
// request, per spec.md §5's "DB and object-store calls bounded by
// per-call timeouts."
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// PutObject writes body to key.
func (s *Store) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put_object %s: %w", key, classify(err, taxonomy.CodeS3PutFailed, taxonomy.CodeS3WriteFailed))
	}
	return nil
}

// GetObjectText reads key as UTF-8 text.
func (s *Store) GetObjectText(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("s3 get_object %s: %w", key, classify(err, taxonomy.CodeS3ReadFailed, taxonomy.CodeS3ReadFailed))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("s3 read body %s: %w", key, classify(err, taxonomy.CodeS3ReadFailed, taxonomy.CodeS3ReadFailed))
	}
	return string(data), nil
}

// DeleteObject removes key. Used only for best-effort compensation —
// callers treat failure as a diagnostic event, never a hard error.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete_object %s: %w", key, classify(err, taxonomy.CodeS3WriteFailed, taxonomy.CodeS3WriteFailed))
	}
	return nil
}

// classify maps a transport error to a typed failure carrying the HTTP
// status code when the SDK surfaces one, per spec.md §4.2 and §4.1's
// classification rules. Statuses ClassifyHTTPStatus treats as retriable
// (429, 5xx, timeouts, network errors) get retriableCode; any other
// failure gets fatalCode.
func classify(err error, fatalCode, retriableCode taxonomy.Code) error {
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	classified := taxonomy.ClassifyHTTPStatus(status, err, retriableCode, retriableCode, retriableCode, fatalCode)
	return &ClassifiedError{Classified: classified, Cause: err}
}

// ClassifiedError wraps a taxonomy.Classified alongside the original
// error so upstream code can both classify and log with %w.
type ClassifiedError struct {
	Classified taxonomy.Classified
	Cause      error
}

func (e *ClassifiedError) Error() string { return e.Classified.Message }
func (e *ClassifiedError) Unwrap() error { return e.Cause }

// ClassifiedOutcome returns the {code, retriable, message} triple, so
// callers outside this package (internal/pipeline) can recover it without
// importing this package's concrete type.
func (e *ClassifiedError) ClassifiedOutcome() taxonomy.Classified { return e.Classified }
