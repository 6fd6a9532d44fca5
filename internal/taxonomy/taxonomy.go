// Package taxonomy implements the closed error-code classification shared
// by the object store, LLM, and database-facing layers (spec.md §4.1).
// Every layer that talks to a durable backend wraps its raw error with
// fmt.Errorf as usual, then asks this package to classify the wrapped
// chain into a stable {code, retriable} pair the job repository can act
// on.
package taxonomy

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// Code is one of the closed set of error_code values from spec.md §4.1.
type Code string

const (
	// Retriable
	CodeLLMTimeout      Code = "llm_timeout"
	CodeLLMRateLimited  Code = "llm_rate_limited"
	CodeLLMTransient    Code = "llm_transient"
	CodeS3ReadFailed    Code = "s3_read_failed"
	CodeS3WriteFailed   Code = "s3_write_failed"
	CodeDBUpdateFailed  Code = "db_update_failed"

	// Fatal
	CodeLLMCallFailed           Code = "llm_call_failed"
	CodeSchemaValidationFailed  Code = "schema_validation_failed"
	CodeFileContextNotFound     Code = "file_context_not_found"
	CodeEmptyOriginalTranscript Code = "empty_original_transcript"
	CodeEnqueueFailed           Code = "enqueue_failed"
	CodeS3PutFailed             Code = "s3_put_failed"
	CodeInvalidFileType         Code = "invalid_file_type"
	CodeFileTooLarge            Code = "file_too_large"
)

// retriableCodes is the subset of Code values that Retriable reports as
// retriable (schema failures, missing context, and the like are not in
// it). The classifiers below set Classified.Retriable per failure and can
// return these codes with Retriable false.
var retriableCodes = map[Code]bool{
	CodeLLMTimeout:     true,
	CodeLLMRateLimited: true,
	CodeLLMTransient:   true,
	CodeS3ReadFailed:   true,
	CodeS3WriteFailed:  true,
	CodeDBUpdateFailed: true,
}

// Retriable reports whether code is in the retriable set.
func Retriable(code Code) bool {
	return retriableCodes[code]
}

// Classified is the {code, retriable, message} triple every classifier
// returns.
type Classified struct {
	Code      Code
	Retriable bool
	Message   string
}

// MaxMessageLen is the sanitization bound from spec.md §4.1 — error
// messages surfaced by the core are never longer than this, and never
// contain raw transcripts or model output.
const MaxMessageLen = 280

// Sanitize collapses whitespace, trims, and truncates msg to MaxMessageLen
// runes. Every error message the core persists or logs passes through
// here first.
func Sanitize(msg string) string {
	fields := strings.Fields(msg)
	joined := strings.Join(fields, " ")
	r := []rune(joined)
	if len(r) > MaxMessageLen {
		return string(r[:MaxMessageLen])
	}
	return joined
}

// networkTransientCodes mirrors the POSIX network error codes spec.md
// §4.1 names as retriable.
var networkTransientCodes = []string{
	"ECONNRESET", "ECONNREFUSED", "ENETUNREACH", "EHOSTUNREACH", "ETIMEDOUT", "EAI_AGAIN",
}

// ClassifyHTTPStatus classifies a transport error that carries an HTTP
// status code, used by the object store and LLM adapters. status 0 means
// no status was observed (pure network failure).
func ClassifyHTTPStatus(status int, err error, timeoutCode, rateLimitCode, transientCode, fatalCode Code) Classified {
	msg := Sanitize(errMsg(err))

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Classified{Code: timeoutCode, Retriable: Retriable(timeoutCode), Message: msg}
		}
		for _, code := range networkTransientCodes {
			if strings.Contains(err.Error(), code) {
				return Classified{Code: transientCode, Retriable: Retriable(transientCode), Message: msg}
			}
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return Classified{Code: rateLimitCode, Retriable: Retriable(rateLimitCode), Message: msg}
	case status >= 500 && status < 600:
		return Classified{Code: transientCode, Retriable: Retriable(transientCode), Message: msg}
	case status >= 400 && status < 500:
		return Classified{Code: fatalCode, Retriable: false, Message: msg}
	default:
		// Unknown errors default to non-retriable to avoid infinite loops
		// (spec.md §7).
		return Classified{Code: fatalCode, Retriable: false, Message: msg}
	}
}

// sqlStateRetriable reports whether a Postgres SQLSTATE is one of the
// transient classes named in spec.md §4.1: connection exceptions (08),
// insufficient resources (53), serialization failure (40001), and
// deadlock detected (40P01).
func sqlStateRetriable(sqlState string) bool {
	if strings.HasPrefix(sqlState, "08") || strings.HasPrefix(sqlState, "53") {
		return true
	}
	return sqlState == "40001" || sqlState == "40P01"
}

// ClassifyDB classifies a database error given its SQLSTATE (empty string
// if unknown, e.g. a context deadline or connection-pool error rather
// than a server-returned error).
func ClassifyDB(sqlState string, err error) Classified {
	msg := Sanitize(errMsg(err))
	// Unknown errors default to non-retriable to avoid infinite loops
	// (spec.md §7).
	retriable := sqlState != "" && sqlStateRetriable(sqlState)
	return Classified{Code: CodeDBUpdateFailed, Retriable: retriable, Message: msg}
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
