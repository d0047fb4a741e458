// -----------------------------------------------------------------------
// Error taxonomy - typed scrape errors with retry classification, plus
// the API error codes mapped onto HTTP statuses
// -----------------------------------------------------------------------

package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// RetryClass drives the worker's retry decision for a failed run.
type RetryClass string

const (
	// RetryTransient failures (timeout, connection reset, 429, 5xx) are
	// retried with backoff until the board's retry budget is exhausted.
	RetryTransient RetryClass = "transient"
	// RetryPermanent failures (parse errors, selector mismatches, other
	// 4xx) fail the job immediately.
	RetryPermanent RetryClass = "permanent"
	// RetryInternal marks unexpected panics and programming errors.
	RetryInternal RetryClass = "internal"
)

// ErrorCode identifies a scrape failure cause.
type ErrorCode string

const (
	ErrCodeTimeout         ErrorCode = "timeout"
	ErrCodeConnectionReset ErrorCode = "connection_reset"
	ErrCodeRateLimited     ErrorCode = "rate_limited"
	ErrCodeServerError     ErrorCode = "server_error"
	ErrCodeClientError     ErrorCode = "client_error"
	ErrCodeParseFailure    ErrorCode = "parse_failure"
	ErrCodeSelectorMiss    ErrorCode = "selector_mismatch"
	ErrCodeInternal        ErrorCode = "internal"
)

// ScrapeError is a classified failure in the scrape path.
type ScrapeError struct {
	Code       ErrorCode
	RetryClass RetryClass
	HTTPStatus int
	Message    string
	Err        error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the worker should retry the same page.
func (e *ScrapeError) Retryable() bool {
	return e.RetryClass == RetryTransient
}

// NewScrapeError builds a classified error with a message.
func NewScrapeError(code ErrorCode, class RetryClass, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, RetryClass: class, Message: message, Err: err}
}

// ParseError wraps an extractor failure as permanent.
func ParseError(message string, err error) *ScrapeError {
	return &ScrapeError{Code: ErrCodeParseFailure, RetryClass: RetryPermanent, Message: message, Err: err}
}

// InternalError wraps a recovered panic or programming error.
func InternalError(message string, err error) *ScrapeError {
	return &ScrapeError{Code: ErrCodeInternal, RetryClass: RetryInternal, Message: message, Err: err}
}

// Classify maps an HTTP status code or transport error onto the taxonomy.
// statusCode 0 means no response was received and err carries the cause.
func Classify(statusCode int, err error) *ScrapeError {
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
			return &ScrapeError{Code: ErrCodeTimeout, RetryClass: RetryTransient, Message: "request timed out", Err: err}
		case errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE):
			return &ScrapeError{Code: ErrCodeConnectionReset, RetryClass: RetryTransient, Message: "connection failed", Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &ScrapeError{Code: ErrCodeTimeout, RetryClass: RetryTransient, Message: "request timed out", Err: err}
		}
		// Transport-level failures without a clearer signal are treated as
		// transient so a flaky network does not fail the whole job.
		if strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "EOF") {
			return &ScrapeError{Code: ErrCodeConnectionReset, RetryClass: RetryTransient, Message: "connection failed", Err: err}
		}
		return &ScrapeError{Code: ErrCodeConnectionReset, RetryClass: RetryTransient, Message: "transport failure", Err: err}
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &ScrapeError{Code: ErrCodeRateLimited, RetryClass: RetryTransient, HTTPStatus: statusCode, Message: "rate limited by remote"}
	case statusCode >= 500:
		return &ScrapeError{Code: ErrCodeServerError, RetryClass: RetryTransient, HTTPStatus: statusCode, Message: fmt.Sprintf("server error %d", statusCode)}
	case statusCode >= 400:
		return &ScrapeError{Code: ErrCodeClientError, RetryClass: RetryPermanent, HTTPStatus: statusCode, Message: fmt.Sprintf("client error %d", statusCode)}
	default:
		return nil
	}
}

// API error codes, one per HTTP status class used by the control surface.
const (
	APICodeValidation    = "VALIDATION_ERROR"   // 400
	APICodeUnauthorized  = "UNAUTHORIZED"       // 401
	APICodeNotFound      = "NOT_FOUND"          // 404
	APICodeConflict      = "CONFLICT"           // 409
	APICodeUnprocessable = "UNPROCESSABLE"      // 422
	APICodeRateLimited   = "RATE_LIMITED"       // 429
	APICodeInternal      = "INTERNAL_ERROR"     // 500
	APICodeUnavailable   = "DEPENDENCY_FAILURE" // 503
)

// APIStatusFor maps an API error code onto its HTTP status.
func APIStatusFor(code string) int {
	switch code {
	case APICodeValidation:
		return http.StatusBadRequest
	case APICodeUnauthorized:
		return http.StatusUnauthorized
	case APICodeNotFound:
		return http.StatusNotFound
	case APICodeConflict:
		return http.StatusConflict
	case APICodeUnprocessable:
		return http.StatusUnprocessableEntity
	case APICodeRateLimited:
		return http.StatusTooManyRequests
	case APICodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
