// -----------------------------------------------------------------------
// Shared handler plumbing - response envelopes, pagination, body decoding
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	maxBodyBytes     = 1 << 20 // 1 MiB request body cap
)

// ErrorResponse is the uniform error envelope for every API failure.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ListResponse wraps paginated collection responses.
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
	Skip  int         `json:"skip"`
	Limit int         `json:"limit"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes the standard error envelope, carrying the request
// correlation ID when present.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:         code,
		Message:       message,
		CorrelationID: common.CorrelationIDFromContext(r.Context()),
	})
}

// WriteErrorDetail is WriteError with an extra detail string.
func WriteErrorDetail(w http.ResponseWriter, r *http.Request, statusCode int, code, message, detail string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:         code,
		Message:       message,
		Detail:        detail,
		CorrelationID: common.CorrelationIDFromContext(r.Context()),
	})
}

// WriteStorageError maps storage sentinel errors onto HTTP statuses.
func WriteStorageError(w http.ResponseWriter, r *http.Request, err error, entity string) {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", entity))
	case errors.Is(err, interfaces.ErrDuplicate):
		WriteError(w, r, http.StatusConflict, "DUPLICATE", fmt.Sprintf("%s already exists", entity))
	case errors.Is(err, interfaces.ErrVersionConflict):
		WriteError(w, r, http.StatusConflict, "VERSION_CONFLICT", fmt.Sprintf("%s was modified concurrently, retry", entity))
	default:
		WriteError(w, r, http.StatusInternalServerError, "INTERNAL", fmt.Sprintf("failed to access %s", entity))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}

// WriteList writes the paginated collection envelope.
func WriteList(w http.ResponseWriter, items interface{}, total int, opts interfaces.ListOptions) {
	WriteJSON(w, http.StatusOK, ListResponse{
		Items: items,
		Total: total,
		Skip:  opts.Skip,
		Limit: opts.Limit,
	})
}

// ParseListOptions reads skip/limit query parameters with clamped bounds.
func ParseListOptions(r *http.Request) interfaces.ListOptions {
	opts := interfaces.ListOptions{Skip: 0, Limit: defaultPageLimit}

	if raw := r.URL.Query().Get("skip"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			opts.Skip = parsed
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 1 {
			if parsed > maxPageLimit {
				parsed = maxPageLimit
			}
			opts.Limit = parsed
		}
	}
	return opts
}

// DecodeBody decodes a JSON request body into dst, rejecting unknown fields
// and oversized bodies.
func DecodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		WriteErrorDetail(w, r, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON for this operation", err.Error())
		return false
	}
	return true
}

// PathSegment returns the nth segment of the request path (0-based), or ""
// when the path is shorter. "/api/jobs/abc/pause" segment 2 is "abc".
func PathSegment(r *http.Request, n int) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if n < 0 || n >= len(parts) {
		return ""
	}
	return parts[n]
}

// RequireMethod enforces the HTTP method, writing 405 on mismatch.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", fmt.Sprintf("use %s for this endpoint", method))
		return false
	}
	return true
}
