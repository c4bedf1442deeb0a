// Package httpx holds the JSON request and response helpers shared by the REST handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// MaxBodyBytes caps request bodies decoded by DecodeJSON.
const MaxBodyBytes = 1 << 20

// Error codes returned in APIError.Code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeGone           = "GONE"
	CodeUnprocessable  = "UNPROCESSABLE"
	CodeInternal       = "INTERNAL_ERROR"
	CodeUnavailable    = "UNAVAILABLE"
	CodeRateLimited    = "RATE_LIMITED"
)

// APIError is the body of every non-2xx JSON response.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RespondJSON writes data as JSON with status.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an APIError.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, APIError{Error: message, Code: code})
}

// DecodeJSON reads a single JSON object from r's body into v, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// Paging parses limit and offset query parameters. limit defaults to def and is capped at max.
func Paging(r *http.Request, def, max int) (limit, offset int) {
	q := r.URL.Query()
	limit = def
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if limit > max {
		limit = max
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}
