package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/cdv/internal/engine"
)

// Problem implements RFC 7807 (Problem Details for HTTP APIs) with a
// machine-readable code extension.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// writeProblem writes an RFC 7807 response enriched with request context.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	problem := &Problem{
		Type:     fmt.Sprintf("https://cdv.dev/errors/%d", status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Code:     code,
		TraceID:  middleware.GetReqID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, string(engine.ErrCodeInvalidRequest), detail)
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="cdv"`)
	writeProblem(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", detail)
}

func writeForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	writeProblem(w, r, http.StatusForbidden, "FORBIDDEN", detail)
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	writeProblem(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded. Retry after the specified interval.")
}

// writeInternal logs err and hides it from the client.
func writeInternal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.ErrorContext(r.Context(), "internal server error", "path", r.URL.Path, "error", err)
	writeProblem(w, r, http.StatusInternalServerError, "INTERNAL", "An unexpected error occurred. Please try again later.")
}

// writeError maps an engine error onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		writeInternal(w, r, logger, err)
		return
	}
	status := statusFor(ee)
	if status >= 500 {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", ee.Code, "error", err)
	}
	if ee.Kind == engine.KindTransient {
		w.Header().Set("Retry-After", "5")
	}
	writeProblem(w, r, status, string(ee.Code), ee.Message)
}

func statusFor(ee *engine.EngineError) int {
	if ee.Code == engine.ErrCodeNotFound {
		return http.StatusNotFound
	}
	switch ee.Kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindState, engine.KindConflict:
		return http.StatusConflict
	case engine.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
