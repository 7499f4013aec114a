package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// queryInt parses an optional integer query parameter, clamped to
// [0, maxValue].
func queryInt(r *http.Request, name string, def, maxValue int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return min(n, maxValue), true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorCodes maps domain sentinels to status and a machine-readable code.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrValidation, http.StatusBadRequest, "validation"},
	{domain.ErrInvalidCondition, http.StatusUnprocessableEntity, "invalid_condition"},
	{domain.ErrInvalidTrigger, http.StatusUnprocessableEntity, "invalid_trigger"},
	{domain.ErrStaleTarget, http.StatusUnprocessableEntity, "stale_target"},
	{domain.ErrPrecondition, http.StatusUnprocessableEntity, "precondition_failed"},
	{domain.ErrChannelFetch, http.StatusBadGateway, "channel_fetch"},
}

func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	for _, ec := range errorCodes {
		if !errors.Is(err, ec.err) {
			continue
		}
		msg := err.Error()
		if ec.status == http.StatusNotFound && fallbackMsg != "" {
			msg = fallbackMsg
		}
		if ec.err == domain.ErrValidation {
			msg = strings.TrimPrefix(msg, domain.ErrValidation.Error()+": ")
		}
		writeJSON(w, ec.status, errorResponse{Error: msg, Code: ec.code})
		return
	}
	writeInternalError(w, err)
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
