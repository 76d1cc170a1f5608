package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/pkg/repo"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// classify maps an engine error to an HTTP status and a short code.
// Evaluation and parse failures are checked before ErrUpstream since
// they may wrap one.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, domain.ErrRowOutOfRange):
		return http.StatusBadRequest, "row_out_of_range"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrDatasetNotFound):
		return http.StatusNotFound, "dataset_not_found"
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, "index_unavailable"
	case errors.Is(err, domain.ErrEvaluationFailed):
		return http.StatusFailedDependency, "evaluation_failed"
	case errors.Is(err, domain.ErrMalformedOutput):
		return http.StatusFailedDependency, "malformed_output"
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, "upstream"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs err and writes the mapped status. Internal errors are
// not echoed to the client.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, code := classify(err)
	body := errorBody{Error: code, Detail: err.Error()}
	if status == http.StatusInternalServerError {
		body.Detail = ""
		log.Error("request failed", "err", err)
	} else {
		log.Warn("request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

func invalid(field, value string) error {
	return domain.NewValidationError(field, value, domain.ErrInvalidInput)
}
