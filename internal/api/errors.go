package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/eugenenazirov/pack-fulfillment/internal/calculator"
	"github.com/eugenenazirov/pack-fulfillment/internal/metrics"
	"github.com/eugenenazirov/pack-fulfillment/internal/registry"
)

// Machine-readable error codes returned in the "code" field.
const (
	codeInvalidSize      = "INVALID_SIZE"
	codeDuplicateSize    = "DUPLICATE_SIZE"
	codeNotFound         = "NOT_FOUND"
	codeNoPackSizes      = "NO_PACK_SIZES_CONFIGURED"
	codeInvalidQuantity  = "INVALID_QUANTITY"
	codeInvalidRequest   = "INVALID_REQUEST"
	codeSizeLimit        = "PACK_SIZE_LIMIT_REACHED"
	codeTooManySizes     = "TOO_MANY_PACK_SIZES"
	codeUnavailable      = "REGISTRY_UNAVAILABLE"
	codeRateLimited      = "RATE_LIMITED"
	codeRouteNotFound    = "ROUTE_NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	codeInternal         = "INTERNAL"
)

type errorResponse struct {
	Code       string `json:"code"`
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type domainError struct {
	target     error
	status     int
	code       string
	message    string
	suggestion string
	opaque     bool // cause is logged, not returned
}

var domainErrors = []domainError{
	{target: registry.ErrInvalidSize, status: http.StatusBadRequest, code: codeInvalidSize, message: "Invalid pack size"},
	{target: registry.ErrDuplicateSize, status: http.StatusConflict, code: codeDuplicateSize, message: "Pack size already exists"},
	{target: registry.ErrNotFound, status: http.StatusNotFound, code: codeNotFound, message: "Pack size not found"},
	{target: registry.ErrTooManySizes, status: http.StatusConflict, code: codeSizeLimit, message: "Pack size limit reached",
		suggestion: "Remove or replace an existing pack size"},
	{target: registry.ErrUnavailable, status: http.StatusServiceUnavailable, code: codeUnavailable, message: "Pack size registry unavailable",
		suggestion: "Retry shortly", opaque: true},
	{target: context.DeadlineExceeded, status: http.StatusServiceUnavailable, code: codeUnavailable, message: "Pack size registry timed out",
		suggestion: "Retry shortly", opaque: true},
	{target: context.Canceled, status: http.StatusServiceUnavailable, code: codeUnavailable, message: "Request cancelled", opaque: true},
	{target: calculator.ErrNoPackSizes, status: http.StatusUnprocessableEntity, code: codeNoPackSizes, message: "No pack sizes configured",
		suggestion: "Add a pack size via POST /api/pack-sizes"},
	{target: calculator.ErrInvalidQuantity, status: http.StatusBadRequest, code: codeInvalidQuantity, message: "Invalid quantity"},
	{target: calculator.ErrTooManyPackSizes, status: http.StatusUnprocessableEntity, code: codeTooManySizes, message: "Too many pack sizes configured",
		suggestion: "Remove pack sizes via DELETE /api/pack-sizes/{size}"},
}

// writeDomainError maps calculator and registry errors onto HTTP responses.
// Anything unrecognised is logged and becomes a 500 without the cause.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, de := range domainErrors {
		if !errors.Is(err, de.target) {
			continue
		}
		details := err.Error()
		if de.opaque {
			h.logger.Warn("pack size registry call failed",
				zap.Error(err),
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestIDFromContext(r.Context())),
			)
			details = ""
		}
		if de.suggestion != "" {
			writeError(w, de.status, de.code, de.message, details, de.suggestion)
		} else {
			writeError(w, de.status, de.code, de.message, details)
		}
		return
	}

	h.logger.Error("unhandled error",
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestIDFromContext(r.Context())),
	)
	writeInternalError(w)
}

// outcomeFor classifies err for the metrics outcome label.
func outcomeFor(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, registry.ErrUnavailable), errors.Is(err, calculator.ErrInvalidPackSizes),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeError
	}
	for _, de := range domainErrors {
		if errors.Is(err, de.target) {
			return metrics.OutcomeRejected
		}
	}
	return metrics.OutcomeError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message, details string, suggestion ...string) {
	resp := errorResponse{
		Code:    code,
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, codeInternal, "Internal error", "unexpected server error")
}
