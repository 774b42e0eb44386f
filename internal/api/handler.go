package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eugenenazirov/pack-fulfillment/internal/calculator"
	"github.com/eugenenazirov/pack-fulfillment/internal/metrics"
	"github.com/eugenenazirov/pack-fulfillment/internal/registry"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler wires calculator and registry dependencies into HTTP handlers.
type Handler struct {
	calculator calculator.Calculator
	registry   registry.Registry
	metrics    *metrics.Metrics
	logger     *zap.Logger
	validate   *validator.Validate

	clock func() time.Time

	mu                 sync.RWMutex
	packSizesUpdatedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithMetrics records calculations and registry mutations.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithHandlerLogger sets the logger used for registry mutation events.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(calc calculator.Calculator, reg registry.Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		calculator: calc,
		registry:   reg,
		logger:     zap.NewNop(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.packSizesUpdatedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetPackSizes(w http.ResponseWriter, r *http.Request) {
	sizes, err := h.registry.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.metrics.SetPackSizes(len(sizes))

	resp := packSizesResponse{
		PackSizes: sizes,
		UpdatedAt: h.currentPackSizesUpdatedAt(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAddPackSize(w http.ResponseWriter, r *http.Request) {
	var req addPackSizeRequest
	if !h.decode(w, r, &req, registry.ErrInvalidSize) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidSize, "Invalid pack size", "size must be a positive integer")
		return
	}

	err := h.registry.Add(r.Context(), *req.Size)
	h.afterMutation(w, r, "add", err, http.StatusCreated, "Pack size added successfully",
		zap.Int("size", *req.Size))
}

func (h *Handler) handleReplacePackSize(w http.ResponseWriter, r *http.Request) {
	var req replacePackSizeRequest
	if !h.decode(w, r, &req, registry.ErrInvalidSize) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request", "oldSize and newSize are required")
		return
	}

	err := h.registry.Replace(r.Context(), *req.OldSize, *req.NewSize)
	h.afterMutation(w, r, "replace", err, http.StatusOK, "Pack size updated successfully",
		zap.Int("old_size", *req.OldSize), zap.Int("new_size", *req.NewSize))
}

func (h *Handler) handleRemovePackSize(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("size")
	size, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidSize, "Invalid pack size", fmt.Sprintf("%q is not an integer", raw))
		return
	}

	err = h.registry.Remove(r.Context(), size)
	h.afterMutation(w, r, "remove", err, http.StatusOK, "Pack size removed successfully",
		zap.Int("size", size))
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("quantity")
	quantity, err := strconv.Atoi(raw)
	if err != nil {
		h.metrics.ObserveCalculation(metrics.OutcomeRejected, 0)
		writeError(w, http.StatusBadRequest, codeInvalidQuantity, "Invalid quantity", "quantity must be a non-negative integer")
		return
	}

	packSizes, err := h.registry.List(r.Context())
	if err != nil {
		h.metrics.ObserveCalculation(metrics.OutcomeError, 0)
		h.writeDomainError(w, r, err)
		return
	}
	h.metrics.SetPackSizes(len(packSizes))

	start := time.Now()
	result, calcErr := h.calculator.Calculate(quantity, packSizes)
	elapsed := time.Since(start)

	if calcErr != nil {
		h.metrics.ObserveCalculation(outcomeFor(calcErr), elapsed)
		h.writeDomainError(w, r, calcErr)
		return
	}
	h.metrics.ObserveCalculation(metrics.OutcomeSuccess, elapsed)

	packs := make(map[string]int, len(result.Packs))
	for size, count := range result.Packs {
		packs[strconv.Itoa(size)] = count
	}

	resp := calculateResponse{
		OrderQuantity:     result.OrderQuantity,
		Packs:             packs,
		TotalItems:        result.TotalItems,
		TotalPacks:        result.TotalPacks,
		CalculationTimeMs: elapsed.Milliseconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode parses the JSON body into dst. A well-formed body carrying a value
// of the wrong type is reported with typeErr instead of a generic error.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, typeErr error) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var unmarshalTypeErr *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeErr) {
		h.writeDomainError(w, r, fmt.Errorf("%w: field %s", typeErr, unmarshalTypeErr.Field))
		return false
	}
	writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request", "unable to parse JSON payload")
	return false
}

// afterMutation reports the outcome of a registry mutation and, on success,
// responds with the fresh list of pack sizes.
func (h *Handler) afterMutation(w http.ResponseWriter, r *http.Request, op string, err error, status int, message string, fields ...zap.Field) {
	ctx := r.Context()
	fields = append(fields, zap.String("operation", op), zap.String("request_id", requestIDFromContext(ctx)))

	if err != nil {
		h.metrics.ObserveMutation(op, outcomeFor(err))
		h.logger.Info("pack size mutation rejected", append(fields, zap.Error(err))...)
		h.writeDomainError(w, r, err)
		return
	}

	h.metrics.ObserveMutation(op, metrics.OutcomeSuccess)
	h.markPackSizesUpdated()
	h.logger.Info("pack sizes updated", fields...)

	h.respondWithSizes(w, r, status, message)
}

func (h *Handler) respondWithSizes(w http.ResponseWriter, r *http.Request, status int, message string) {
	sizes, err := h.registry.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.metrics.SetPackSizes(len(sizes))

	resp := packSizesResponse{
		PackSizes: sizes,
		UpdatedAt: h.currentPackSizesUpdatedAt(),
		Message:   message,
	}
	writeJSON(w, status, resp)
}

func (h *Handler) currentPackSizesUpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.packSizesUpdatedAt
}

func (h *Handler) markPackSizesUpdated() {
	h.mu.Lock()
	h.packSizesUpdatedAt = h.clock()
	h.mu.Unlock()
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type addPackSizeRequest struct {
	Size *int `json:"size" validate:"required,gt=0"`
}

type replacePackSizeRequest struct {
	OldSize *int `json:"oldSize" validate:"required"`
	NewSize *int `json:"newSize" validate:"required"`
}

type calculateResponse struct {
	OrderQuantity     int            `json:"orderQuantity"`
	Packs             map[string]int `json:"packs"`
	TotalItems        int            `json:"totalItems"`
	TotalPacks        int            `json:"totalPacks"`
	CalculationTimeMs int64          `json:"calculationTimeMs"`
}

type packSizesResponse struct {
	PackSizes []int     `json:"packSizes"`
	UpdatedAt time.Time `json:"updatedAt"`
	Message   string    `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
