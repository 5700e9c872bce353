// Package handlers provides HTTP handlers for optimization runs, block size
// selection and option pricing.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/mbbfolio/internal/domain"
	"github.com/aristath/mbbfolio/internal/modules/pricing"
	"github.com/aristath/mbbfolio/internal/modules/simulation"
	"github.com/aristath/mbbfolio/pkg/formulas"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Runner executes optimization runs.
type Runner interface {
	Run(ctx context.Context, assets []domain.AssetInput, params domain.RunParams) (*domain.Run, error)
	RunForSymbols(ctx context.Context, symbols []string, params domain.RunParams) (*domain.Run, error)
}

// RunReader reads persisted runs.
type RunReader interface {
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	List(ctx context.Context, limit int) ([]*domain.Run, error)
}

// Handler handles optimizer and pricing HTTP requests
type Handler struct {
	runner   Runner
	runs     RunReader
	defaults domain.RunParams
	log      zerolog.Logger
}

// NewHandler creates a new optimizer handler. defaults fill every run
// parameter a request leaves out.
func NewHandler(runner Runner, runs RunReader, defaults domain.RunParams, log zerolog.Logger) *Handler {
	return &Handler{
		runner:   runner,
		runs:     runs,
		defaults: defaults,
		log:      log.With().Str("handler", "optimizer").Logger(),
	}
}

// RunRequest is the body of POST /api/optimizer/run. Either Assets or Symbols
// must be set; Assets wins when both are.
type RunRequest struct {
	Assets  []domain.AssetInput `json:"assets"`
	Symbols []string            `json:"symbols"`
	Params  json.RawMessage     `json:"params"`
}

// HandleRun handles POST /api/optimizer/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	params := h.defaults
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			http.Error(w, "Invalid params", http.StatusBadRequest)
			return
		}
	}

	var (
		run *domain.Run
		err error
	)
	switch {
	case len(req.Assets) > 0:
		run, err = h.runner.Run(r.Context(), req.Assets, params)
	case len(req.Symbols) > 0:
		run, err = h.runner.RunForSymbols(r.Context(), req.Symbols, params)
	default:
		http.Error(w, "Either assets or symbols is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, "Optimization run failed", err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(run))
}

// HandleListRuns handles GET /api/optimizer/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	}))
}

// HandleGetRun handles GET /api/optimizer/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to get run", err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(run))
}

// BlockSizeRequest is the body of POST /api/optimizer/block-size. Prices are
// converted to log-returns when LogReturns is empty.
type BlockSizeRequest struct {
	LogReturns []float64 `json:"log_returns"`
	Prices     []float64 `json:"prices"`
	Method     string    `json:"method"`
	Statistic  string    `json:"statistic"`
	Seed       int64     `json:"seed"`
}

// HandleBlockSize handles POST /api/optimizer/block-size
func (h *Handler) HandleBlockSize(w http.ResponseWriter, r *http.Request) {
	var req BlockSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	series, err := seriesFrom(req.LogReturns, req.Prices)
	if err != nil {
		h.writeError(w, "Invalid series", err)
		return
	}
	method, err := simulation.ParseBlockSizeMethod(req.Method)
	if err != nil {
		h.writeError(w, "Invalid method", err)
		return
	}
	statistic, err := simulation.ParseBlockStatistic(req.Statistic)
	if err != nil {
		h.writeError(w, "Invalid statistic", err)
		return
	}

	seed := req.Seed
	if seed == 0 {
		seed = h.defaults.Seed
	}
	blockSize, err := simulation.ChooseBlockSize(series, method, statistic, simulation.NewSource(seed))
	if err != nil {
		h.writeError(w, "Block size selection failed", err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"block_size":  blockSize,
		"method":      method,
		"statistic":   statistic,
		"theoretical": simulation.TheoreticalBlockSize(len(series)),
		"length":      len(series),
	}))
}

// PricingRequest is the body of POST /api/pricing/options. Zero sizes fall
// back to the configured run defaults.
type PricingRequest struct {
	pricing.Request
	Prices []float64 `json:"prices"`
}

// HandlePriceOptions handles POST /api/pricing/options
func (h *Handler) HandlePriceOptions(w http.ResponseWriter, r *http.Request) {
	var req PricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	series, err := seriesFrom(req.LogReturns, req.Prices)
	if err != nil {
		h.writeError(w, "Invalid series", err)
		return
	}
	req.LogReturns = series
	if req.S0 == 0 && len(req.Prices) > 0 {
		req.S0 = req.Prices[len(req.Prices)-1]
	}
	if req.NBootstrap == 0 {
		req.NBootstrap = h.defaults.NBootstrap
	}
	if req.SampleSize == 0 {
		req.SampleSize = h.defaults.SampleSize
	}
	if req.Iterations == 0 {
		req.Iterations = h.defaults.Iterations
	}
	if req.Seed == 0 {
		req.Seed = h.defaults.Seed
	}

	analysis, err := pricing.Analyze(req.Request, simulation.NewLogSink(h.log))
	if err != nil {
		h.writeError(w, "Option pricing failed", err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(analysis))
}

func seriesFrom(logReturns, prices []float64) ([]float64, error) {
	if len(logReturns) > 0 {
		return logReturns, nil
	}
	if len(prices) < 2 {
		return nil, fmt.Errorf("%w: log_returns or at least two prices are required", simulation.ErrInvalidInput)
	}
	returns, err := formulas.LogReturns(prices)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simulation.ErrInvalidInput, err)
	}
	return returns, nil
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// writeError maps invalid input to 400 and missing records to 404.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, simulation.ErrInvalidInput):
		http.Error(w, msg+": "+err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, msg+": "+err.Error(), http.StatusNotFound)
	default:
		h.log.Error().Err(err).Msg(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
