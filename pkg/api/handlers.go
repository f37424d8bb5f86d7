package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/orchestrator"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/progress"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

const eventHeartbeatInterval = 15 * time.Second

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string             `json:"status"`
	State  orchestrator.State `json:"state"`
}

type triggerRunRequest struct {
	Sources []string `json:"sources"`
}

type runAcceptedResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type productListResponse struct {
	Products []store.Product `json:"products"`
	Total    int64           `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

type productHistoryResponse struct {
	Product *store.Product        `json:"product"`
	History []store.StockSnapshot `json:"history"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		State:  s.deps.Orchestrator.State(),
	})
}

// --- Runs ---

func (s *server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest

	// An empty body runs every enabled source.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})

		return
	}

	runID, err := s.deps.Orchestrator.TriggerRun(r.Context(), orchestrator.RunRequest{
		Sources: req.Sources,
		Trigger: store.TriggerManual,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			writeJSON(w, http.StatusConflict, errorResponse{err.Error()})
		case errors.Is(err, orchestrator.ErrUnknownSource),
			errors.Is(err, orchestrator.ErrNoSources):
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		case errors.Is(err, orchestrator.ErrNotStarted):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{err.Error()})
		default:
			s.log.WithError(err).Error("Failed to trigger run")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"failed to start run"})
		}

		return
	}

	writeJSON(w, http.StatusAccepted, runAcceptedResponse{
		RunID:  runID,
		Status: string(store.RunRunning),
	})
}

func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	if err := s.deps.Orchestrator.CancelRun(runID); err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"no active run with that id"})

			return
		}

		writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusAccepted, runAcceptedResponse{
		RunID:  runID,
		Status: "cancelling",
	})
}

func (s *server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	s.writeRun(w, r, "")
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	s.writeRun(w, r, chi.URLParam(r, "id"))
}

func (s *server) writeRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := s.deps.Orchestrator.GetStatus(r.Context(), runID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"failed to load run"})

		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePaging(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	runs, err := s.deps.Store.ListRunRecords(r.Context(), limit, offset)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"failed to list runs"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// --- Products ---

func (s *server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePaging(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	query := r.URL.Query()
	filter := store.ProductFilter{
		Source:   query.Get("source"),
		Category: query.Get("category"),
		Search:   query.Get("search"),
		Limit:    limit,
		Offset:   offset,
	}

	if raw := query.Get("stock_status"); raw != "" {
		status, ok := catalog.ParseStockStatus(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{fmt.Sprintf("unknown stock_status %q", raw)})

			return
		}

		filter.StockStatus = string(status)
	}

	products, total, err := s.deps.Store.ListProducts(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("Failed to list products")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"failed to list products"})

		return
	}

	writeJSON(w, http.StatusOK, productListResponse{
		Products: products,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, ok := s.lookupProduct(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, product)
}

func (s *server) handleProductHistory(w http.ResponseWriter, r *http.Request) {
	product, ok := s.lookupProduct(w, r)
	if !ok {
		return
	}

	var since time.Time

	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"since must be an RFC3339 timestamp"})

			return
		}

		since = parsed
	}

	limit, _, err := parsePaging(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	history, err := s.deps.Store.ListSnapshots(r.Context(), product.ID, since, limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list snapshots")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"failed to load history"})

		return
	}

	writeJSON(w, http.StatusOK, productHistoryResponse{
		Product: product,
		History: history,
	})
}

// lookupProduct resolves the {source}/{sku} path parameters, writing the
// error response itself when the product cannot be returned.
func (s *server) lookupProduct(w http.ResponseWriter, r *http.Request) (*store.Product, bool) {
	sku, err := url.PathUnescape(chi.URLParam(r, "sku"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid sku"})

		return nil, false
	}

	product, err := s.deps.Store.GetProduct(r.Context(), sku, chi.URLParam(r, "source"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"product not found"})

			return nil, false
		}

		s.log.WithError(err).Error("Failed to load product")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"failed to load product"})

		return nil, false
	}

	return product, true
}

// --- Sources ---

func (s *server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.deps.Registry.List()})
}

// --- Events ---

// handleEvents streams progress events as server-sent events until the
// client goes away or the server stops. ?run_id= limits the stream to one run.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"streaming unsupported"})

		return
	}

	runFilter := r.URL.Query().Get("run_id")

	sub, unsubscribe := s.deps.Publisher.Subscribe(s.deps.EventBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(eventHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}

			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}

			if runFilter != "" && ev.RunID != runFilter {
				continue
			}

			if err := writeEvent(w, ev); err != nil {
				s.log.WithError(err).Debug("Event stream closed")

				return
			}

			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev progress.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	return nil
}

// parsePaging reads the limit and offset query parameters.
func parsePaging(r *http.Request) (int, int, error) {
	query := r.URL.Query()

	limit := store.DefaultListLimit

	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", raw)
		}

		limit = min(n, store.MaxListLimit)
	}

	var offset int

	if raw := query.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", raw)
		}

		offset = n
	}

	return limit, offset, nil
}
