package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/testforge/internal/engine"
	appI18n "github.com/pavelanni/testforge/internal/i18n"
	"github.com/pavelanni/testforge/internal/model"
	"github.com/pavelanni/testforge/internal/store"
)

// Handler holds shared dependencies for the JSON API.
type Handler struct {
	store  *store.Store
	engine *engine.Engine
}

// New creates a new Handler.
func New(s *store.Store, e *engine.Engine) *Handler {
	return &Handler{store: s, engine: e}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/topics", h.handleTopics)
	r.Get("/items/count", h.handleItemCount)
	r.Post("/items/{itemID}/approve", h.handleApprove)
	r.Post("/assemble", h.handleAssemble)
}

// AssembleRequest is the JSON body of POST /assemble.
type AssembleRequest struct {
	Plan       model.CoveragePlan    `json:"plan"`
	TotalItems int                   `json:"total_items"`
	Options    model.AssemblyOptions `json:"options"`
}

// AssembleResponse wraps the engine result with a localized summary.
type AssembleResponse struct {
	Summary string         `json:"summary"`
	Result  *engine.Result `json:"result"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.store.ListTopics(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func (h *Handler) handleItemCount(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	count, err := h.store.CountItems(r.Context(), topic)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic, "count": count})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		http.Error(w, appI18n.T(r.Context(), "InvalidItemID"), http.StatusBadRequest)
		return
	}
	if err := h.store.ApproveItem(r.Context(), itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, appI18n.T(r.Context(), "ItemNotFound"), http.StatusNotFound)
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": itemID, "approved": true})
}

func (h *Handler) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, appI18n.T(r.Context(), "InvalidRequest"), http.StatusBadRequest)
		return
	}

	result, err := h.engine.Assemble(r.Context(), &req.Plan, req.TotalItems, req.Options)
	if err != nil {
		// Configuration errors are the caller's fault; anything else
		// would have been reported, not returned.
		status := http.StatusBadRequest
		if !errors.Is(err, engine.ErrInvalidTotalItems) &&
			!errors.Is(err, engine.ErrInvalidVersionCount) &&
			!errors.Is(err, engine.ErrNilPlan) &&
			!errors.Is(err, engine.ErrInvalidPlan) {
			status = http.StatusInternalServerError
		}
		slog.Error("assembly failed", "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	summary := appI18n.Td(r.Context(), "AssemblySummary", map[string]any{
		"Filled": result.Report.FilledSlots,
		"Total":  result.Report.TotalSlots,
		"Forms":  len(result.Forms),
	})
	if result.Report.GeneratedCount > 0 {
		summary += "; " + appI18n.Tp(r.Context(), "GeneratedItems", result.Report.GeneratedCount)
	}
	writeJSON(w, http.StatusOK, AssembleResponse{Summary: summary, Result: result})
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed", "path", r.URL.Path, "error", err)
	http.Error(w, appI18n.T(r.Context(), "InternalError"), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
