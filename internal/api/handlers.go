package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Derkades/metrics/internal/apperr"
	"github.com/Derkades/metrics/internal/ingest"
	"github.com/Derkades/metrics/internal/schema"
	"github.com/Derkades/metrics/internal/store"
	"github.com/Derkades/metrics/internal/view"
)

// Handler holds API route handlers.
type Handler struct {
	ingest   *ingest.Service
	views    *view.Engine
	registry *schema.Registry
	db       *store.DB
}

// NewHandler creates a new Handler.
func NewHandler(svc *ingest.Service, views *view.Engine, registry *schema.Registry, db *store.DB) *Handler {
	return &Handler{ingest: svc, views: views, registry: registry, db: db}
}

// Submit handles POST /submit. Success is a plain "ok" body; client-input
// failures are 400 with a message, rate limiting 429 with the required wait.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	// Numbers stay json.Number so the validator can tell integers from
	// floats exactly.
	dec.UseNumber()

	var req SubmitRequest
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Source == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing source"))
		return
	}
	if req.UUID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing uuid"))
		return
	}
	if req.Fields == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing fields"))
		return
	}

	_, err := h.ingest.Submit(req.Source, req.UUID, req.Fields, time.Now(), r.RemoteAddr)
	if err != nil {
		var rateErr *apperr.RateLimitError
		var fieldErr *apperr.FieldError
		switch {
		case errors.As(err, &rateErr):
			writeJSON(w, http.StatusTooManyRequests, errorBody(rateErr.Error()))
		case errors.As(err, &fieldErr):
			writeJSON(w, http.StatusBadRequest, errorBody(fieldErr.Error()))
		case errors.Is(err, apperr.ErrInvalidUUID), errors.Is(err, apperr.ErrUnknownSource):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		default:
			slog.Error("submit failed", slog.String("source", req.Source), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	writeText(w, http.StatusOK, "ok")
}

// Show handles GET /show?source=.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("specify source"))
		return
	}

	res, err := h.views.Render(source)
	if err != nil {
		if errors.Is(err, apperr.ErrUnknownSource) {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid source"))
			return
		}
		slog.Error("show failed", slog.String("source", source), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Sources handles GET /sources.
func (h *Handler) Sources(w http.ResponseWriter, _ *http.Request) {
	names := h.registry.Names()
	out := make([]SourceInfo, 0, len(names))
	for _, name := range names {
		count, err := h.db.CountClients(name)
		if err != nil {
			slog.Error("count clients failed", slog.String("source", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		out = append(out, SourceInfo{Name: name, CountClients: count})
	}
	writeJSON(w, http.StatusOK, SourcesResponse{Sources: out})
}
