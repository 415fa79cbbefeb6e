package templater

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatestore"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/logger"
)

// TemplateReader is the read side of the template store.
type TemplateReader interface {
	Load(ctx context.Context, scope string) (*templatestore.Record, error)
	List(ctx context.Context) ([]templatestore.Record, error)
}

var _ TemplateReader = (*templatestore.Store)(nil)

type Handler struct {
	store   TemplateReader
	service *Service
	logger  *slog.Logger
}

func NewHandler(store TemplateReader, service *Service) *Handler {
	return &Handler{
		store:   store,
		service: service,
		logger:  slog.Default().With("component", "templater-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/templates", h.List)
	mux.HandleFunc("GET /api/v1/templates/{scope...}", h.Get)
	mux.HandleFunc("POST /api/v1/templates/rebuild", h.Rebuild)
	mux.HandleFunc("GET /api/v1/templates/status", h.Status)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []templatestore.Record{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"templates": records})
}

// Get returns one scope's template. The scope is "global" or
// "type:<uri>" with the URI percent-encoded, since ServeMux cleans the
// double slash of a raw IRI.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	if scope == "" {
		h.fail(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid scope"))
		return
	}
	rec, err := h.store.Load(r.Context(), scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rec == nil {
		h.fail(w, r, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "no template for scope %q", scope))
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Rebuild(r.Context(), "api")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.service.Last()
	if st == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "never built"})
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
