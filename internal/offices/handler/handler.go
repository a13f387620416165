package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"civic/internal/offices/models"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/httputil"
	"civic/pkg/requestcontext"
)

// Service defines the office registry operations exposed over HTTP.
type Service interface {
	Claim(ctx context.Context, officeID id.OfficeID, officialID id.OfficialID) error
	Get(ctx context.Context, officeID id.OfficeID) (*models.GovernmentOffice, error)
	Search(ctx context.Context, query string, limit int) ([]*models.GovernmentOffice, error)
}

type Handler struct {
	registry Service
	logger   *slog.Logger
}

func New(registry Service, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// Register mounts the office routes. Callers apply authentication.
func (h *Handler) Register(r chi.Router) {
	r.Get("/offices", h.handleSearch)
	r.Get("/offices/{officeID}", h.handleGet)
	r.Post("/offices/{officeID}/claim", h.handleClaim)
}

type officeResponse struct {
	*models.GovernmentOffice
	DisplayName string `json:"display_name"`
	Available   bool   `json:"available"`
}

func toResponse(o *models.GovernmentOffice) officeResponse {
	return officeResponse{GovernmentOffice: o, DisplayName: o.DisplayName(), Available: o.IsAvailable()}
}

type searchResponse struct {
	Query   string           `json:"query"`
	Offices []officeResponse `json:"offices"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	offices, err := h.registry.Search(ctx, query, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "office search failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	resp := searchResponse{Query: query, Offices: make([]officeResponse, 0, len(offices))}
	for _, o := range offices {
		resp.Offices = append(resp.Offices, toResponse(o))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	officeID, err := id.ParseOfficeID(chi.URLParam(r, "officeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	office, err := h.registry.Get(r.Context(), officeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(office))
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	officialID := requestcontext.OfficialID(ctx)
	if officialID.IsNil() {
		h.logger.ErrorContext(ctx, "official missing from context despite auth middleware", "request_id", requestID)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "official authentication required"))
		return
	}
	officeID, err := id.ParseOfficeID(chi.URLParam(r, "officeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.registry.Claim(ctx, officeID, officialID); err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to claim office", "request_id", requestID, "error", err)
		} else {
			h.logger.InfoContext(ctx, "office claim refused",
				"request_id", requestID,
				"office_id", officeID,
				"reason", dErrors.CodeOf(err),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	office, err := h.registry.Get(ctx, officeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(office))
}
