package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"civic/internal/officials/access"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/httputil"
	"civic/pkg/requestcontext"
)

type Gate interface {
	Decide(ctx context.Context, officialID id.OfficialID) (*access.Decision, error)
	IsPubliclyVisible(ctx context.Context, officialID id.OfficialID) (bool, error)
}

type Handler struct {
	gate   Gate
	logger *slog.Logger
}

func New(gate Gate, logger *slog.Logger) *Handler {
	return &Handler{gate: gate, logger: logger}
}

// RegisterOfficial mounts routes for the authenticated official.
func (h *Handler) RegisterOfficial(r chi.Router) {
	r.Get("/officials/me/access", h.handleAccess)
}

// RegisterPublic mounts unauthenticated routes.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/officials/{officialID}/visibility", h.handleVisibility)
}

func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	officialID := requestcontext.OfficialID(ctx)
	if officialID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "official authentication required"))
		return
	}
	decision, err := h.gate.Decide(ctx, officialID)
	if err != nil {
		h.logger.WarnContext(ctx, "access decision failed",
			"request_id", requestcontext.RequestID(ctx),
			"official_id", officialID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

type visibilityResponse struct {
	OfficialID      id.OfficialID `json:"official_id"`
	PubliclyVisible bool          `json:"publicly_visible"`
}

func (h *Handler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	officialID, err := id.ParseOfficialID(chi.URLParam(r, "officialID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	visible, err := h.gate.IsPubliclyVisible(r.Context(), officialID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, visibilityResponse{OfficialID: officialID, PubliclyVisible: visible})
}
