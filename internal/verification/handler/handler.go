package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"civic/internal/offices/search"
	"civic/internal/verification/flow"
	"civic/internal/verification/models"
	"civic/internal/verification/service"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/httputil"
	"civic/pkg/requestcontext"
)

// maxUploadRequestBytes bounds a multipart upload, envelope included. The
// queue enforces the tighter per-document limit.
const maxUploadRequestBytes = 12 << 20

// Service is the verification orchestrator as seen by HTTP.
type Service interface {
	Start(ctx context.Context, officialID id.OfficialID, method id.VerificationMethod) (*models.Request, error)
	SendCode(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, email string) (*service.CodeDelivery, error)
	ResendCode(ctx context.Context, officialID id.OfficialID, requestID id.RequestID) (*service.CodeDelivery, error)
	SubmitCode(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, code string) error
	SubmitDocuments(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, refs, types []string) error
	IssueWebsiteToken(ctx context.Context, officialID id.OfficialID, requestID id.RequestID, targetURL string) (*service.WebsiteChallenge, error)
	CheckWebsite(ctx context.Context, officialID id.OfficialID, requestID id.RequestID) error
	Decide(ctx context.Context, reviewerID id.ReviewerID, requestID id.RequestID, outcome models.Outcome, notes string) error
	Cancel(ctx context.Context, officialID id.OfficialID, requestID id.RequestID) error
	State(ctx context.Context, officialID id.OfficialID) (*service.Snapshot, error)
	History(ctx context.Context, officialID id.OfficialID) ([]*models.Request, error)
	ReleaseClaim(ctx context.Context, officialID id.OfficialID) error
}

// Evidence covers the document queue operations that are not tied to a
// single request.
type Evidence interface {
	Upload(ctx context.Context, officialID id.OfficialID, filename, contentType string, body io.Reader) (string, error)
	ListPending(ctx context.Context, limit int) ([]*models.Request, error)
}

type Handler struct {
	service  Service
	evidence Evidence
	search   search.SearchFunc
	logger   *slog.Logger
	tick     time.Duration
	delay    time.Duration
	upgrader websocket.Upgrader
}

type Option func(*Handler)

// WithStreamTick sets the countdown step of the flow stream.
func WithStreamTick(d time.Duration) Option {
	return func(h *Handler) {
		h.tick = d
	}
}

// WithSearchDelay sets the debounce delay for searches typed into the stream.
func WithSearchDelay(d time.Duration) Option {
	return func(h *Handler) {
		h.delay = d
	}
}

func New(svc Service, evidence Evidence, searchFn search.SearchFunc, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:  svc,
		evidence: evidence,
		search:   searchFn,
		logger:   logger,
		tick:     flow.DefaultTick,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterOfficial mounts the routes for an authenticated official.
func (h *Handler) RegisterOfficial(r chi.Router) {
	r.Get("/verification/state", h.handleState)
	r.Get("/verification/history", h.handleHistory)
	r.Get("/verification/stream", h.handleStream)
	r.Post("/verification/requests", h.handleStart)
	r.Post("/verification/requests/{requestID}/code", h.handleSendCode)
	r.Post("/verification/requests/{requestID}/code/resend", h.handleResendCode)
	r.Post("/verification/requests/{requestID}/code/verify", h.handleVerifyCode)
	r.Post("/verification/documents", h.handleUpload)
	r.Post("/verification/requests/{requestID}/documents", h.handleSubmitDocuments)
	r.Post("/verification/requests/{requestID}/website", h.handleIssueWebsiteToken)
	r.Post("/verification/requests/{requestID}/website/check", h.handleCheckWebsite)
	r.Post("/verification/requests/{requestID}/cancel", h.handleCancel)
	r.Post("/verification/release", h.handleRelease)
}

// RegisterReviewer mounts the review queue routes.
func (h *Handler) RegisterReviewer(r chi.Router) {
	r.Get("/review/requests", h.handleListPending)
	r.Post("/review/requests/{requestID}/decision", h.handleDecide)
}

// failureResponse pairs the transport error code with the flow's error kind.
type failureResponse struct {
	Error            string            `json:"error"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Kind             service.ErrorKind `json:"kind"`
	Retryable        bool              `json:"retryable"`
}

// writeFailure is used by the challenge steps, where the client needs the
// failure kind to decide between retrying and starting over.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	code := dErrors.CodeOf(err)
	status := httputil.StatusFor(code)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	resp := failureResponse{
		Error:     string(code),
		Kind:      service.Classify(err).Kind,
		Retryable: service.Retryable(err),
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		resp.ErrorDescription = de.Message
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) official(w http.ResponseWriter, r *http.Request) (id.OfficialID, bool) {
	officialID := requestcontext.OfficialID(r.Context())
	if officialID.IsNil() {
		h.logger.ErrorContext(r.Context(), "official missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "official authentication required"))
		return id.OfficialID{}, false
	}
	return officialID, true
}

// officialRequest resolves the caller and the {requestID} path parameter.
func (h *Handler) officialRequest(w http.ResponseWriter, r *http.Request) (id.OfficialID, id.RequestID, bool) {
	officialID, ok := h.official(w, r)
	if !ok {
		return id.OfficialID{}, id.RequestID{}, false
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OfficialID{}, id.RequestID{}, false
	}
	return officialID, requestID, true
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	officialID, ok := h.official(w, r)
	if !ok {
		return
	}
	snap, err := h.service.State(r.Context(), officialID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

type historyResponse struct {
	Requests []*models.Request `json:"requests"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	officialID, ok := h.official(w, r)
	if !ok {
		return
	}
	reqs, err := h.service.History(r.Context(), officialID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*models.Request{}
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Requests: reqs})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	officialID, ok := h.official(w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeAndPrepare[StartRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	req, err := h.service.Start(ctx, officialID, body.parsed)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to start verification", "request_id", requestID, "error", err)
		} else {
			h.logger.InfoContext(ctx, "verification start refused",
				"request_id", requestID,
				"official_id", officialID,
				"reason", dErrors.CodeOf(err),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) handleSendCode(w http.ResponseWriter, r *http.Request) {
	officialID, requestID, ok := h.officialRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[SendCodeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	delivery, err := h.service.SendCode(ctx, officialID, requestID, body.Email)
	if err != nil {
		h.writeFailure(w, r, "send code", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, delivery)
}

func (h *Handler) handleResendCode(w http.ResponseWriter, r *http.Request) {
	officialID, requestID, ok := h.officialRequest(w, r)
	if !ok {
		return
	}
	delivery, err := h.service.ResendCode(r.Context(), officialID, requestID)
	if err != nil {
		h.writeFailure(w, r, "resend code", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, delivery)
}

func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	officialID, requestID, ok := h.officialRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[VerifyCodeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.SubmitCode(ctx, officialID, requestID, body.Code); err != nil {
		h.writeFailure(w, r, "verify code", err)
		return
	}
	h.writeState(w, r, officialID)
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	officialID, ok := h.official(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequestBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.logger.WarnContext(ctx, "invalid upload",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	publicURL, err := h.evidence.Upload(ctx, officialID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.writeFailure(w, r, "upload", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, uploadResponse{URL: publicURL})
}

func (h *Handler) handleSubmitDocuments(w http.ResponseWriter, r *http.Request) {
	officialID, requestID, ok := h.officialRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[DocumentsRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.SubmitDocuments(ctx, officialID, requestID, body.URLs, body.Types); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeState(w, r, officialID)
}

func (h *Handler) handleIssueWebsiteToken(w http.ResponseWriter, r *http.Request) {
	officialID, requestID, ok := h.officialRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[WebsiteRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	challenge, err := h.service.IssueWebsiteToken(ctx, officialID, requestID, body.URL)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, challenge)
}

func (h *Handler) handleCheckWebsite(w http.ResponseWriter, r *http.Request) {
	officialID, requestID, ok := h.officialRequest(w, r)
	if !ok {
		return
	}
	if err := h.service.CheckWebsite(r.Context(), officialID, requestID); err != nil {
		h.writeFailure(w, r, "website check", err)
		return
	}
	h.writeState(w, r, officialID)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	officialID, requestID, ok := h.officialRequest(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), officialID, requestID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeState(w, r, officialID)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	officialID, ok := h.official(w, r)
	if !ok {
		return
	}
	if err := h.service.ReleaseClaim(r.Context(), officialID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeState(w, r, officialID)
}

// writeState answers a mutation with the resulting flow snapshot.
func (h *Handler) writeState(w http.ResponseWriter, r *http.Request, officialID id.OfficialID) {
	snap, err := h.service.State(r.Context(), officialID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

type pendingResponse struct {
	Requests []*models.Request `json:"requests"`
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	reqs, err := h.evidence.ListPending(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*models.Request{}
	}
	httputil.WriteJSON(w, http.StatusOK, pendingResponse{Requests: reqs})
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestcontext.RequestID(ctx)
	reviewerID := requestcontext.ReviewerID(ctx)
	if reviewerID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "reviewer authentication required"))
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, reqID)
	if !ok {
		return
	}

	if err := h.service.Decide(ctx, reviewerID, requestID, body.parsed, body.Notes); err != nil {
		h.logger.InfoContext(ctx, "review decision refused",
			"request_id", reqID,
			"verification_request_id", requestID,
			"reason", dErrors.CodeOf(err),
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
