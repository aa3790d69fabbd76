package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"exeat/internal/permit/models"
	"exeat/internal/platform/middleware"
	"exeat/internal/transport/http/shared"
	dErrors "exeat/pkg/domain-errors"
	"exeat/pkg/validation"
)

// Service defines the interface for permit operations.
type Service interface {
	Create(ctx context.Context, req models.CreateRequest) (*models.Permit, error)
	DecideAsInstructor(ctx context.Context, permitID, actorID uuid.UUID, actorRole models.Role, approve bool, reason string) (*models.ApprovalRecord, error)
	DecideAsCoordinator(ctx context.Context, permitID, actorID uuid.UUID, actorRole models.Role, approve bool, reason string) (*models.ApprovalRecord, error)
	CancelByApplicant(ctx context.Context, permitID, actorID uuid.UUID) error
	List(ctx context.Context, role models.Role, subjectID uuid.UUID) ([]*models.Permit, error)
	Get(ctx context.Context, role models.Role, subjectID, permitID uuid.UUID) (*models.PermitDetail, error)
	Archive(ctx context.Context, permitID uuid.UUID, role models.Role, subjectID uuid.UUID) error
}

// Handler handles permit endpoints.
type Handler struct {
	permits Service
	logger  *slog.Logger
}

// New creates a new permit Handler.
func New(permits Service, logger *slog.Logger) *Handler {
	return &Handler{permits: permits, logger: logger}
}

// Register mounts the permit routes on the given router. The router is
// expected to already carry the auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/permits", h.handleCreate)
	r.Get("/permits", h.handleList)
	r.Get("/permits/{permitID}", h.handleGet)
	r.Post("/permits/{permitID}/instructor-decision", h.handleInstructorDecision)
	r.Post("/permits/{permitID}/coordinator-decision", h.handleCoordinatorDecision)
	r.Post("/permits/{permitID}/cancel", h.handleCancel)
	r.Post("/permits/{permitID}/archive", h.handleArchive)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID, role, ok := h.caller(w, r)
	if !ok {
		return
	}
	if role != models.RoleApplicant {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only applicants can create permits"))
		return
	}

	var req createPermitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warn(ctx, "failed to decode create permit request", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := validation.Validate(&req); err != nil {
		shared.WriteError(w, err)
		return
	}
	instructorID, err := uuid.Parse(req.InstructorID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "instructor_id must be a uuid"))
		return
	}

	permit, err := h.permits.Create(ctx, models.CreateRequest{
		ApplicantID:   actorID,
		InstructorID:  instructorID,
		Reason:        req.Reason,
		Description:   req.Description,
		DepartureTime: req.DepartureTime,
		WillReturn:    req.WillReturn,
		ReturnTime:    req.ReturnTime,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		h.warn(ctx, "failed to create permit", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, formatPermit(permit))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID, role, ok := h.caller(w, r)
	if !ok {
		return
	}

	permits, err := h.permits.List(ctx, role, actorID)
	if err != nil {
		h.warn(ctx, "failed to list permits", err)
		shared.WriteError(w, err)
		return
	}

	resp := listResponse{Permits: make([]permitResponse, 0, len(permits))}
	for _, permit := range permits {
		resp.Permits = append(resp.Permits, formatPermit(permit))
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID, role, ok := h.caller(w, r)
	if !ok {
		return
	}
	permitID, ok := h.permitID(w, r)
	if !ok {
		return
	}

	detail, err := h.permits.Get(ctx, role, actorID, permitID)
	if err != nil {
		h.warn(ctx, "failed to load permit", err)
		shared.WriteError(w, err)
		return
	}

	resp := permitDetailResponse{
		Permit:    formatPermit(detail.Permit),
		Approvals: make([]approvalResponse, 0, len(detail.Approvals)),
	}
	for _, record := range detail.Approvals {
		resp.Approvals = append(resp.Approvals, formatApproval(record))
	}
	if final, ok := models.LatestByStage(detail.Approvals)[models.RoleCoordinator]; ok && final.Decision == models.DecisionApproved {
		resp.QRToken = final.QRToken
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleInstructorDecision(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.permits.DecideAsInstructor)
}

func (h *Handler) handleCoordinatorDecision(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.permits.DecideAsCoordinator)
}

type decideFunc func(ctx context.Context, permitID, actorID uuid.UUID, actorRole models.Role, approve bool, reason string) (*models.ApprovalRecord, error)

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, decide decideFunc) {
	ctx := r.Context()
	actorID, role, ok := h.caller(w, r)
	if !ok {
		return
	}
	permitID, ok := h.permitID(w, r)
	if !ok {
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warn(ctx, "failed to decode decision request", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := validation.Validate(&req); err != nil {
		shared.WriteError(w, err)
		return
	}

	record, err := decide(ctx, permitID, actorID, role, req.Approve, req.Reason)
	if err != nil {
		h.warn(ctx, "failed to record decision", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, formatApproval(record))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID, role, ok := h.caller(w, r)
	if !ok {
		return
	}
	if role != models.RoleApplicant {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only the owning applicant can cancel a permit"))
		return
	}
	permitID, ok := h.permitID(w, r)
	if !ok {
		return
	}

	if err := h.permits.CancelByApplicant(ctx, permitID, actorID); err != nil {
		h.warn(ctx, "failed to cancel permit", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID, role, ok := h.caller(w, r)
	if !ok {
		return
	}
	permitID, ok := h.permitID(w, r)
	if !ok {
		return
	}

	if err := h.permits.Archive(ctx, permitID, role, actorID); err != nil {
		h.warn(ctx, "failed to archive permit", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// caller extracts the authenticated subject and role, writing the error
// response itself when the context is unusable.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, models.Role, bool) {
	identity := middleware.GetIdentity(r.Context())
	if identity.SubjectID == "" {
		h.logger.ErrorContext(r.Context(), "identity missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return uuid.Nil, "", false
	}
	subjectID, err := uuid.Parse(identity.SubjectID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "subject claim is not a uuid"))
		return uuid.Nil, "", false
	}
	role := models.Role(identity.Role)
	if !role.IsValid() {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "unknown role"))
		return uuid.Nil, "", false
	}
	return subjectID, role, true
}

func (h *Handler) permitID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	permitID, err := uuid.Parse(chi.URLParam(r, "permitID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "permit id must be a uuid"))
		return uuid.Nil, false
	}
	return permitID, true
}

func (h *Handler) warn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
}
