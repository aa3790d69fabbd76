package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"exeat/internal/gate/models"
	permitmodels "exeat/internal/permit/models"
	"exeat/internal/platform/middleware"
	"exeat/internal/transport/http/shared"
	dErrors "exeat/pkg/domain-errors"
	"exeat/pkg/validation"
)

// Service defines the interface for gate operations.
type Service interface {
	Scan(ctx context.Context, token string) (*models.ScanResult, error)
	Record(ctx context.Context, token string, action models.Action, gatekeeperID uuid.UUID) (*models.AccessEvent, error)
}

// Handler handles gate terminal endpoints.
type Handler struct {
	gate   Service
	logger *slog.Logger
}

// New creates a new gate Handler.
func New(gate Service, logger *slog.Logger) *Handler {
	return &Handler{gate: gate, logger: logger}
}

// Register mounts the gate routes on the given router. The router is
// expected to already carry the auth middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/gate/scan", h.handleScan)
	r.Post("/gate/events", h.handleRecord)
}

type scanRequest struct {
	Token string `json:"token" validate:"required"`
}

type scanResponse struct {
	RequiredAction string        `json:"required_action"`
	Permit         permitSummary `json:"permit"`
}

// permitSummary is the context shown on the gatekeeper's display.
type permitSummary struct {
	PermitID      string     `json:"permit_id"`
	ApplicantID   string     `json:"applicant_id"`
	Reason        string     `json:"reason"`
	DepartureTime time.Time  `json:"departure_time"`
	ReturnTime    *time.Time `json:"return_time,omitempty"`
}

type recordRequest struct {
	Token  string `json:"token" validate:"required"`
	Action string `json:"action" validate:"required,oneof=exit return"`
}

type eventResponse struct {
	ID         string    `json:"id"`
	ApprovalID string    `json:"approval_id"`
	Action     string    `json:"action"`
	RecordedBy string    `json:"recorded_by"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.gatekeeper(w, r); !ok {
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warn(ctx, "failed to decode scan request", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := validation.Validate(&req); err != nil {
		shared.WriteError(w, err)
		return
	}

	result, err := h.gate.Scan(ctx, req.Token)
	if err != nil {
		h.warn(ctx, "scan denied", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, scanResponse{
		RequiredAction: string(result.RequiredAction),
		Permit:         summarize(result.Permit),
	})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gatekeeperID, ok := h.gatekeeper(w, r)
	if !ok {
		return
	}

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.warn(ctx, "failed to decode record request", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := validation.Validate(&req); err != nil {
		shared.WriteError(w, err)
		return
	}

	event, err := h.gate.Record(ctx, req.Token, models.Action(req.Action), gatekeeperID)
	if err != nil {
		h.warn(ctx, "record denied", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, eventResponse{
		ID:         event.ID.String(),
		ApprovalID: event.ApprovalRecordID.String(),
		Action:     string(event.Action),
		RecordedBy: event.RecordedBy.String(),
		RecordedAt: event.RecordedAt,
	})
}

func (h *Handler) gatekeeper(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	identity := middleware.GetIdentity(r.Context())
	if identity.SubjectID == "" {
		h.logger.ErrorContext(r.Context(), "identity missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return uuid.Nil, false
	}
	if permitmodels.Role(identity.Role) != permitmodels.RoleGatekeeper {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "gate endpoints require the gatekeeper role"))
		return uuid.Nil, false
	}
	subjectID, err := uuid.Parse(identity.SubjectID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "subject claim is not a uuid"))
		return uuid.Nil, false
	}
	return subjectID, true
}

func summarize(permit *permitmodels.Permit) permitSummary {
	return permitSummary{
		PermitID:      permit.ID.String(),
		ApplicantID:   permit.ApplicantID.String(),
		Reason:        permit.Reason,
		DepartureTime: permit.DepartureTime,
		ReturnTime:    permit.ReturnTime,
	}
}

func (h *Handler) warn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
}
