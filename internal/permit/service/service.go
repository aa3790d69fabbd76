// Package service implements the permit state machine: every lifecycle
// mutation funnels through a single transition path that appends to the
// approval ledger and re-derives the cached state in one transaction.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"exeat/internal/notify"
	"exeat/internal/permit/metrics"
	"exeat/internal/permit/models"
	"exeat/internal/permit/store"
	"exeat/internal/qrtoken"
	"exeat/internal/sentinel"
	dErrors "exeat/pkg/domain-errors"
)

// CancelReason is the canned reason stored when an applicant withdraws a
// permit; cancellation never requires free-text justification.
const CancelReason = "cancelled by applicant"

const sweepBatchLimit = 500

// Option configures the Service.
type Option func(*Service)

// Service drives permit lifecycle transitions against the store.
type Service struct {
	store    store.Store
	issuer   *qrtoken.Issuer
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService constructs the permit service.
func NewService(st store.Store, issuer *qrtoken.Issuer, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:  st,
		issuer: issuer,
		logger: logger,
		tracer: otel.Tracer("exeat/permit"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier sets the outbound notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Create opens a new permit in the instructor's queue.
func (s *Service) Create(ctx context.Context, req models.CreateRequest) (*models.Permit, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	returnTime := req.ReturnTime
	if !req.WillReturn {
		returnTime = nil
	}

	permit := &models.Permit{
		ID:            uuid.New(),
		ApplicantID:   req.ApplicantID,
		InstructorID:  req.InstructorID,
		Reason:        strings.TrimSpace(req.Reason),
		Description:   strings.TrimSpace(req.Description),
		DepartureTime: req.DepartureTime,
		ReturnTime:    returnTime,
		AttachmentRef: req.AttachmentRef,
		State:         models.StatePendingInstructor,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Create(ctx, permit); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create permit")
	}

	if s.metrics != nil {
		s.metrics.IncPermitsCreated()
	}
	s.emitNotify(ctx, notify.EventPermitSubmitted, permit.ApplicantID, permit)
	s.emitNotify(ctx, notify.EventAwaitingSignOff, permit.InstructorID, permit)
	s.logger.InfoContext(ctx, "permit created",
		"permit_id", permit.ID,
		"applicant_id", permit.ApplicantID,
		"instructor_id", permit.InstructorID,
	)
	return permit, nil
}

// DecideAsInstructor records the instructor-stage decision. The actor must
// be the targeted instructor, or hold the coordinator capability.
func (s *Service) DecideAsInstructor(ctx context.Context, permitID, actorID uuid.UUID, actorRole models.Role, approve bool, reason string) (*models.ApprovalRecord, error) {
	permit, err := s.findPermit(ctx, permitID)
	if err != nil {
		return nil, err
	}
	switch actorRole {
	case models.RoleInstructor:
		if permit.InstructorID != actorID {
			return nil, dErrors.New(dErrors.CodeForbidden, "permit is assigned to a different instructor")
		}
	case models.RoleCoordinator:
		// coordinators may stand in at the instructor stage
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "instructor decisions require the instructor or coordinator role")
	}

	return s.transition(ctx, permit, models.StatePendingInstructor, models.RoleInstructor, decisionFor(approve), &actorID, reason)
}

// DecideAsCoordinator records the final-stage decision. Approval mints the
// gate credential inside the same transaction.
func (s *Service) DecideAsCoordinator(ctx context.Context, permitID, actorID uuid.UUID, actorRole models.Role, approve bool, reason string) (*models.ApprovalRecord, error) {
	permit, err := s.findPermit(ctx, permitID)
	if err != nil {
		return nil, err
	}
	if actorRole != models.RoleCoordinator {
		return nil, dErrors.New(dErrors.CodeForbidden, "coordinator decisions require the coordinator role")
	}

	return s.transition(ctx, permit, models.StatePendingCoordinator, models.RoleCoordinator, decisionFor(approve), &actorID, reason)
}

// CancelByApplicant withdraws a permit still sitting in the instructor's
// queue. Only the owning applicant may cancel, and only from that state.
func (s *Service) CancelByApplicant(ctx context.Context, permitID, actorID uuid.UUID) error {
	permit, err := s.findPermit(ctx, permitID)
	if err != nil {
		return err
	}
	if permit.ApplicantID != actorID {
		return dErrors.New(dErrors.CodeForbidden, "only the owning applicant can cancel a permit")
	}

	_, err = s.transition(ctx, permit, models.StatePendingInstructor, models.RoleApplicant, models.DecisionCancelled, &actorID, CancelReason)
	return err
}

// SweepResult reports one expiry sweep run.
type SweepResult struct {
	Found   int
	Expired int
	Skipped int
}

// ExpireStale force-rejects permits stuck in the instructor's queue past the
// timeout. Each permit transitions in its own transaction; a candidate that
// was decided concurrently is skipped and logged, never retried within the
// run. Re-running immediately is safe: the state check finds no candidates.
func (s *Service) ExpireStale(ctx context.Context, now time.Time, timeout time.Duration) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "permit.sweep")
	var result SweepResult
	var sweepErr error
	defer func() {
		if sweepErr != nil {
			span.RecordError(sweepErr)
			span.SetStatus(codes.Error, sweepErr.Error())
		}
		span.SetAttributes(
			attribute.Int("sweep.found", result.Found),
			attribute.Int("sweep.expired", result.Expired),
		)
		span.End()
	}()

	cutoff := now.Add(-timeout)
	ids, err := s.store.ListStalePending(ctx, cutoff, sweepBatchLimit)
	if err != nil {
		sweepErr = dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stale permits")
		return result, sweepErr
	}
	result.Found = len(ids)

	for _, permitID := range ids {
		permit, err := s.findPermit(ctx, permitID)
		if err != nil {
			result.Skipped++
			s.logger.WarnContext(ctx, "sweep skipped permit", "permit_id", permitID, "error", err)
			continue
		}
		_, err = s.transition(ctx, permit, models.StatePendingInstructor, models.RoleSystem, models.DecisionRejected, nil, models.SystemExpiryReason)
		if err != nil {
			result.Skipped++
			if dErrors.HasCode(err, dErrors.CodeStaleState) || dErrors.HasCode(err, dErrors.CodeInvalidTransition) {
				// decided by a human moments before the sweep; not an error
				s.logger.InfoContext(ctx, "sweep candidate decided concurrently", "permit_id", permitID)
			} else {
				s.logger.ErrorContext(ctx, "sweep failed to expire permit", "permit_id", permitID, "error", err)
			}
			continue
		}
		result.Expired++
	}

	if s.metrics != nil {
		s.metrics.ObserveSweep(result.Found, result.Expired, result.Skipped)
	}
	s.logger.InfoContext(ctx, "expiry sweep complete",
		"found", result.Found,
		"expired", result.Expired,
		"skipped", result.Skipped,
		"cutoff", cutoff,
	)
	return result, nil
}

// List returns the permits visible to the caller's role, honoring the
// per-role archive flags.
func (s *Service) List(ctx context.Context, role models.Role, subjectID uuid.UUID) ([]*models.Permit, error) {
	switch role {
	case models.RoleApplicant, models.RoleInstructor, models.RoleCoordinator:
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "listing permits requires an applicant, instructor, or coordinator role")
	}
	permits, err := s.store.ListVisible(ctx, role, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list permits")
	}
	return permits, nil
}

// Get returns one permit with its approval ledger, subject to the same
// visibility rules as List.
func (s *Service) Get(ctx context.Context, role models.Role, subjectID, permitID uuid.UUID) (*models.PermitDetail, error) {
	permit, err := s.findPermit(ctx, permitID)
	if err != nil {
		return nil, err
	}
	if !s.mayView(permit, role, subjectID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "permit not found")
	}
	approvals, err := s.store.ListApprovals(ctx, permitID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval ledger")
	}
	return &models.PermitDetail{Permit: permit, Approvals: approvals}, nil
}

// Archive flips the caller's own soft-delete flag. It never touches state.
func (s *Service) Archive(ctx context.Context, permitID uuid.UUID, role models.Role, subjectID uuid.UUID) error {
	permit, err := s.findPermit(ctx, permitID)
	if err != nil {
		return err
	}
	switch role {
	case models.RoleApplicant:
		if permit.ApplicantID != subjectID {
			return dErrors.New(dErrors.CodeForbidden, "only the owning applicant can archive this permit")
		}
	case models.RoleInstructor:
		if permit.InstructorID != subjectID {
			return dErrors.New(dErrors.CodeForbidden, "permit is assigned to a different instructor")
		}
	case models.RoleCoordinator:
	default:
		return dErrors.New(dErrors.CodeForbidden, "archiving requires an applicant, instructor, or coordinator role")
	}

	if err := s.store.SetHidden(ctx, permitID, role, true); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "permit not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive permit")
	}
	return nil
}

// transition is the single path for every state change. It validates the
// move against the transition table, builds the ledger record (minting the
// gate token for final approvals), and delegates the compare-and-set to the
// store. A lost race surfaces as CodeStaleState with no ledger entry.
func (s *Service) transition(ctx context.Context, permit *models.Permit, expected models.State, role models.Role, decision models.Decision, approverID *uuid.UUID, reason string) (record *models.ApprovalRecord, err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "permit.transition", trace.WithAttributes(
		attribute.String("permit.id", permit.ID.String()),
		attribute.String("permit.role", string(role)),
		attribute.String("permit.decision", string(decision)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveDecisionLatency(s.now().Sub(start).Seconds())
		}
	}()

	// Stale-UI guard: the permit left the expected state before this request
	// was even attempted. Distinct from losing the in-flight race below.
	if permit.State != expected {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "permit is not in a state this decision applies to")
	}

	next, ok := models.NextState(expected, role, decision)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "decision is not legal for this role and state")
	}

	reason = strings.TrimSpace(reason)
	if decision == models.DecisionRejected && role != models.RoleSystem && reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a rejection requires a reason")
	}

	record = &models.ApprovalRecord{
		ID:         uuid.New(),
		PermitID:   permit.ID,
		Role:       role,
		ApproverID: approverID,
		Decision:   decision,
		Reason:     reason,
		DecidedAt:  s.now().UTC(),
	}
	if role == models.RoleCoordinator && decision == models.DecisionApproved {
		token, mintErr := s.issuer.Mint(permit.ID, record.ID)
		if mintErr != nil {
			return nil, dErrors.Wrap(mintErr, dErrors.CodeInternal, "failed to mint gate credential")
		}
		record.QRToken = token
	}

	if err = s.store.Transition(ctx, permit.ID, expected, next, record); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "permit not found")
		case errors.Is(err, sentinel.ErrStaleState):
			if s.metrics != nil {
				s.metrics.IncTransitionRace()
			}
			s.logger.InfoContext(ctx, "transition lost optimistic check",
				"permit_id", permit.ID,
				"expected_state", string(expected),
				"role", string(role),
			)
			return nil, dErrors.New(dErrors.CodeStaleState, "permit was already processed; refresh and re-check")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record decision")
		}
	}

	if s.metrics != nil {
		s.metrics.IncDecision(string(role), string(decision))
	}
	s.notifyTransition(ctx, permit, role, next)
	s.logger.InfoContext(ctx, "permit transitioned",
		"permit_id", permit.ID,
		"from", string(expected),
		"to", string(next),
		"role", string(role),
		"decision", string(decision),
	)
	return record, nil
}

func (s *Service) findPermit(ctx context.Context, permitID uuid.UUID) (*models.Permit, error) {
	permit, err := s.store.FindByID(ctx, permitID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "permit not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load permit")
	}
	return permit, nil
}

func (s *Service) mayView(permit *models.Permit, role models.Role, subjectID uuid.UUID) bool {
	if permit.HiddenFor(role) {
		return false
	}
	switch role {
	case models.RoleApplicant:
		return permit.ApplicantID == subjectID
	case models.RoleInstructor:
		return permit.InstructorID == subjectID
	case models.RoleCoordinator:
		return true
	}
	return false
}

func (s *Service) notifyTransition(ctx context.Context, permit *models.Permit, role models.Role, next models.State) {
	switch {
	case next == models.StatePendingCoordinator:
		s.emitNotify(ctx, notify.EventAwaitingSignOff, permit.ApplicantID, permit)
	case next == models.StateApprovedFinal:
		s.emitNotify(ctx, notify.EventPermitApproved, permit.ApplicantID, permit)
	case next == models.StateCancelled:
		s.emitNotify(ctx, notify.EventPermitCancelled, permit.InstructorID, permit)
	case next == models.StateRejected && role == models.RoleSystem:
		s.emitNotify(ctx, notify.EventPermitAutoExpired, permit.ApplicantID, permit)
	case next == models.StateRejected:
		s.emitNotify(ctx, notify.EventPermitRejected, permit.ApplicantID, permit)
	}
}

// emitNotify is fire-and-forget: delivery problems are logged and isolated
// from the transition they follow.
func (s *Service) emitNotify(ctx context.Context, kind notify.EventKind, recipient uuid.UUID, permit *models.Permit) {
	if s.notifier == nil {
		return
	}
	payload := notify.Payload{PermitID: permit.ID, Reason: permit.Reason}
	if err := s.notifier.Notify(ctx, kind, recipient, payload); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			"kind", string(kind),
			"permit_id", permit.ID,
			"error", err,
		)
	}
}

func decisionFor(approve bool) models.Decision {
	if approve {
		return models.DecisionApproved
	}
	return models.DecisionRejected
}
