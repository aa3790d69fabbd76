// Package service implements access reconciliation: deciding whether a
// scanned token may record an exit or a return, and recording it without
// letting two terminals double-book the same leg.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"exeat/internal/gate/metrics"
	"exeat/internal/gate/models"
	"exeat/internal/gate/store"
	permitmodels "exeat/internal/permit/models"
	"exeat/internal/sentinel"
	dErrors "exeat/pkg/domain-errors"
)

// Option configures the Service.
type Option func(*Service)

// Service reconciles gate scans against the access ledger.
type Service struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService constructs the gate service.
func NewService(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:  st,
		logger: logger,
		tracer: otel.Tracer("exeat/gate"),
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

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Scan is the read-only half: it resolves the token and reports the single
// action the gate may record next. Repeating a scan never changes anything.
func (s *Service) Scan(ctx context.Context, token string) (*models.ScanResult, error) {
	grant, events, err := s.loadGrant(ctx, token)
	if err != nil {
		s.countScan(err)
		return nil, err
	}

	action, err := nextAction(grant.Permit, events)
	if err != nil {
		s.countScan(err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncScan("ok")
	}
	return &models.ScanResult{RequiredAction: action, Permit: grant.Permit}, nil
}

// Record writes one access event. The legality computation from Scan is
// repeated against the ledger inside the store's guarded append, so of two
// terminals racing to record the same leg exactly one wins.
func (s *Service) Record(ctx context.Context, token string, action models.Action, gatekeeperID uuid.UUID) (event *models.AccessEvent, err error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "gate.record", trace.WithAttributes(
		attribute.String("gate.action", string(action)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveRecordLatency(s.now().Sub(start).Seconds())
		}
	}()

	if !action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown access action")
	}
	if gatekeeperID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeValidation, "gatekeeper id is required")
	}

	grant, events, err := s.loadGrant(ctx, token)
	if err != nil {
		s.countDenial(err)
		return nil, err
	}

	required, err := nextAction(grant.Permit, events)
	if err != nil {
		s.countDenial(err)
		return nil, err
	}
	if action != required {
		err = dErrors.New(dErrors.CodeConflict, "requested action is no longer the legal next step; rescan the token")
		s.countDenial(err)
		return nil, err
	}

	event = &models.AccessEvent{
		ID:               uuid.New(),
		ApprovalRecordID: grant.Approval.ID,
		Action:           action,
		RecordedBy:       gatekeeperID,
		RecordedAt:       s.now().UTC(),
	}
	if appendErr := s.store.Append(ctx, event, len(events)); appendErr != nil {
		if errors.Is(appendErr, sentinel.ErrConflict) {
			err = dErrors.New(dErrors.CodeConflict, "another terminal recorded this leg first; rescan the token")
			s.countDenial(err)
			return nil, err
		}
		err = dErrors.Wrap(appendErr, dErrors.CodeInternal, "failed to record access event")
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncEventRecorded(string(action))
	}
	s.logger.InfoContext(ctx, "access event recorded",
		"approval_id", grant.Approval.ID,
		"permit_id", grant.Permit.ID,
		"action", string(action),
		"gatekeeper_id", gatekeeperID,
	)
	return event, nil
}

func (s *Service) loadGrant(ctx context.Context, token string) (*models.Grant, []*models.AccessEvent, error) {
	grant, err := s.store.FindGrantByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "unknown token")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve token")
	}
	if grant.Approval.Decision != permitmodels.DecisionApproved || grant.Permit.State != permitmodels.StateApprovedFinal {
		return nil, nil, dErrors.New(dErrors.CodeNotApproved, "token is not backed by an approved permit")
	}

	events, err := s.store.ListEvents(ctx, grant.Approval.ID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load access events")
	}
	return grant, events, nil
}

// nextAction computes the single legal next step for a token: exit first,
// then return only when the permit planned one. Anything past that is a
// completed cycle.
func nextAction(permit *permitmodels.Permit, events []*models.AccessEvent) (models.Action, error) {
	switch len(events) {
	case 0:
		return models.ActionExit, nil
	case 1:
		if events[0].Action != models.ActionExit {
			// ledger corruption; the append guard should make this unreachable
			return "", dErrors.New(dErrors.CodeInternal, "access ledger is out of order")
		}
		if permit.WillReturn() {
			return models.ActionReturn, nil
		}
		return "", dErrors.New(dErrors.CodeCycleComplete, "this token's cycle is complete")
	default:
		return "", dErrors.New(dErrors.CodeCycleComplete, "this token's cycle is complete")
	}
}

func (s *Service) countScan(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncScan(outcomeLabel(err))
}

func (s *Service) countDenial(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncDenial(outcomeLabel(err))
}

func outcomeLabel(err error) string {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return string(domainErr.Code)
	}
	return "error"
}
