package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "exeat/pkg/domain-errors"
)

// CreateRequest carries everything needed to open a new permit.
type CreateRequest struct {
	ApplicantID   uuid.UUID
	InstructorID  uuid.UUID
	Reason        string
	Description   string
	DepartureTime time.Time
	WillReturn    bool
	ReturnTime    *time.Time
	AttachmentRef string
}

// Validate checks the request against the creation rules. The return_time is
// only required when the applicant declares they will come back.
func (r *CreateRequest) Validate() error {
	if r.ApplicantID == uuid.Nil {
		return dErrors.New(dErrors.CodeValidation, "applicant_id is required")
	}
	if r.InstructorID == uuid.Nil {
		return dErrors.New(dErrors.CodeValidation, "instructor_id is required")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if r.DepartureTime.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "departure_time is required")
	}
	if r.WillReturn && r.ReturnTime == nil {
		return dErrors.New(dErrors.CodeValidation, "return_time is required when will_return is set")
	}
	if r.ReturnTime != nil && !r.ReturnTime.After(r.DepartureTime) {
		return dErrors.New(dErrors.CodeValidation, "return_time must be after departure_time")
	}
	return nil
}
