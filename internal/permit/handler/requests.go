package handler

import (
	"time"
)

type createPermitRequest struct {
	InstructorID  string     `json:"instructor_id" validate:"required,uuid"`
	Reason        string     `json:"reason" validate:"required,notblank"`
	Description   string     `json:"description,omitempty"`
	DepartureTime time.Time  `json:"departure_time" validate:"required"`
	WillReturn    bool       `json:"will_return"`
	ReturnTime    *time.Time `json:"return_time,omitempty"`
	AttachmentRef string     `json:"attachment_ref,omitempty"`
}

type decideRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty" validate:"max=2000"`
}
