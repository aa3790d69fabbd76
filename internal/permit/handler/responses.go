package handler

import (
	"time"

	"exeat/internal/permit/models"
)

type permitResponse struct {
	ID            string     `json:"id"`
	ApplicantID   string     `json:"applicant_id"`
	InstructorID  string     `json:"instructor_id"`
	Reason        string     `json:"reason"`
	Description   string     `json:"description,omitempty"`
	DepartureTime time.Time  `json:"departure_time"`
	ReturnTime    *time.Time `json:"return_time,omitempty"`
	AttachmentRef string     `json:"attachment_ref,omitempty"`
	State         string     `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
}

type approvalResponse struct {
	ID         string    `json:"id"`
	PermitID   string    `json:"permit_id"`
	Role       string    `json:"approver_role"`
	ApproverID string    `json:"approver_id,omitempty"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	QRToken    string    `json:"qr_token,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

type permitDetailResponse struct {
	Permit    permitResponse     `json:"permit"`
	Approvals []approvalResponse `json:"approvals"`
	// QRToken is surfaced top-level so clients can render the gate pass
	// without digging through the ledger.
	QRToken string `json:"qr_token,omitempty"`
}

type listResponse struct {
	Permits []permitResponse `json:"permits"`
}

func formatPermit(permit *models.Permit) permitResponse {
	return permitResponse{
		ID:            permit.ID.String(),
		ApplicantID:   permit.ApplicantID.String(),
		InstructorID:  permit.InstructorID.String(),
		Reason:        permit.Reason,
		Description:   permit.Description,
		DepartureTime: permit.DepartureTime,
		ReturnTime:    permit.ReturnTime,
		AttachmentRef: permit.AttachmentRef,
		State:         string(permit.State),
		CreatedAt:     permit.CreatedAt,
	}
}

func formatApproval(record *models.ApprovalRecord) approvalResponse {
	resp := approvalResponse{
		ID:        record.ID.String(),
		PermitID:  record.PermitID.String(),
		Role:      string(record.Role),
		Decision:  string(record.Decision),
		Reason:    record.Reason,
		QRToken:   record.QRToken,
		DecidedAt: record.DecidedAt,
	}
	if record.ApproverID != nil {
		resp.ApproverID = record.ApproverID.String()
	}
	return resp
}
