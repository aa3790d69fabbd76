package models

// PermitDetail pairs a permit with its full approval ledger.
type PermitDetail struct {
	Permit    *Permit
	Approvals []*ApprovalRecord
}

// LatestByStage reduces an append-only ledger to the authoritative record
// per deciding role for display: latest by decided_at wins.
func LatestByStage(records []*ApprovalRecord) map[Role]*ApprovalRecord {
	latest := make(map[Role]*ApprovalRecord)
	for _, record := range records {
		current, ok := latest[record.Role]
		if !ok || record.DecidedAt.After(current.DecidedAt) {
			latest[record.Role] = record
		}
	}
	return latest
}
