package approval

import "rollcall/internal/core"

// Derive computes the request status as a pure function of the two approval
// flags and whether any approver rejected. Every persistence path derives
// status through this (or its SQL equivalent), so flags and status cannot
// skew: a row with both flags set but a pending status is unrepresentable.
//
// Rejection is terminal and wins over everything; approval requires both
// flags with no rejection on record.
func Derive(teacherApproved, adminApproved, rejected bool) core.RequestStatus {
	switch {
	case rejected:
		return core.RequestRejected
	case teacherApproved && adminApproved:
		return core.RequestApproved
	default:
		return core.RequestPending
	}
}

// DesignatedApprover returns the approver id holding the role's slot.
func (r Request) DesignatedApprover(role core.ApproverRole) string {
	if role == core.RoleTeacher {
		return r.TeacherID
	}
	return r.AdminID
}
