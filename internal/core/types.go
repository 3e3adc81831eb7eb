package core

// SessionState tracks the lifecycle of an attendance session.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionExpired   SessionState = "expired"
	SessionCompleted SessionState = "completed"
)

// Valid returns true when the state is a supported value.
func (s SessionState) Valid() bool {
	switch s {
	case SessionActive, SessionExpired, SessionCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state can never transition again.
func (s SessionState) Terminal() bool {
	return s == SessionExpired || s == SessionCompleted
}

// AttendanceStatus tags an attendance record.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLate    AttendanceStatus = "late"
	StatusOnDuty  AttendanceStatus = "onduty"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusOnDuty:
		return true
	default:
		return false
	}
}

// RequestStatus is the terminal-state machine of an on-duty request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether further approvals are no-ops.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// ApproverRole names the two independent approval slots.
type ApproverRole string

const (
	RoleTeacher ApproverRole = "teacher"
	RoleAdmin   ApproverRole = "admin"
)

// Valid returns true for a supported role.
func (r ApproverRole) Valid() bool {
	return r == RoleTeacher || r == RoleAdmin
}
