package domain

import "time"

// Role is the declared role of the caller. Elevated roles receive larger
// allowances, the applicant role a reduced one.
type Role string

const (
	RoleAdmin     Role = "Admin"
	RoleLeader    Role = "Leader"
	RoleMember    Role = "Member"
	RoleApplicant Role = "Applicant"
)

// Multiplier returns the allowance factor applied to the base limit for
// the role. Unknown roles fall back to the member factor.
func (r Role) Multiplier() float64 {
	switch r {
	case RoleAdmin:
		return 2.0
	case RoleLeader:
		return 1.5
	case RoleApplicant:
		return 0.5
	default:
		return 1.0
	}
}

// Result is the outcome of a single admission check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	// RetryAfter is how long the caller should wait before retrying.
	// Zero unless the request was denied.
	RetryAfter time.Duration
}

// AdaptiveResult extends Result with the adjustments made by the
// behavior-aware layer. Reason is only populated on denial.
type AdaptiveResult struct {
	Result
	AdjustedLimit int
	OriginalLimit int
	Reason        string
}

// Context describes the caller of an adaptive admission check.
type Context struct {
	UserID    string
	Role      Role
	IPAddress string
	UserAgent string
}

// Identifier returns the value used to key rate records for this caller:
// the user ID when known, else the source address, else "anonymous".
func (c Context) Identifier() string {
	if c.UserID != "" {
		return c.UserID
	}
	if c.IPAddress != "" {
		return c.IPAddress
	}
	return "anonymous"
}
