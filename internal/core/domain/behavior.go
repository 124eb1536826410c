package domain

// BehaviorAnalytics aggregates behavior profiles for the admin surface.
type BehaviorAnalytics struct {
	TotalProfiles          int                `json:"total_profiles"`
	SuspiciousProfiles     int                `json:"suspicious_profiles"`
	SuspiciousIPs          int                `json:"suspicious_ips"`
	TopActions             map[ActionType]int `json:"top_actions"`
	AverageRequestsPerUser float64            `json:"average_requests_per_user"`
}
