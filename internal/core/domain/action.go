// Package domain holds the core entities of the request governor.
package domain

import "time"

// ActionType is a logical category of operation used as the rate limit
// configuration key, independent of the HTTP route that triggers it.
type ActionType string

const (
	ActionLogin           ActionType = "LOGIN"
	ActionPasswordReset   ActionType = "PASSWORD_RESET"
	ActionPostCreate      ActionType = "POST_CREATE"
	ActionCommentCreate   ActionType = "COMMENT_CREATE"
	ActionLike            ActionType = "LIKE_ACTION"
	ActionFileUpload      ActionType = "FILE_UPLOAD"
	ActionLargeFileUpload ActionType = "LARGE_FILE_UPLOAD"
	ActionMessageSend     ActionType = "MESSAGE_SEND"
	ActionSearchQuery     ActionType = "SEARCH_QUERY"
	ActionUserManagement  ActionType = "USER_MANAGEMENT"
	ActionModeration      ActionType = "MODERATION"
)

// Rule is the baseline threshold for one action type.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules returns the baseline thresholds for every known action type.
// Callers receive a fresh map and may override entries from configuration.
func DefaultRules() map[ActionType]Rule {
	return map[ActionType]Rule{
		ActionLogin:           {Limit: 5, Window: 15 * time.Minute},
		ActionPasswordReset:   {Limit: 3, Window: time.Hour},
		ActionPostCreate:      {Limit: 10, Window: time.Minute},
		ActionCommentCreate:   {Limit: 30, Window: time.Minute},
		ActionLike:            {Limit: 100, Window: time.Minute},
		ActionFileUpload:      {Limit: 20, Window: time.Minute},
		ActionLargeFileUpload: {Limit: 5, Window: 5 * time.Minute},
		ActionMessageSend:     {Limit: 60, Window: time.Minute},
		ActionSearchQuery:     {Limit: 30, Window: time.Minute},
		ActionUserManagement:  {Limit: 20, Window: time.Minute},
		ActionModeration:      {Limit: 50, Window: time.Minute},
	}
}
