// Package ports defines the contracts that connect the core to external
// implementations.
package ports

import (
	"context"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
)

// Limiter decides whether an action by an identifier may proceed and tracks
// successful completions for future decisions.
type Limiter interface {
	Check(ctx context.Context, action domain.ActionType, identifier string) domain.Result
	RecordAction(ctx context.Context, action domain.ActionType, identifier string)
}

// AdaptiveLimiter adjusts allowances by caller role and observed behavior.
type AdaptiveLimiter interface {
	CheckAdaptive(ctx context.Context, action domain.ActionType, caller domain.Context) domain.AdaptiveResult
}
