// Package services implements the core request-shaping logic: the rate
// governor, its adaptive layer and the resilient API client.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
)

// GovernorConfig aggregates the tunables of the governor.
type GovernorConfig struct {
	// Rules maps action types to baseline thresholds. Defaults to
	// domain.DefaultRules when nil.
	Rules map[domain.ActionType]domain.Rule

	// SweepInterval is how often stale records are swept. Zero disables
	// the background sweep.
	SweepInterval time.Duration

	// MaxRecordAge is how long an untouched record is retained.
	MaxRecordAge time.Duration
}

// Governor decides, per action type and caller identity, whether a request
// may proceed. Decisions never fail: configuration gaps and storage errors
// are logged and resolve to an allow.
type Governor struct {
	store  ports.RecordStore
	rules  map[domain.ActionType]domain.Rule
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// GovernorOption customizes a Governor.
type GovernorOption func(*Governor)

// WithGovernorClock replaces the time source, for tests.
func WithGovernorClock(now func() time.Time) GovernorOption {
	return func(g *Governor) {
		g.now = now
	}
}

// WithGovernorLogger replaces the default logger.
func WithGovernorLogger(logger *slog.Logger) GovernorOption {
	return func(g *Governor) {
		g.logger = logger
	}
}

// NewGovernor creates the governor and, when configured, starts the
// periodic record sweep. Call Close to stop it.
func NewGovernor(store ports.RecordStore, cfg GovernorConfig, opts ...GovernorOption) (*Governor, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Rules == nil {
		cfg.Rules = domain.DefaultRules()
	}
	if cfg.MaxRecordAge <= 0 {
		cfg.MaxRecordAge = 24 * time.Hour
	}

	g := &Governor{
		store:  store,
		rules:  cfg.Rules,
		maxAge: cfg.MaxRecordAge,
		logger: slog.Default(),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	if cfg.SweepInterval > 0 {
		go g.sweepLoop(cfg.SweepInterval)
	}
	return g, nil
}

// Close stops the background sweep.
func (g *Governor) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// RateKey builds the composite record key for an action and identifier.
func RateKey(action domain.ActionType, identifier string) string {
	return fmt.Sprintf("%s:%s", action, identifier)
}

// CheckLimit evaluates admission for key against the trailing window. On
// denial only the prune mutates state, so a denied caller does not push its
// own reset time further out.
func (g *Governor) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) domain.Result {
	now := g.now()

	outcome, err := g.store.Take(ctx, key, limit, window)
	if err != nil {
		// Nothing was recorded, so the full allowance remains.
		g.logger.Error("rate record store unavailable, allowing request", "key", key, "error", err)
		return domain.Result{Allowed: true, Remaining: limit, ResetTime: now.Add(window)}
	}

	if !outcome.Allowed {
		resetTime := outcome.Oldest.Add(window)
		return domain.Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  resetTime,
			RetryAfter: ceilSeconds(resetTime.Sub(now)),
		}
	}

	return domain.Result{
		Allowed:   true,
		Remaining: limit - outcome.Count,
		ResetTime: now.Add(window),
	}
}

// Check applies the configured rule for action to identifier. Unknown
// actions are allowed and logged: an unconfigured action should not block
// the product.
func (g *Governor) Check(ctx context.Context, action domain.ActionType, identifier string) domain.Result {
	rule, ok := g.rules[action]
	if !ok {
		g.logger.Warn("unknown rate limit action", "action", action)
		return domain.Result{Allowed: true}
	}
	return g.CheckLimit(ctx, RateKey(action, identifier), rule.Limit, rule.Window)
}

// RecordAction appends a usage timestamp without enforcing a limit. Used to
// record completion after admission was already granted elsewhere.
func (g *Governor) RecordAction(ctx context.Context, action domain.ActionType, identifier string) {
	if err := g.store.Append(ctx, RateKey(action, identifier)); err != nil {
		g.logger.Error("failed to record action", "action", action, "error", err)
	}
}

// ClearLimit drops the record for one action and identifier.
func (g *Governor) ClearLimit(ctx context.Context, action domain.ActionType, identifier string) {
	if err := g.store.Clear(ctx, RateKey(action, identifier)); err != nil {
		g.logger.Error("failed to clear rate record", "action", action, "error", err)
	}
}

// ClearAll drops every record.
func (g *Governor) ClearAll(ctx context.Context) {
	if err := g.store.ClearAll(ctx); err != nil {
		g.logger.Error("failed to clear rate records", "error", err)
	}
}

// Rule returns the configured rule for an action.
func (g *Governor) Rule(action domain.ActionType) (domain.Rule, bool) {
	rule, ok := g.rules[action]
	return rule, ok
}

func (g *Governor) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if err := g.store.Sweep(context.Background(), g.maxAge); err != nil {
				g.logger.Error("record sweep failed", "error", err)
			}
		}
	}
}

// ceilSeconds rounds a duration up to whole seconds, keeping the result
// strictly positive for any positive input.
func ceilSeconds(d time.Duration) time.Duration {
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
