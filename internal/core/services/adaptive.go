package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
	"github.com/hausofbasquiat/gatekeeper/internal/observability"
)

// botAgentPattern matches user agents of known automation tooling.
var botAgentPattern = regexp.MustCompile(`(?i)bot|crawler|spider|scraper|curl|wget|python-requests|axios`)

// AdaptiveConfig carries the behavior thresholds. They are product
// tunables, not engineering invariants, so they live in configuration.
type AdaptiveConfig struct {
	// RapidRequestThreshold is the cumulative count of requests arriving
	// within RapidInterval of the previous one before the caller is
	// considered suspicious.
	RapidRequestThreshold int

	// DominantActionRatio is the max single-action share of a caller's
	// traffic before it looks automated.
	DominantActionRatio float64

	// DominantMinSamples is the minimum number of observed requests before
	// the dominant-action ratio is trusted. With only a handful of requests
	// the ratio is trivially high for every caller.
	DominantMinSamples int

	// BlockedThreshold is the number of denials after which a profile is
	// permanently marked suspicious.
	BlockedThreshold int

	// RapidInterval is the spacing under which two requests count as rapid.
	RapidInterval time.Duration

	// SuspiciousFactor is applied to the adjusted limit of suspicious
	// callers.
	SuspiciousFactor float64

	// ProfileMaxAge is how long an inactive profile is retained.
	ProfileMaxAge time.Duration

	// SweepInterval is how often inactive profiles are swept. Zero
	// disables the sweep.
	SweepInterval time.Duration
}

// DefaultAdaptiveConfig returns the standard thresholds.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		RapidRequestThreshold: 50,
		DominantActionRatio:   0.8,
		DominantMinSamples:    10,
		BlockedThreshold:      10,
		RapidInterval:         time.Second,
		SuspiciousFactor:      0.1,
		ProfileMaxAge:         24 * time.Hour,
		SweepInterval:         5 * time.Minute,
	}
}

type behaviorProfile struct {
	totalRequests int
	blocked       int
	rapidRequests int
	actionCounts  map[domain.ActionType]int
	dominantRatio float64
	lastRequest   time.Time
	suspicious    bool
}

// Adaptive layers behavior-aware limit adjustment over the base governor.
// Allowances scale with the caller's role and shrink sharply once the
// caller looks suspicious.
type Adaptive struct {
	base   *Governor
	cfg    AdaptiveConfig
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	profiles      map[string]*behaviorProfile
	suspiciousIPs map[string]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// AdaptiveOption customizes an Adaptive governor.
type AdaptiveOption func(*Adaptive)

// WithAdaptiveClock replaces the time source, for tests.
func WithAdaptiveClock(now func() time.Time) AdaptiveOption {
	return func(a *Adaptive) {
		a.now = now
	}
}

// WithAdaptiveLogger replaces the default logger.
func WithAdaptiveLogger(logger *slog.Logger) AdaptiveOption {
	return func(a *Adaptive) {
		a.logger = logger
	}
}

// NewAdaptive creates the adaptive layer and, when configured, starts the
// periodic profile sweep. Call Close to stop it.
func NewAdaptive(base *Governor, cfg AdaptiveConfig, opts ...AdaptiveOption) (*Adaptive, error) {
	if base == nil {
		return nil, fmt.Errorf("base governor is required")
	}
	if cfg.RapidRequestThreshold <= 0 || cfg.BlockedThreshold <= 0 {
		return nil, fmt.Errorf("behavior thresholds must be positive")
	}
	if cfg.DominantActionRatio <= 0 || cfg.DominantActionRatio > 1 {
		return nil, fmt.Errorf("dominant action ratio must be in (0, 1]")
	}
	if cfg.RapidInterval <= 0 {
		cfg.RapidInterval = time.Second
	}
	if cfg.DominantMinSamples <= 0 {
		cfg.DominantMinSamples = 10
	}
	if cfg.SuspiciousFactor <= 0 {
		cfg.SuspiciousFactor = 0.1
	}
	if cfg.ProfileMaxAge <= 0 {
		cfg.ProfileMaxAge = 24 * time.Hour
	}

	a := &Adaptive{
		base:          base,
		cfg:           cfg,
		logger:        slog.Default(),
		now:           time.Now,
		profiles:      make(map[string]*behaviorProfile),
		suspiciousIPs: make(map[string]struct{}),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.SweepInterval > 0 {
		go a.sweepLoop(cfg.SweepInterval)
	}
	return a, nil
}

// Close stops the background profile sweep.
func (a *Adaptive) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// CheckAdaptive evaluates admission for the caller with role- and
// behavior-adjusted allowances. Every call updates the caller's behavior
// profile, whatever the outcome.
func (a *Adaptive) CheckAdaptive(ctx context.Context, action domain.ActionType, caller domain.Context) domain.AdaptiveResult {
	rule, ok := a.base.Rule(action)
	if !ok {
		a.logger.Warn("unknown rate limit action", "action", action)
		return domain.AdaptiveResult{Result: domain.Result{Allowed: true}}
	}

	suspicious := a.IsSuspiciousActivity(caller)

	factor := caller.Role.Multiplier()
	if suspicious {
		factor *= a.cfg.SuspiciousFactor
	}
	adjusted := int(math.Ceil(float64(rule.Limit) * factor))
	if adjusted < 1 {
		adjusted = 1
	}

	identifier := caller.Identifier()
	result := a.base.CheckLimit(ctx, RateKey(action, identifier), adjusted, rule.Window)

	a.trackBehavior(caller, action, result.Allowed)

	out := domain.AdaptiveResult{
		Result:        result,
		AdjustedLimit: adjusted,
		OriginalLimit: rule.Limit,
	}
	if !result.Allowed {
		out.Reason = a.denialReason(caller, suspicious)
	}
	return out
}

// IsSuspiciousActivity reports whether the caller matches any abuse signal:
// a flagged source address, a sticky suspicious profile, excessive rapid
// requests, a dominant single action, or an automation user agent.
func (a *Adaptive) IsSuspiciousActivity(caller domain.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isSuspiciousLocked(caller)
}

func (a *Adaptive) isSuspiciousLocked(caller domain.Context) bool {
	if _, ok := a.suspiciousIPs[caller.IPAddress]; ok && caller.IPAddress != "" {
		return true
	}

	if profile, ok := a.profiles[caller.Identifier()]; ok {
		if profile.suspicious {
			return true
		}
		if profile.rapidRequests > a.cfg.RapidRequestThreshold {
			return true
		}
		if profile.totalRequests >= a.cfg.DominantMinSamples && profile.dominantRatio > a.cfg.DominantActionRatio {
			return true
		}
	}

	return caller.UserAgent != "" && botAgentPattern.MatchString(caller.UserAgent)
}

func (a *Adaptive) trackBehavior(caller domain.Context, action domain.ActionType, allowed bool) {
	now := a.now()
	identifier := caller.Identifier()

	a.mu.Lock()
	defer a.mu.Unlock()

	profile, ok := a.profiles[identifier]
	if !ok {
		profile = &behaviorProfile{actionCounts: make(map[domain.ActionType]int)}
		a.profiles[identifier] = profile
	}

	profile.totalRequests++
	if !allowed {
		profile.blocked++
	}
	if !profile.lastRequest.IsZero() && now.Sub(profile.lastRequest) < a.cfg.RapidInterval {
		profile.rapidRequests++
	}

	profile.actionCounts[action]++
	maxCount := 0
	for _, count := range profile.actionCounts {
		if count > maxCount {
			maxCount = count
		}
	}
	profile.dominantRatio = float64(maxCount) / float64(profile.totalRequests)

	if profile.blocked > a.cfg.BlockedThreshold && !profile.suspicious {
		profile.suspicious = true
		observability.SuspiciousPromotions.Inc()
		a.logger.Warn("caller promoted to suspicious", "identifier", identifier, "blocked", profile.blocked)
		if caller.IPAddress != "" {
			a.suspiciousIPs[caller.IPAddress] = struct{}{}
		}
	}

	profile.lastRequest = now
}

func (a *Adaptive) denialReason(caller domain.Context, suspicious bool) string {
	if suspicious {
		return "Request blocked due to suspicious activity patterns"
	}
	if caller.Role == domain.RoleApplicant {
		return "Rate limit applied to applicant users"
	}
	return "Rate limit exceeded for this action"
}

// ResetBehavior drops the behavior profile for an identifier, clearing the
// sticky suspicious flag. Used after an admin review.
func (a *Adaptive) ResetBehavior(identifier string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.profiles, identifier)
}

// MarkSuspiciousIP adds a source address to the suspicious set.
func (a *Adaptive) MarkSuspiciousIP(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suspiciousIPs[ip] = struct{}{}
}

// WhitelistIP removes a source address from the suspicious set.
func (a *Adaptive) WhitelistIP(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.suspiciousIPs, ip)
}

// Analytics aggregates current behavior profiles for the admin surface.
func (a *Adaptive) Analytics() domain.BehaviorAnalytics {
	a.mu.Lock()
	defer a.mu.Unlock()

	analytics := domain.BehaviorAnalytics{
		TotalProfiles: len(a.profiles),
		SuspiciousIPs: len(a.suspiciousIPs),
		TopActions:    make(map[domain.ActionType]int),
	}

	totalRequests := 0
	for _, profile := range a.profiles {
		if profile.suspicious {
			analytics.SuspiciousProfiles++
		}
		totalRequests += profile.totalRequests
		for action, count := range profile.actionCounts {
			analytics.TopActions[action] += count
		}
	}

	divisor := len(a.profiles)
	if divisor == 0 {
		divisor = 1
	}
	analytics.AverageRequestsPerUser = float64(totalRequests) / float64(divisor)
	return analytics
}

func (a *Adaptive) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.sweepProfiles()
		}
	}
}

// sweepProfiles drops profiles inactive past ProfileMaxAge, bounding the
// memory held for callers that never return.
func (a *Adaptive) sweepProfiles() {
	cutoff := a.now().Add(-a.cfg.ProfileMaxAge)

	a.mu.Lock()
	defer a.mu.Unlock()
	for identifier, profile := range a.profiles {
		if profile.lastRequest.Before(cutoff) {
			delete(a.profiles, identifier)
		}
	}
}
