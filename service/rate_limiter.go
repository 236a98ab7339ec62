package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// Route identifiers used as rate limit keys.
const (
	RouteLoginCredential    = "login.credential"
	RouteWalletChallenge    = "login.wallet.challenge"
	RouteLoginWallet        = "login.wallet.verify"
	RouteRegisterWallet     = "register.wallet"
	RouteRegisterCredential = "register.credential"
	RouteTwoFactorVerify    = "twofactor.verify"
	RouteTwoFactorResend    = "twofactor.resend"
	RouteRefresh            = "token.refresh"
	RouteLogout             = "logout"
	RouteSetTwoFactor       = "account.twofactor"
	RouteLinkWallet         = "account.wallet"
	RouteDisableAccount     = "admin.disable"
	RouteMe                 = "account.me"
	RouteAuthorize          = "authorize"
)

// StrictRoutes get the destructive route rule unless overridden.
var StrictRoutes = []string{RouteLogout, RouteRegisterWallet, RouteRegisterCredential, RouteTwoFactorResend, RouteDisableAccount}

// Rule is a fixed window limit.
type Rule struct {
	Limit  int
	Window time.Duration
}

// ParseRule parses "limit/window", e.g. "60/1m".
func ParseRule(s string) (Rule, error) {
	limit, window, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rule{}, fmt.Errorf("rate rule %q: want limit/window", s)
	}
	n, err := strconv.Atoi(limit)
	if err != nil || n < 1 {
		return Rule{}, fmt.Errorf("rate rule %q: limit must be a positive integer", s)
	}
	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		return Rule{}, fmt.Errorf("rate rule %q: window must be a positive duration", s)
	}
	return Rule{Limit: n, Window: d}, nil
}

// UnmarshalText parses a rule from its "limit/window" form.
func (r *Rule) UnmarshalText(text []byte) error {
	parsed, err := ParseRule(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// String formats the rule as "limit/window".
func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// RateLimiter admits or rejects requests per (route, identity) using fixed
// windows. It never retries.
type RateLimiter struct {
	clock
	counter  ports.RateLimitCounter
	fallback Rule
	rules    map[string]Rule
}

// NewRateLimiter creates a limiter. Routes missing from rules use fallback.
func NewRateLimiter(counter ports.RateLimitCounter, fallback Rule, rules map[string]Rule, opts ...Option) *RateLimiter {
	l := &RateLimiter{
		clock:    newClock(),
		counter:  counter,
		fallback: fallback,
		rules:    make(map[string]Rule, len(rules)),
	}
	for route, rule := range rules {
		l.rules[route] = rule
	}
	applyOptions(l, opts)
	return l
}

// Rule returns the rule applied to route.
func (l *RateLimiter) Rule(route string) Rule {
	if rule, ok := l.rules[route]; ok {
		return rule
	}
	return l.fallback
}

// Admit counts the request and reports whether it may proceed. Counter
// failures are returned as errors and the request is not admitted.
func (l *RateLimiter) Admit(ctx context.Context, route, identity string) (core.RateLimitDecision, error) {
	if route == "" || identity == "" {
		return core.RateLimitDecision{}, fmt.Errorf("%w: rate limit key requires route and identity", core.ErrInvalidRequest)
	}

	rule := l.Rule(route)
	count, resetAt, err := l.counter.Hit(ctx, route+"|"+identity, rule.Window, l.now())
	if err != nil {
		return core.RateLimitDecision{}, err
	}

	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return core.RateLimitDecision{
		Allowed:   count <= int64(rule.Limit),
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
