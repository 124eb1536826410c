package services

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
)

// EndpointRule maps one method and path template to an action type. A `*`
// in the template matches exactly one path segment.
type EndpointRule struct {
	Method  string
	Pattern string
	Action  domain.ActionType
}

// DefaultEndpointRules covers the write-heavy surface of the backend API.
// Endpoints without a mapping are not rate enforced client-side.
func DefaultEndpointRules() []EndpointRule {
	return []EndpointRule{
		{http.MethodPost, "/api/auth/login", domain.ActionLogin},
		{http.MethodPost, "/api/auth/password-reset", domain.ActionPasswordReset},
		{http.MethodPost, "/api/posts", domain.ActionPostCreate},
		{http.MethodPost, "/api/posts/*/comments", domain.ActionCommentCreate},
		{http.MethodPost, "/api/posts/*/like", domain.ActionLike},
		{http.MethodPost, "/api/documents/upload", domain.ActionFileUpload},
		{http.MethodPost, "/api/upload", domain.ActionFileUpload},
		{http.MethodPost, "/api/upload/multiple", domain.ActionLargeFileUpload},
		{http.MethodPost, "/api/chat/threads/*/messages", domain.ActionMessageSend},
		{http.MethodGet, "/api/search", domain.ActionSearchQuery},
		{http.MethodGet, "/api/users/search", domain.ActionSearchQuery},
		{http.MethodPut, "/api/admin/users/*", domain.ActionUserManagement},
		{http.MethodPut, "/api/admin/applications/*", domain.ActionModeration},
	}
}

// ActionResolver maps requests to action types. Shared by the API client's
// pre-dispatch stage and the server middleware so both enforce the same
// table.
type ActionResolver struct {
	table *routeTable
}

// NewActionResolver builds a resolver from endpoint rules. Nil rules fall
// back to DefaultEndpointRules.
func NewActionResolver(rules []EndpointRule) *ActionResolver {
	if rules == nil {
		rules = DefaultEndpointRules()
	}
	return &ActionResolver{table: newRouteTable(rules)}
}

// Resolve returns the action type for a method and path, if one is mapped.
func (r *ActionResolver) Resolve(method, path string) (domain.ActionType, bool) {
	return r.table.resolve(method, path)
}

type wildcardRule struct {
	method string
	re     *regexp.Regexp
	action domain.ActionType
}

// routeTable resolves method+path to an action type: exact matches first,
// then wildcard templates in declaration order.
type routeTable struct {
	exact map[string]domain.ActionType
	wild  []wildcardRule
}

func newRouteTable(rules []EndpointRule) *routeTable {
	t := &routeTable{exact: make(map[string]domain.ActionType)}
	for _, rule := range rules {
		if !strings.Contains(rule.Pattern, "*") {
			t.exact[rule.Method+" "+rule.Pattern] = rule.Action
			continue
		}
		t.wild = append(t.wild, wildcardRule{
			method: rule.Method,
			re:     compileTemplate(rule.Pattern),
			action: rule.Action,
		})
	}
	return t
}

func (t *routeTable) resolve(method, path string) (domain.ActionType, bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	if action, ok := t.exact[method+" "+path]; ok {
		return action, true
	}
	for _, rule := range t.wild {
		if rule.method == method && rule.re.MatchString(path) {
			return rule.action, true
		}
	}
	return "", false
}

// compileTemplate turns a path template into an anchored regexp where `*`
// matches a single non-empty path segment.
func compileTemplate(pattern string) *regexp.Regexp {
	segments := strings.Split(pattern, "/")
	for i, segment := range segments {
		if segment == "*" {
			segments[i] = "[^/]+"
		} else {
			segments[i] = regexp.QuoteMeta(segment)
		}
	}
	return regexp.MustCompile("^" + strings.Join(segments, "/") + "$")
}
