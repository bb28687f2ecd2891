package policy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultAccountParam is the path parameter that carries the target
// account id unless a rule names another one.
const DefaultAccountParam = "accountId"

// ErrDuplicateRoute is returned when two rules for one method render the
// same route key, as "/x/:id" and "/x/*" do.
var ErrDuplicateRoute = errors.New("duplicate route key")

// RuleSpec is the uncompiled form of a route rule, as written in
// configuration.
type RuleSpec struct {
	Path         string
	Method       string
	Scope        string
	Limit        int64
	AccountParam string
}

// Rule is a compiled route rule.
type Rule struct {
	Pattern Pattern
	Method  string
	Scope   string
	// Limit is the static per-window rate limit; zero means the global
	// default applies.
	Limit int64
	// AccountParam names the captured parameter holding the target
	// account id, or is empty when the route is not account scoped.
	AccountParam string
}

// RouteKey is the stable route identifier used for rate-limit counters
// and purchased overrides.
func (r Rule) RouteKey() string {
	return r.Pattern.Key()
}

// Builder accumulates rule specs and compiles them into an immutable
// RouteTable. Errors are collected and reported by Build.
type Builder struct {
	rules []Rule
	errs  []error
}

// NewBuilder returns an empty route table builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a rule. Rules are matched in the order they were added.
func (b *Builder) Add(spec RuleSpec) *Builder {
	rule, err := compileRule(spec)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("route %d (%s %s): %w", len(b.rules)+len(b.errs), spec.Method, spec.Path, err))
		return b
	}
	b.rules = append(b.rules, rule)
	return b
}

// Route is shorthand for Add with no account override.
func (b *Builder) Route(path, method, scope string, limit int64) *Builder {
	return b.Add(RuleSpec{Path: path, Method: method, Scope: scope, Limit: limit})
}

// Build returns the compiled table, or every compile error joined. Rules
// sharing a method and route key are rejected with ErrDuplicateRoute.
func (b *Builder) Build() (*RouteTable, error) {
	errs := append([]error(nil), b.errs...)
	seen := make(map[string]int, len(b.rules))
	for i, r := range b.rules {
		k := r.Method + " " + r.RouteKey()
		if j, dup := seen[k]; dup {
			errs = append(errs, fmt.Errorf("route %s %s: %w with route %s", r.Method, r.Pattern, ErrDuplicateRoute, b.rules[j].Pattern))
			continue
		}
		seen[k] = i
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	rules := make([]Rule, len(b.rules))
	copy(rules, b.rules)
	return &RouteTable{rules: rules}, nil
}

func compileRule(spec RuleSpec) (Rule, error) {
	pattern, err := CompilePattern(spec.Path)
	if err != nil {
		return Rule{}, err
	}
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if !validMethod(method) {
		return Rule{}, fmt.Errorf("unsupported method %q", spec.Method)
	}
	if spec.Scope == "" {
		return Rule{}, errors.New("missing scope")
	}
	if spec.Limit < 0 {
		return Rule{}, fmt.Errorf("negative limit %d", spec.Limit)
	}

	accountParam := spec.AccountParam
	switch {
	case accountParam != "":
		if !pattern.HasParam(accountParam) {
			return Rule{}, fmt.Errorf("account parameter %q not in pattern", accountParam)
		}
	case pattern.HasParam(DefaultAccountParam):
		accountParam = DefaultAccountParam
	}

	return Rule{
		Pattern:      pattern,
		Method:       method,
		Scope:        spec.Scope,
		Limit:        spec.Limit,
		AccountParam: accountParam,
	}, nil
}

func validMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// RouteTable is an ordered, immutable list of route rules. The first rule
// whose method and pattern both match a request wins; a request matching
// no rule has no access.
type RouteTable struct {
	rules []Rule
}

// NewRouteTable compiles specs in order.
func NewRouteTable(specs []RuleSpec) (*RouteTable, error) {
	b := NewBuilder()
	for _, s := range specs {
		b.Add(s)
	}
	return b.Build()
}

// Match is the result of a successful route lookup.
type Match struct {
	Rule   Rule
	Index  int
	Params map[string]string
}

// AccountID returns the account id captured from the path, if the matched
// rule is account scoped.
func (m *Match) AccountID() string {
	if m == nil || m.Rule.AccountParam == "" {
		return ""
	}
	return m.Params[m.Rule.AccountParam]
}

// Match returns the first rule matching method and path.
func (t *RouteTable) Match(method, path string) (*Match, bool) {
	method = strings.ToUpper(method)
	for i, r := range t.rules {
		if r.Method != method {
			continue
		}
		if params, ok := r.Pattern.Match(path); ok {
			return &Match{Rule: r, Index: i, Params: params}, true
		}
	}
	return nil, false
}

// Rules returns a copy of the rules in match order.
func (t *RouteTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len returns the number of rules.
func (t *RouteTable) Len() int {
	return len(t.rules)
}

// Lookup finds the rule for method whose route key equals route. route
// may be given as a key or as the rule's path pattern.
func (t *RouteTable) Lookup(route, method string) (Rule, bool) {
	method = strings.ToUpper(method)
	key := route
	if p, err := CompilePattern(route); err == nil {
		key = p.Key()
	}
	for _, r := range t.rules {
		if r.Method != method {
			continue
		}
		if rk := r.RouteKey(); rk == route || rk == key {
			return r, true
		}
	}
	return Rule{}, false
}
