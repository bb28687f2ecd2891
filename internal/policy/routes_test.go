package policy

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Route table
// ---------------------------------------------------------------------------

func TestRouteTableFirstMatchWins(t *testing.T) {
	table, err := NewBuilder().
		Route("/api/accounts/:accountId/data/search", http.MethodPost, ScopeDeviceRead, 100).
		Route("/api/accounts/:accountId/data/:deviceId", http.MethodPost, ScopeDataSubmit, 3600).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	m, ok := table.Match(http.MethodPost, "/api/accounts/a1/data/search")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Index != 0 || m.Rule.Scope != ScopeDeviceRead {
		t.Errorf("matched rule %d (%s), want rule 0 (device:read)", m.Index, m.Rule.Scope)
	}

	// Same result every time.
	for i := 0; i < 10; i++ {
		again, _ := table.Match(http.MethodPost, "/api/accounts/a1/data/search")
		if again.Index != m.Index {
			t.Fatalf("non-deterministic match: %d then %d", m.Index, again.Index)
		}
	}
}

func TestRouteTableOrderSensitivity(t *testing.T) {
	reversed, err := NewBuilder().
		Route("/api/accounts/:accountId/data/:deviceId", http.MethodPost, ScopeDataSubmit, 3600).
		Route("/api/accounts/:accountId/data/search", http.MethodPost, ScopeDeviceRead, 100).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m, ok := reversed.Match(http.MethodPost, "/api/accounts/a1/data/search")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Rule.Scope != ScopeDataSubmit {
		t.Errorf("scope = %q, want data:submit when the wildcard rule comes first", m.Rule.Scope)
	}
	if m.Params["deviceId"] != "search" {
		t.Errorf("deviceId = %q, want search", m.Params["deviceId"])
	}
}

func TestRouteTableMethodMustMatch(t *testing.T) {
	table, err := NewBuilder().Route("/api/health", "get", ScopePublic, 0).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := table.Match(http.MethodPost, "/api/health"); ok {
		t.Error("POST should not match a GET rule")
	}
	if _, ok := table.Match("get", "/api/health"); !ok {
		t.Error("method matching should be case-insensitive")
	}
	if _, ok := table.Match(http.MethodGet, "/api/unknown"); ok {
		t.Error("unlisted path should not match")
	}
}

func TestRuleAccountParam(t *testing.T) {
	table, err := NewRouteTable([]RuleSpec{
		{Path: "/api/accounts/:accountId/devices", Method: "GET", Scope: ScopeDeviceRead},
		{Path: "/api/domains/:domainId/devices", Method: "GET", Scope: ScopeDeviceRead, AccountParam: "domainId"},
		{Path: "/api/users/me", Method: "GET", Scope: ScopeUserSelf},
	})
	if err != nil {
		t.Fatalf("NewRouteTable: %v", err)
	}

	m, _ := table.Match("GET", "/api/accounts/a1/devices")
	if got := m.AccountID(); got != "a1" {
		t.Errorf("AccountID = %q, want a1", got)
	}
	m, _ = table.Match("GET", "/api/domains/d7/devices")
	if got := m.AccountID(); got != "d7" {
		t.Errorf("AccountID via custom param = %q, want d7", got)
	}
	m, _ = table.Match("GET", "/api/users/me")
	if got := m.AccountID(); got != "" {
		t.Errorf("AccountID on non-account route = %q, want empty", got)
	}

	var nilMatch *Match
	if nilMatch.AccountID() != "" {
		t.Error("nil match should have no account")
	}
}

func TestBuilderCollectsErrors(t *testing.T) {
	_, err := NewBuilder().
		Route("no-slash", "GET", ScopePublic, 0).
		Route("/ok", "FETCH", ScopePublic, 0).
		Route("/ok", "GET", "", 0).
		Route("/ok", "GET", ScopePublic, -1).
		Add(RuleSpec{Path: "/api/users/:userId", Method: "GET", Scope: ScopePublic, AccountParam: "accountId"}).
		Build()
	if err == nil {
		t.Fatal("expected build error")
	}
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("expected joined error to include ErrInvalidPattern, got %v", err)
	}
	for _, want := range []string{"FETCH", "missing scope", "negative limit", "not in pattern"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestBuilderRejectsDuplicateRouteKey(t *testing.T) {
	_, err := NewBuilder().
		Route("/x/:id", http.MethodGet, ScopePublic, 0).
		Route("/x/*", http.MethodGet, ScopePublic, 5).
		Build()
	if !errors.Is(err, ErrDuplicateRoute) {
		t.Fatalf("expected ErrDuplicateRoute, got %v", err)
	}
	if !strings.Contains(err.Error(), "/x/:id") {
		t.Errorf("error %q does not name the first route", err)
	}

	// Same key under different methods is fine.
	if _, err := NewBuilder().
		Route("/x/:id", http.MethodGet, ScopePublic, 0).
		Route("/x/*", http.MethodPut, ScopePublic, 0).
		Build(); err != nil {
		t.Errorf("Build: %v", err)
	}
}

func TestDefaultRoutesHaveDistinctKeys(t *testing.T) {
	if _, err := NewRouteTable(DefaultRoutes()); err != nil {
		t.Fatalf("NewRouteTable(DefaultRoutes()): %v", err)
	}
}

func TestRouteTableRulesIsACopy(t *testing.T) {
	table, _ := NewBuilder().Route("/api/health", "GET", ScopePublic, 0).Build()
	rules := table.Rules()
	rules[0].Scope = "mutated"
	m, _ := table.Match("GET", "/api/health")
	if m.Rule.Scope != ScopePublic {
		t.Error("mutating Rules() result changed the table")
	}
	if table.Len() != 1 {
		t.Errorf("Len = %d, want 1", table.Len())
	}
}

// ---------------------------------------------------------------------------
// Role table and validation
// ---------------------------------------------------------------------------

func TestRoleTableGrants(t *testing.T) {
	roles := NewRoleTable(DefaultRoles())

	if !roles.Grants("user", ScopeAccountWrite) {
		t.Error("user should grant account:write")
	}
	if roles.Grants("user", ScopeAccountAdmin) {
		t.Error("user should not grant account:admin")
	}
	if !roles.Grants("anon", ScopePublic) {
		t.Error("anon should grant public")
	}
	if roles.Grants("nobody", ScopePublic) {
		t.Error("unknown role should grant nothing")
	}
	if !roles.Grants("system", ScopeSysAdmin) {
		t.Error("system should grant sysadmin")
	}
}

func TestRoleTableChangeOnlyAffectsScopeGate(t *testing.T) {
	routes, err := NewRouteTable(DefaultRoutes())
	if err != nil {
		t.Fatalf("NewRouteTable: %v", err)
	}
	grants := DefaultRoles()
	before := NewRoleTable(grants)
	grants["user"] = append(grants["user"], ScopeAccountAdmin)
	after := NewRoleTable(grants)

	m, _ := routes.Match("GET", "/api/accounts/a1/users")
	if before.Grants("user", m.Rule.Scope) {
		t.Error("user should not list members before the grant")
	}
	if !after.Grants("user", m.Rule.Scope) {
		t.Error("user should list members after the grant")
	}
	again, _ := routes.Match("GET", "/api/accounts/a1/users")
	if again.Index != m.Index {
		t.Error("role change altered route matching")
	}
}

func TestRoleTableIsCopied(t *testing.T) {
	grants := map[string][]string{"anon": {ScopePublic}}
	roles := NewRoleTable(grants)
	grants["anon"][0] = "mutated"
	if !roles.Grants("anon", ScopePublic) {
		t.Error("mutating the input map changed the table")
	}
	if got := roles.Roles(); len(got) != 1 || got[0] != "anon" {
		t.Errorf("Roles = %v, want [anon]", got)
	}
}

func TestValidateDefaults(t *testing.T) {
	if _, err := Load(nil, nil, "anon", "newuser"); err != nil {
		t.Fatalf("default tables should validate: %v", err)
	}
}

func TestValidateUnknownScope(t *testing.T) {
	routes, _ := NewBuilder().
		Route("/api/health", "GET", ScopePublic, 0).
		Route("/api/secret", "GET", "secret:read", 0).
		Build()
	roles := NewRoleTable(map[string][]string{"anon": {ScopePublic}})

	err := Validate(routes, roles, "anon", "newuser")
	if !errors.Is(err, ErrUnknownScope) {
		t.Errorf("expected ErrUnknownScope, got %v", err)
	}
	if !errors.Is(err, ErrMissingRole) {
		t.Errorf("expected ErrMissingRole for newuser, got %v", err)
	}
}

func TestLoadCustomRoutes(t *testing.T) {
	tables, err := Load([]RuleSpec{{Path: "/api/health", Method: "GET", Scope: ScopePublic}}, nil, "anon")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tables.Routes.Len() != 1 {
		t.Errorf("Len = %d, want 1", tables.Routes.Len())
	}
	if !tables.Roles.HasRole("sysadmin") {
		t.Error("default roles should be used when none are configured")
	}
}

func TestRouteTableLookup(t *testing.T) {
	table, err := NewRouteTable(DefaultRoutes())
	if err != nil {
		t.Fatalf("NewRouteTable: %v", err)
	}

	byKey, ok := table.Lookup("/api/accounts/.*/rules/.*", "put")
	if !ok {
		t.Fatal("expected lookup by route key to succeed")
	}
	if byKey.Scope != ScopeAccountWrite {
		t.Errorf("scope = %q, want %q", byKey.Scope, ScopeAccountWrite)
	}

	byPath, ok := table.Lookup("/api/accounts/:accountId/rules/:ruleId", http.MethodPut)
	if !ok {
		t.Fatal("expected lookup by path template to succeed")
	}
	if byPath.RouteKey() != byKey.RouteKey() {
		t.Errorf("path lookup key = %q, want %q", byPath.RouteKey(), byKey.RouteKey())
	}

	if _, ok := table.Lookup("/api/accounts/.*/rules/.*", http.MethodPatch); ok {
		t.Error("expected no rule for PATCH")
	}
	if _, ok := table.Lookup("/api/nowhere", http.MethodGet); ok {
		t.Error("expected no rule for unknown route")
	}
}
