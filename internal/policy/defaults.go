package policy

import (
	"net/http"

	"github.com/iotdash/iotdash/internal/model"
)

// Scopes used by the built-in tables.
const (
	ScopePublic        = "public"
	ScopeUserSelf      = "user:self"
	ScopeAccountCreate = "account:create"
	ScopeAccountRead   = "account:read"
	ScopeAccountWrite  = "account:write"
	ScopeAccountAdmin  = "account:admin"
	ScopeDeviceRead    = "device:read"
	ScopeDeviceWrite   = "device:write"
	ScopeDeviceAdmin   = "device:admin"
	ScopeDataSubmit    = "data:submit"
	ScopeSysAdmin      = "sysadmin"
)

// DefaultRoles returns the built-in role grants. Each role includes the
// scopes of the roles below it.
func DefaultRoles() map[string][]string {
	anon := []string{ScopePublic}
	newuser := append(clone(anon), ScopeUserSelf, ScopeAccountCreate)
	user := append(clone(newuser),
		ScopeAccountRead, ScopeAccountWrite,
		ScopeDeviceRead, ScopeDeviceWrite,
		ScopeDataSubmit)
	admin := append(clone(user), ScopeAccountAdmin, ScopeDeviceAdmin)
	sysadmin := append(clone(admin), ScopeSysAdmin)

	return map[string][]string{
		model.RoleAnon:     anon,
		model.RoleNewUser:  newuser,
		model.RoleUser:     user,
		model.RoleAdmin:    admin,
		model.RoleDevice:   {ScopePublic, ScopeDataSubmit},
		model.RoleSysAdmin: sysadmin,
		model.RoleSystem:   clone(sysadmin),
	}
}

// DefaultRoutes returns the dashboard's route table. Order matters: the
// data search route must precede the per-device submit route, which would
// otherwise capture "search" as a device id.
func DefaultRoutes() []RuleSpec {
	const acct = "/api/accounts/:accountId"
	get, post, put, del := http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete

	return []RuleSpec{
		// Public
		{Path: "/api/health", Method: get, Scope: ScopePublic},
		{Path: "/healthz", Method: get, Scope: ScopePublic},
		{Path: "/readyz", Method: get, Scope: ScopePublic},
		{Path: "/api/auth/token", Method: post, Scope: ScopePublic},
		{Path: "/api/users", Method: post, Scope: ScopePublic},
		{Path: "/metrics", Method: get, Scope: ScopePublic},
		{Path: "/", Method: get, Scope: ScopePublic},
		{Path: "/ui/*", Method: get, Scope: ScopePublic},

		// Self
		{Path: "/api/auth/tokenInfo", Method: get, Scope: ScopeUserSelf},
		{Path: "/api/users/me", Method: get, Scope: ScopeUserSelf},
		{Path: "/api/accounts", Method: get, Scope: ScopeUserSelf},
		{Path: "/api/accounts", Method: post, Scope: ScopeAccountCreate, Limit: 10},

		// Accounts
		{Path: acct, Method: get, Scope: ScopeAccountRead},
		{Path: acct, Method: put, Scope: ScopeAccountAdmin},
		{Path: acct, Method: del, Scope: ScopeAccountAdmin},
		{Path: acct + "/users", Method: get, Scope: ScopeAccountAdmin},
		{Path: acct + "/users/:userId", Method: put, Scope: ScopeAccountAdmin},
		{Path: acct + "/users/:userId", Method: del, Scope: ScopeAccountAdmin},
		{Path: acct + "/limits", Method: get, Scope: ScopeAccountAdmin},

		// Devices
		{Path: acct + "/devices", Method: get, Scope: ScopeDeviceRead},
		{Path: acct + "/devices", Method: post, Scope: ScopeDeviceWrite},
		{Path: acct + "/devices/:deviceId", Method: get, Scope: ScopeDeviceRead},
		{Path: acct + "/devices/:deviceId", Method: put, Scope: ScopeDeviceWrite},
		{Path: acct + "/devices/:deviceId", Method: del, Scope: ScopeDeviceAdmin},
		{Path: acct + "/devices/:deviceId/activation", Method: put, Scope: ScopeDeviceAdmin},

		// Telemetry
		{Path: acct + "/data/search", Method: post, Scope: ScopeDeviceRead, Limit: 100},
		{Path: acct + "/data/:deviceId", Method: post, Scope: ScopeDataSubmit, Limit: 3600},

		// Rules
		{Path: acct + "/rules", Method: get, Scope: ScopeAccountRead},
		{Path: acct + "/rules", Method: post, Scope: ScopeAccountWrite},
		{Path: acct + "/rules/:ruleId", Method: get, Scope: ScopeAccountRead},
		{Path: acct + "/rules/:ruleId", Method: put, Scope: ScopeAccountWrite},
		{Path: acct + "/rules/:ruleId", Method: del, Scope: ScopeAccountWrite},

		// Alerts
		{Path: acct + "/alerts", Method: get, Scope: ScopeAccountRead},
		{Path: acct + "/alerts/:alertId", Method: get, Scope: ScopeAccountRead},
		{Path: acct + "/alerts/:alertId/status/:status", Method: put, Scope: ScopeAccountWrite},

		// System administration
		{Path: "/api/admin/limits", Method: get, Scope: ScopeSysAdmin},
		{Path: "/api/admin/limits", Method: put, Scope: ScopeSysAdmin},
		{Path: "/api/admin/limits", Method: del, Scope: ScopeSysAdmin},
	}
}

// Tables is the pair of compiled authorization tables.
type Tables struct {
	Routes *RouteTable
	Roles  *RoleTable
}

// Load compiles routes and roles, falling back to the built-in tables for
// whichever is empty, and validates them against each other. required
// lists roles the caller depends on.
func Load(routes []RuleSpec, roles map[string][]string, required ...string) (*Tables, error) {
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}
	if len(roles) == 0 {
		roles = DefaultRoles()
	}
	rt, err := NewRouteTable(routes)
	if err != nil {
		return nil, err
	}
	roleTable := NewRoleTable(roles)
	if err := Validate(rt, roleTable, required...); err != nil {
		return nil, err
	}
	return &Tables{Routes: rt, Roles: roleTable}, nil
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
