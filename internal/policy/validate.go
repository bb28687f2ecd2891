package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownScope is returned when a route requires a scope that no
	// role grants, which would make the route unreachable.
	ErrUnknownScope = errors.New("scope not granted by any role")

	// ErrMissingRole is returned when a role the authorizer depends on is
	// not defined in the role table.
	ErrMissingRole = errors.New("role not defined")
)

// Validate checks the route table against the role table: every route
// scope must be granted by at least one role, and every role in required
// must exist. All problems are reported together.
func Validate(routes *RouteTable, roles *RoleTable, required ...string) error {
	var errs []error
	for _, role := range required {
		if !roles.HasRole(role) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrMissingRole, role))
		}
	}
	for i, r := range routes.rules {
		if !roles.granted(r.Scope) {
			errs = append(errs, fmt.Errorf("route %d (%s %s): %w: %q", i, r.Method, r.Pattern, ErrUnknownScope, r.Scope))
		}
	}
	return errors.Join(errs...)
}
