package policy

import "sort"

// RoleTable maps role names to the set of scopes each role grants. It is
// immutable once built.
type RoleTable struct {
	scopes map[string]map[string]struct{}
}

// NewRoleTable copies grants into a new table.
func NewRoleTable(grants map[string][]string) *RoleTable {
	t := &RoleTable{scopes: make(map[string]map[string]struct{}, len(grants))}
	for role, scopes := range grants {
		set := make(map[string]struct{}, len(scopes))
		for _, s := range scopes {
			set[s] = struct{}{}
		}
		t.scopes[role] = set
	}
	return t
}

// Grants reports whether role grants scope. Unknown roles grant nothing.
func (t *RoleTable) Grants(role, scope string) bool {
	_, ok := t.scopes[role][scope]
	return ok
}

// HasRole reports whether the table defines role.
func (t *RoleTable) HasRole(role string) bool {
	_, ok := t.scopes[role]
	return ok
}

// Scopes returns the sorted scopes granted to role.
func (t *RoleTable) Scopes(role string) []string {
	set := t.scopes[role]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Roles returns the sorted role names.
func (t *RoleTable) Roles() []string {
	out := make([]string, 0, len(t.scopes))
	for r := range t.scopes {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// granted reports whether any role grants scope.
func (t *RoleTable) granted(scope string) bool {
	for _, set := range t.scopes {
		if _, ok := set[scope]; ok {
			return true
		}
	}
	return false
}
