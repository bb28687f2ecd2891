package model

// Role names. Account roles are held per account membership; global roles
// live on the user record and are carried in the token's userRole claim.
const (
	RoleAnon     = "anon"
	RoleNewUser  = "newuser"
	RoleUser     = "user"
	RoleAdmin    = "admin"
	RoleDevice   = "device"
	RoleSysAdmin = "sysadmin"
	RoleSystem   = "system"
)

// AccountRoles are the roles a user can hold inside an account.
var AccountRoles = []string{RoleUser, RoleAdmin, RoleDevice}

// GlobalRoles are the roles stored on the user record itself.
var GlobalRoles = []string{RoleUser, RoleSysAdmin, RoleSystem}

// IsAccountRole reports whether role may be assigned to an account member.
func IsAccountRole(role string) bool {
	return contains(AccountRoles, role)
}

// IsGlobalRole reports whether role may be stored on a user record.
func IsGlobalRole(role string) bool {
	return contains(GlobalRoles, role)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
