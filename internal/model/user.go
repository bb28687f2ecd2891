package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// User is a dashboard user. Passwords are stored as bcrypt hashes.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Name         string    `json:"name" db:"name"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Account groups devices, rules and alerts. Users join accounts through
// memberships that carry an account role.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Member is a single account membership.
type Member struct {
	AccountID string    `json:"account_id" db:"account_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Email     string    `json:"email,omitempty" db:"email"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AccountRole is the role a user holds in one account. On the wire it is
// either a bare role string or an object {"name": ..., "role": ...}.
type AccountRole struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// MarshalJSON writes the object form when a name is known and the bare
// role string otherwise.
func (a AccountRole) MarshalJSON() ([]byte, error) {
	if a.Name == "" {
		return json.Marshal(a.Role)
	}
	type plain AccountRole
	return json.Marshal(plain(a))
}

// UnmarshalJSON accepts both the string and the object form.
func (a *AccountRole) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var role string
		if err := json.Unmarshal(data, &role); err != nil {
			return err
		}
		*a = AccountRole{Role: role}
		return nil
	}
	type plain AccountRole
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("account role: %w", err)
	}
	*a = AccountRole(p)
	return nil
}

// UserAccounts is the directory view of a user: the global role plus the
// live account memberships keyed by account id.
type UserAccounts struct {
	UserID   string                 `json:"user_id"`
	Role     string                 `json:"role"`
	Accounts map[string]AccountRole `json:"accounts"`
}
