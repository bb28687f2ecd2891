package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/policy"
	"github.com/iotdash/iotdash/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the resolved principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"

	principalSlotKey contextKeyAuth = "principal_slot"
)

// Outcome names how the caller's role was resolved.
type Outcome string

const (
	// OutcomePublic: the route is open to anon, no token was examined.
	OutcomePublic Outcome = "public"
	// OutcomeAnonymous: no valid token.
	OutcomeAnonymous Outcome = "anonymous"
	// OutcomeSystem: service-to-service token.
	OutcomeSystem Outcome = "system"
	// OutcomeSysAdmin: user currently holds the sysadmin global role.
	OutcomeSysAdmin Outcome = "sysadmin"
	// OutcomeMember: role taken from the user's membership in the target
	// account.
	OutcomeMember Outcome = "member"
	// OutcomeNotMember: a target account was found but the user holds no
	// role in it.
	OutcomeNotMember Outcome = "not-member"
	// OutcomeNoAccount: valid token, but no target account could be
	// determined.
	OutcomeNoAccount Outcome = "no-account"
)

// Principal is the identity and role resolved for one request.
type Principal struct {
	UserID    string
	Role      string
	AccountID string
	Outcome   Outcome
	// DeletedAccounts lists accounts on the token the user no longer
	// belongs to.
	DeletedAccounts []string
	Token           *service.Verified
	Match           *policy.Match
}

// Authenticated reports whether the request carried a valid token.
func (p *Principal) Authenticated() bool {
	return p != nil && p.Token != nil
}

// Requester is the identity rate limits are counted against. A resolved
// account counts only when the path named it or the caller holds a role in
// it; a body-named account the caller is not in falls back to the token's
// single account, else the user.
func (p *Principal) Requester() string {
	if p.AccountID != "" && p.countsAgainstAccount() {
		return p.AccountID
	}
	if p.Token != nil {
		if id, ok := p.Token.SingleAccount(); ok {
			return id
		}
	}
	return p.UserID
}

func (p *Principal) countsAgainstAccount() bool {
	switch p.Outcome {
	case OutcomeMember, OutcomeSysAdmin, OutcomeSystem:
		return true
	}
	return p.Match != nil && p.Match.AccountID() == p.AccountID
}

// IsSysAdmin reports whether the principal may act across all accounts.
func (p *Principal) IsSysAdmin() bool {
	return p != nil && (p.Role == model.RoleSysAdmin || p.Role == model.RoleSystem)
}

// principalSlot lets middleware that runs before Authorize see the
// principal after the handler returns.
type principalSlot struct {
	p *Principal
}

func withPrincipalSlot(ctx context.Context, s *principalSlot) context.Context {
	return context.WithValue(ctx, principalSlotKey, s)
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if s, ok := ctx.Value(principalSlotKey).(*principalSlot); ok {
		s.p = p
	}
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

// GetPrincipal extracts the principal from the context. Returns nil when
// the request did not pass through Authorize.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeJSONError(w http.ResponseWriter, status int, message string, ctx map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message, Context: ctx},
	})
}
