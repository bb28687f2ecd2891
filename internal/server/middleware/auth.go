package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/observability"
	"github.com/iotdash/iotdash/internal/policy"
	"github.com/iotdash/iotdash/internal/service"
)

// defaultMaxBodySize caps how much of a request body Authorize buffers when
// looking for an account id.
const defaultMaxBodySize = 1 << 20

// TokenVerifier verifies a raw bearer token and reconciles it with the
// directory.
type TokenVerifier interface {
	VerifyTokenFor(ctx context.Context, raw string) (*service.Verified, error)
}

// AuthzConfig configures Authorize.
type AuthzConfig struct {
	Routes *policy.RouteTable
	Roles  *policy.RoleTable
	Tokens TokenVerifier
	// NoAccountRole is the role of a valid token when no target account
	// can be determined. Defaults to newuser.
	NoAccountRole string
	// MaxBodySize caps the body read for accountId/domainId lookup.
	MaxBodySize int64
	Logger      *slog.Logger
}

// Authorize returns an HTTP middleware that resolves the caller's role and
// admits the request only when the first matching route rule's scope is
// granted to that role. The resolved Principal is attached to the request
// context.
//
// Denied requests under /api/ receive a 401 JSON error; any other path is
// redirected to the application root.
func Authorize(cfg AuthzConfig) func(http.Handler) http.Handler {
	if cfg.NoAccountRole == "" {
		cfg.NoAccountRole = model.RoleNewUser
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			match, ok := cfg.Routes.Match(r.Method, r.URL.Path)
			if !ok {
				observability.AuthzDecisionsTotal.WithLabelValues("no-route", "deny").Inc()
				deny(w, r)
				return
			}

			// Public routes never look at the token.
			if cfg.Roles.Grants(model.RoleAnon, match.Rule.Scope) {
				observability.AuthzDecisionsTotal.WithLabelValues(string(OutcomePublic), "allow").Inc()
				p := &Principal{Role: model.RoleAnon, Outcome: OutcomePublic, Match: match}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			var verified *service.Verified
			if raw := bearerToken(r); raw != "" {
				v, err := cfg.Tokens.VerifyTokenFor(r.Context(), raw)
				switch {
				case err == nil:
					verified = v
				case errors.Is(err, service.ErrInvalidToken):
					cfg.Logger.Debug("invalid token", "path", r.URL.Path, "request_id", GetRequestID(r.Context()))
				case errors.Is(err, service.ErrUserNotFound):
					observability.DirectoryErrorsTotal.WithLabelValues("not_found").Inc()
					cfg.Logger.Info("token subject not in directory", "path", r.URL.Path, "request_id", GetRequestID(r.Context()))
				case errors.Is(err, service.ErrDirectoryTimeout):
					observability.DirectoryErrorsTotal.WithLabelValues("timeout").Inc()
					cfg.Logger.Warn("directory lookup timed out, treating caller as anonymous", "path", r.URL.Path, "request_id", GetRequestID(r.Context()))
				default:
					observability.DirectoryErrorsTotal.WithLabelValues("error").Inc()
					cfg.Logger.Error("directory lookup failed", "error", err, "path", r.URL.Path, "request_id", GetRequestID(r.Context()))
					writeJSONError(w, http.StatusInternalServerError, "Internal server error", nil)
					return
				}
			}

			p := resolvePrincipal(r, verified, match, cfg)

			allowed := cfg.Roles.Grants(p.Role, match.Rule.Scope)
			decision := "deny"
			if allowed {
				decision = "allow"
			}
			observability.AuthzDecisionsTotal.WithLabelValues(string(p.Outcome), decision).Inc()

			if !allowed {
				cfg.Logger.Debug("access denied",
					"method", r.Method,
					"path", r.URL.Path,
					"role", p.Role,
					"outcome", p.Outcome,
					"scope", match.Rule.Scope,
					"request_id", GetRequestID(r.Context()),
				)
				deny(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// resolvePrincipal maps a verified token (or its absence) and the target
// account to a role.
func resolvePrincipal(r *http.Request, v *service.Verified, match *policy.Match, cfg AuthzConfig) *Principal {
	p := &Principal{Match: match}
	if v == nil {
		p.Role = model.RoleAnon
		p.Outcome = OutcomeAnonymous
		return p
	}

	p.Token = v
	p.UserID = v.Subject()
	p.DeletedAccounts = v.DeletedAccounts
	p.AccountID = targetAccount(r, v, match, cfg.MaxBodySize)

	switch {
	case v.IsSystem():
		p.Role = model.RoleSystem
		p.Outcome = OutcomeSystem
	case v.UserRole == model.RoleSysAdmin:
		p.Role = model.RoleSysAdmin
		p.Outcome = OutcomeSysAdmin
	case p.AccountID == "":
		p.Role = cfg.NoAccountRole
		p.Outcome = OutcomeNoAccount
	default:
		if role, ok := v.Role(p.AccountID); ok {
			p.Role = role
			p.Outcome = OutcomeMember
		} else {
			p.Role = model.RoleNewUser
			p.Outcome = OutcomeNotMember
		}
	}
	return p
}

// targetAccount finds the account a request acts on: the rule's account
// path parameter, else accountId/domainId in a JSON body, else the only
// account on the token.
func targetAccount(r *http.Request, v *service.Verified, match *policy.Match, maxBody int64) string {
	if id := match.AccountID(); id != "" {
		return id
	}
	if id := bodyAccount(r, maxBody); id != "" {
		return id
	}
	if id, ok := v.SingleAccount(); ok {
		return id
	}
	return ""
}

// bodyAccount peeks at a JSON request body for accountId or domainId. The
// body is restored so handlers can read it again.
func bodyAccount(r *http.Request, maxBody int64) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return ""
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return ""
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil || int64(len(buf)) > maxBody {
		return ""
	}

	var fields struct {
		AccountID json.RawMessage `json:"accountId"`
		DomainID  json.RawMessage `json:"domainId"`
	}
	if json.Unmarshal(buf, &fields) != nil {
		return ""
	}
	if id := rawID(fields.AccountID); id != "" {
		return id
	}
	return rawID(fields.DomainID)
}

// rawID accepts an id written as a JSON string or number.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

type readCloser struct {
	io.Reader
	io.Closer
}

// bearerToken returns the token from "Authorization: Bearer <t>" (scheme
// matched case-insensitively), falling back to the token query parameter
// for clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func deny(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api" || r.URL.Path == "/" {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
