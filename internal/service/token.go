package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/keys"
	"github.com/iotdash/iotdash/internal/model"
)

// Issuer is the fixed iss claim of every token this service signs.
const Issuer = "iotdash"

var (
	// ErrInvalidToken covers malformed, expired and badly signed tokens.
	// Callers treat it as "no token".
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotFound is returned by reconciliation when the token's
	// subject no longer exists.
	ErrUserNotFound = errors.New("token subject not found")

	// ErrDirectoryTimeout is returned when the directory lookup during
	// reconciliation exceeds the configured timeout.
	ErrDirectoryTimeout = errors.New("directory lookup timed out")

	// ErrNoSigningKey is returned by GenerateToken on a verify-only service.
	ErrNoSigningKey = errors.New("no private key configured")
)

// Directory is the account/user directory consulted during reconciliation.
// Implementations return config.ErrNotFound (or ErrUserNotFound) for
// unknown users.
type Directory interface {
	GetUserAccounts(ctx context.Context, userID string) (*model.UserAccounts, error)
}

// TokenConfig controls token lifetimes and verification.
type TokenConfig struct {
	// Algorithm is the JWS algorithm, RS256 when empty.
	Algorithm string
	// Expire is the default lifetime of user tokens.
	Expire time.Duration
	// SystemExpire is the default lifetime of system tokens.
	SystemExpire time.Duration
	// DirectoryTimeout bounds the reconciliation lookup.
	DirectoryTimeout time.Duration
}

func (c *TokenConfig) applyDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = jwt.SigningMethodRS256.Alg()
	}
	if c.Expire == 0 {
		c.Expire = 24 * time.Hour
	}
	if c.SystemExpire == 0 {
		c.SystemExpire = 10 * 365 * 24 * time.Hour
	}
	if c.DirectoryTimeout == 0 {
		c.DirectoryTimeout = 2 * time.Second
	}
}

// Claims is the token payload.
type Claims struct {
	Accounts map[string]model.AccountRole `json:"accounts"`
	UserRole string                       `json:"userRole,omitempty"`
	jwt.RegisteredClaims
}

// Verified is a token that passed signature and expiry checks, optionally
// reconciled against the directory.
type Verified struct {
	Header map[string]interface{}
	Claims *Claims
	// Accounts is the effective account → role map. After reconciliation
	// it reflects live memberships, not the token's claims.
	Accounts map[string]model.AccountRole
	// DeletedAccounts lists accounts claimed by the token that the user no
	// longer belongs to.
	DeletedAccounts []string
	// UserRole is the effective global role.
	UserRole   string
	Reconciled bool
}

// Subject returns the user id the token was issued to.
func (v *Verified) Subject() string {
	return v.Claims.Subject
}

// IsSystem reports whether the token carries the system role, which
// bypasses per-account role resolution.
func (v *Verified) IsSystem() bool {
	return v.UserRole == model.RoleSystem
}

// Role returns the effective role for accountID.
func (v *Verified) Role(accountID string) (string, bool) {
	ar, ok := v.Accounts[accountID]
	if !ok || ar.Role == "" {
		return "", false
	}
	return ar.Role, true
}

// SingleAccount returns the only account on the token, if there is exactly
// one.
func (v *Verified) SingleAccount() (string, bool) {
	if len(v.Accounts) != 1 {
		return "", false
	}
	for id := range v.Accounts {
		return id, true
	}
	return "", false
}

// TokenService issues and verifies signed bearer tokens.
type TokenService struct {
	private   *rsa.PrivateKey
	public    *rsa.PublicKey
	method    jwt.SigningMethod
	cfg       TokenConfig
	directory Directory
	now       func() time.Time
}

// NewTokenService creates a token service. pair.Private may be nil for a
// verify-only service.
func NewTokenService(pair *keys.Pair, directory Directory, cfg TokenConfig) (*TokenService, error) {
	cfg.applyDefaults()
	if pair == nil || pair.Public == nil {
		return nil, errors.New("token service requires a public key")
	}
	method := jwt.GetSigningMethod(cfg.Algorithm)
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	return &TokenService{
		private:   pair.Private,
		public:    pair.Public,
		method:    method,
		cfg:       cfg,
		directory: directory,
		now:       time.Now,
	}, nil
}

// DefaultExpire returns the lifetime GenerateToken applies for userRole
// when no override is given.
func (s *TokenService) DefaultExpire(userRole string) time.Duration {
	if userRole == model.RoleSystem {
		return s.cfg.SystemExpire
	}
	return s.cfg.Expire
}

// GenerateToken signs a new token for subjectID. A zero expire uses the
// configured default for userRole. userRole is only written to the token
// for global roles above plain user.
func (s *TokenService) GenerateToken(subjectID string, accounts map[string]model.AccountRole, userRole string, expire time.Duration) (string, error) {
	if s.private == nil {
		return "", ErrNoSigningKey
	}
	if expire == 0 {
		expire = s.DefaultExpire(userRole)
	}
	if accounts == nil {
		accounts = map[string]model.AccountRole{}
	}
	if userRole == model.RoleUser {
		userRole = ""
	}

	now := s.now()
	claims := Claims{
		Accounts: accounts,
		UserRole: userRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expire)),
		},
	}

	token := jwt.NewWithClaims(s.method, claims)
	signed, err := token.SignedString(s.private)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature and expiry of raw. Every failure is
// reported as ErrInvalidToken.
func (s *TokenService) VerifyToken(raw string) (*Verified, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.public, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	accounts := make(map[string]model.AccountRole, len(claims.Accounts))
	for id, ar := range claims.Accounts {
		accounts[id] = ar
	}
	return &Verified{
		Header:   token.Header,
		Claims:   claims,
		Accounts: accounts,
		UserRole: claims.UserRole,
	}, nil
}

// VerifyTokenFor verifies raw and reconciles its account claims against
// the directory: live memberships replace claimed roles, and accounts the
// user has left are reported in DeletedAccounts. System tokens skip
// reconciliation.
func (s *TokenService) VerifyTokenFor(ctx context.Context, raw string) (*Verified, error) {
	v, err := s.VerifyToken(raw)
	if err != nil {
		return nil, err
	}
	if v.IsSystem() {
		return v, nil
	}
	if s.directory == nil {
		return nil, errors.New("token service has no directory")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.DirectoryTimeout)
	defer cancel()

	live, err := s.directory.GetUserAccounts(lookupCtx, v.Subject())
	switch {
	case err == nil:
	case errors.Is(err, config.ErrNotFound), errors.Is(err, ErrUserNotFound):
		return nil, ErrUserNotFound
	case errors.Is(lookupCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, ErrDirectoryTimeout
	default:
		return nil, fmt.Errorf("directory lookup for %s: %w", v.Subject(), err)
	}

	reconcile(v, live)
	return v, nil
}

func reconcile(v *Verified, live *model.UserAccounts) {
	effective := make(map[string]model.AccountRole, len(live.Accounts))
	for id, ar := range live.Accounts {
		effective[id] = ar
	}

	var deleted []string
	for id := range v.Claims.Accounts {
		if _, ok := live.Accounts[id]; !ok {
			deleted = append(deleted, id)
		}
	}
	sort.Strings(deleted)

	v.Accounts = effective
	v.DeletedAccounts = deleted
	v.UserRole = live.Role
	v.Reconciled = true
}
