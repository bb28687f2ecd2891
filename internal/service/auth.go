package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
)

const minPasswordLength = 8

// LoginResult is returned by a successful password login.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expiresIn"`
	User      *model.User `json:"user"`
	Accounts  []string    `json:"accounts"`
}

// AuthService handles password login, signup and token issuance for
// directory users.
type AuthService struct {
	store  *config.Store
	tokens *TokenService
}

func NewAuthService(store *config.Store, tokens *TokenService) *AuthService {
	return &AuthService{store: store, tokens: tokens}
}

// Tokens returns the underlying token service.
func (s *AuthService) Tokens() *TokenService {
	return s.tokens
}

// Login checks email and password and issues a token carrying the user's
// current memberships.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user, 0)
}

// IssueFor issues a token for an existing user without a password check.
// Used by the CLI and by sysadmins.
func (s *AuthService) IssueFor(ctx context.Context, userID string, expire time.Duration) (*LoginResult, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user, expire)
}

func (s *AuthService) issue(ctx context.Context, user *model.User, expire time.Duration) (*LoginResult, error) {
	ua, err := s.store.GetUserAccounts(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	if expire == 0 {
		expire = s.tokens.DefaultExpire(user.Role)
	}
	token, err := s.tokens.GenerateToken(user.ID, ua.Accounts, user.Role, expire)
	if err != nil {
		return nil, err
	}

	accounts := make([]string, 0, len(ua.Accounts))
	for id := range ua.Accounts {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)
	return &LoginResult{
		Token:     token,
		ExpiresIn: int64(expire.Seconds()),
		User:      user,
		Accounts:  accounts,
	}, nil
}

// Signup creates a user with role "user" and no memberships.
func (s *AuthService) Signup(ctx context.Context, email, password, name string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         model.RoleUser,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// HashPassword hashes a password with bcrypt after checking its length.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
