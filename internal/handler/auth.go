package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/server/middleware"
	"github.com/iotdash/iotdash/internal/service"
)

// AuthHandler serves login and token introspection.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges email and password for a bearer token carrying the
// user's current account memberships.
// POST /api/auth/token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// tokenInfoResponse describes the caller's token after reconciliation.
type tokenInfoResponse struct {
	Header          map[string]interface{}       `json:"header"`
	Payload         *service.Claims              `json:"payload"`
	Accounts        map[string]model.AccountRole `json:"accounts"`
	DeletedAccounts []string                     `json:"deletedAccounts"`
	UserRole        string                       `json:"userRole,omitempty"`
	Role            string                       `json:"role"`
	Outcome         string                       `json:"outcome"`
}

// TokenInfo returns the verified token, the effective memberships, and any
// accounts the user has been removed from. Clients use deletedAccounts to
// force a fresh login.
// GET /api/auth/tokenInfo
func (h *AuthHandler) TokenInfo(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if !p.Authenticated() {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	v := p.Token
	deleted := v.DeletedAccounts
	if deleted == nil {
		deleted = []string{}
	}
	writeJSON(w, http.StatusOK, tokenInfoResponse{
		Header:          v.Header,
		Payload:         v.Claims,
		Accounts:        v.Accounts,
		DeletedAccounts: deleted,
		UserRole:        v.UserRole,
		Role:            p.Role,
		Outcome:         string(p.Outcome),
	})
}
