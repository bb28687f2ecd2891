package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/server/middleware"
	"github.com/iotdash/iotdash/internal/service"
)

// UserHandler serves signup and the caller's own profile.
type UserHandler struct {
	store  *config.Store
	auth   *service.AuthService
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store *config.Store, auth *service.AuthService, logger *slog.Logger) *UserHandler {
	return &UserHandler{store: store, auth: auth, logger: logger}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Signup creates a user with no memberships. The new user holds the
// newuser role until they create or join an account.
// POST /api/users
func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := h.auth.Signup(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidEmail), errors.Is(err, service.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		writeStoreError(w, h.logger, err, "user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type meResponse struct {
	*model.User
	Accounts        map[string]model.AccountRole `json:"accounts"`
	DeletedAccounts []string                     `json:"deletedAccounts,omitempty"`
}

// Me returns the caller's user record and live memberships.
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if !p.Authenticated() || p.UserID == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeStoreError(w, h.logger, err, "user")
		return
	}
	accounts := p.Token.Accounts
	if accounts == nil {
		accounts = map[string]model.AccountRole{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:            user,
		Accounts:        accounts,
		DeletedAccounts: p.DeletedAccounts,
	})
}
