package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/server/middleware"
)

// AccountHandler serves account and membership management.
type AccountHandler struct {
	store  *config.Store
	logger *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(store *config.Store, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{store: store, logger: logger}
}

// accountView is an account as seen by one user.
type accountView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// List returns every account for sysadmins and the caller's own
// memberships otherwise.
// GET /api/accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p.IsSysAdmin() {
		accounts, err := h.store.ListAccounts(r.Context())
		if err != nil {
			writeStoreError(w, h.logger, err, "account")
			return
		}
		views := make([]accountView, 0, len(accounts))
		for _, a := range accounts {
			views = append(views, accountView{ID: a.ID, Name: a.Name})
		}
		writeList(w, views)
		return
	}

	if p == nil || p.UserID == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	ua, err := h.store.GetUserAccounts(r.Context(), p.UserID)
	if err != nil {
		writeStoreError(w, h.logger, err, "user")
		return
	}
	views := make([]accountView, 0, len(ua.Accounts))
	for id, ar := range ua.Accounts {
		views = append(views, accountView{ID: id, Name: ar.Name, Role: ar.Role})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	writeList(w, views)
}

type accountRequest struct {
	Name string `json:"name"`
}

// Create makes a new account with the caller as its first admin.
// POST /api/accounts
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil || p.UserID == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req accountRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Account name is required")
		return
	}

	acct := &model.Account{Name: req.Name}
	if err := h.store.CreateAccount(r.Context(), acct, p.UserID); err != nil {
		writeStoreError(w, h.logger, err, "account")
		return
	}
	h.logger.Info("account created", "account", acct.ID, "owner", p.UserID)
	writeJSON(w, http.StatusCreated, acct)
}

// Get returns one account.
// GET /api/accounts/{accountId}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	acct, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		writeStoreError(w, h.logger, err, "account")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Rename changes an account's display name.
// PUT /api/accounts/{accountId}
func (h *AccountHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "accountId")
	var req accountRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Account name is required")
		return
	}

	if err := h.store.RenameAccount(r.Context(), id, req.Name); err != nil {
		writeStoreError(w, h.logger, err, "account")
		return
	}
	acct, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, err, "account")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Delete removes an account and all of its memberships. Former members
// see the account in deletedAccounts on their next request.
// DELETE /api/accounts/{accountId}
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "accountId")
	if err := h.store.DeleteAccount(r.Context(), id); err != nil {
		writeStoreError(w, h.logger, err, "account")
		return
	}
	h.logger.Info("account deleted", "account", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListMembers returns the account's memberships.
// GET /api/accounts/{accountId}/users
func (h *AccountHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "accountId")
	if _, err := h.store.GetAccount(r.Context(), id); err != nil {
		writeStoreError(w, h.logger, err, "account")
		return
	}
	members, err := h.store.ListMembers(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, err, "account")
		return
	}
	writeList(w, members)
}

type memberRequest struct {
	Role string `json:"role"`
}

// SetMember adds a user to the account or changes their role.
// PUT /api/accounts/{accountId}/users/{userId}
func (h *AccountHandler) SetMember(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	userID := chi.URLParam(r, "userId")

	var req memberRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !model.IsAccountRole(req.Role) {
		writeError(w, http.StatusBadRequest, "Invalid account role",
			map[string]interface{}{"allowed": model.AccountRoles})
		return
	}

	if err := h.store.SetMember(r.Context(), accountID, userID, req.Role); err != nil {
		writeStoreError(w, h.logger, err, "membership")
		return
	}
	h.logger.Info("member set", "account", accountID, "user", userID, "role", req.Role)
	writeJSON(w, http.StatusOK, model.Member{AccountID: accountID, UserID: userID, Role: req.Role})
}

// RemoveMember revokes a user's membership.
// DELETE /api/accounts/{accountId}/users/{userId}
func (h *AccountHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	userID := chi.URLParam(r, "userId")
	if err := h.store.RemoveMember(r.Context(), accountID, userID); err != nil {
		writeStoreError(w, h.logger, err, "membership")
		return
	}
	h.logger.Info("member removed", "account", accountID, "user", userID)
	w.WriteHeader(http.StatusNoContent)
}
