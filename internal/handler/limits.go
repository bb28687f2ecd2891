package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/policy"
	"github.com/iotdash/iotdash/internal/ratelimit"
)

// LimitHandler serves purchased rate-limit overrides. Writes go to the
// store first and are then pushed into the override cache so the limiter
// sees them on the next request.
type LimitHandler struct {
	store     *config.Store
	overrides *ratelimit.OverrideLookup
	routes    *policy.RouteTable
	fallback  int64
	logger    *slog.Logger
}

// NewLimitHandler creates a new LimitHandler. fallback is the limit shown
// for routes that set none.
func NewLimitHandler(store *config.Store, overrides *ratelimit.OverrideLookup, routes *policy.RouteTable, fallback int64, logger *slog.Logger) *LimitHandler {
	return &LimitHandler{store: store, overrides: overrides, routes: routes, fallback: fallback, logger: logger}
}

// routeLimit is the effective limit of one route for one requester.
type routeLimit struct {
	Route     string `json:"route"`
	Path      string `json:"path"`
	Method    string `json:"method"`
	Limit     int64  `json:"limit"`
	Purchased bool   `json:"purchased"`
}

// AccountLimits lists the effective limit of every account-scoped route
// for the account.
// GET /api/accounts/{accountId}/limits
func (h *LimitHandler) AccountLimits(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	purchased, err := h.store.ListPurchasedLimits(r.Context(), accountID)
	if err != nil {
		writeStoreError(w, h.logger, err, "limit")
		return
	}
	bought := make(map[string]int64, len(purchased))
	for _, l := range purchased {
		bought[l.Method+" "+l.Route] = l.Limit
	}

	var out []routeLimit
	for _, rule := range h.routes.Rules() {
		if rule.AccountParam == "" {
			continue
		}
		rl := routeLimit{
			Route:  rule.RouteKey(),
			Path:   rule.Pattern.String(),
			Method: rule.Method,
			Limit:  rule.Limit,
		}
		if rl.Limit <= 0 {
			rl.Limit = h.fallback
		}
		if n, ok := bought[rule.Method+" "+rl.Route]; ok {
			rl.Limit = n
			rl.Purchased = true
		}
		out = append(out, rl)
	}
	writeList(w, out)
}

// List returns stored overrides, optionally for one requester.
// GET /api/admin/limits?requester=
func (h *LimitHandler) List(w http.ResponseWriter, r *http.Request) {
	limits, err := h.store.ListPurchasedLimits(r.Context(), queryString(r, "requester"))
	if err != nil {
		writeStoreError(w, h.logger, err, "limit")
		return
	}
	writeList(w, limits)
}

// Set creates or replaces an override. The route may be given as a route
// key or a path template and must name a rule in the route table.
// PUT /api/admin/limits
func (h *LimitHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req model.PurchasedLimit
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Requester = strings.TrimSpace(req.Requester)
	if req.Requester == "" {
		writeError(w, http.StatusBadRequest, "requester is required")
		return
	}
	if req.Limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be positive")
		return
	}
	rule, ok := h.routes.Lookup(req.Route, req.Method)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown route",
			map[string]interface{}{"route": req.Route, "method": req.Method})
		return
	}
	req.Route = rule.RouteKey()
	req.Method = rule.Method

	if err := h.store.SetPurchasedLimit(r.Context(), &req); err != nil {
		writeStoreError(w, h.logger, err, "limit")
		return
	}
	h.overrides.Set(r.Context(), req.Requester, req.Route, req.Method, req.Limit)
	h.logger.Info("purchased limit set", "requester", req.Requester, "route", req.Route, "method", req.Method, "limit", req.Limit)
	writeJSON(w, http.StatusOK, req)
}

// Delete removes an override.
// DELETE /api/admin/limits?requester=&route=&method=
func (h *LimitHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requester := queryString(r, "requester")
	if requester == "" {
		writeError(w, http.StatusBadRequest, "requester is required")
		return
	}
	rule, ok := h.routes.Lookup(queryString(r, "route"), queryString(r, "method"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown route")
		return
	}

	route, method := rule.RouteKey(), rule.Method
	if err := h.store.DeletePurchasedLimit(r.Context(), requester, route, method); err != nil {
		writeStoreError(w, h.logger, err, "limit")
		return
	}
	h.overrides.Forget(r.Context(), requester, route, method)
	h.logger.Info("purchased limit deleted", "requester", requester, "route", route, "method", method)
	w.WriteHeader(http.StatusNoContent)
}
