package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/iotdash/iotdash/internal/observability"
	"github.com/iotdash/iotdash/internal/ratelimit"
)

// Rate-limit response headers.
const (
	HeaderRateLimit     = "X-Rate-Limit-Limit"
	HeaderRateRemaining = "X-Rate-Limit-Remaining"
	HeaderRateReset     = "X-Rate-Limit-Reset"
)

// RateLimit returns an HTTP middleware that counts each authenticated
// request against its requester's limit for the matched route. It must run
// after Authorize. Requests without a verified token are not counted.
//
// The limit headers are set on every counted request. Over-limit requests
// get a 429 carrying the seconds until the window resets. Store failures
// block the request with a 500.
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if !p.Authenticated() || p.Match == nil {
				next.ServeHTTP(w, r)
				return
			}

			rule := p.Match.Rule
			res, err := limiter.Check(r.Context(), p.Requester(), rule)
			if err != nil {
				observability.RateLimitErrorsTotal.Inc()
				logger.Error("rate limit check failed",
					"error", err,
					"requester", p.Requester(),
					"route", rule.RouteKey(),
					"method", rule.Method,
					"request_id", GetRequestID(r.Context()),
				)
				writeJSONError(w, http.StatusInternalServerError, "Internal server error", nil)
				return
			}

			reset := res.ResetSeconds()
			h := w.Header()
			h.Set(HeaderRateLimit, strconv.FormatInt(res.Limit, 10))
			h.Set(HeaderRateRemaining, strconv.FormatInt(res.Remaining, 10))
			h.Set(HeaderRateReset, strconv.FormatInt(reset, 10))

			if !res.Allowed {
				observability.RateLimitRejectedTotal.WithLabelValues(rule.RouteKey()).Inc()
				logger.Info("rate limit exceeded",
					"requester", p.Requester(),
					"route", rule.RouteKey(),
					"method", rule.Method,
					"limit", res.Limit,
					"request_id", GetRequestID(r.Context()),
				)
				writeJSONError(w, http.StatusTooManyRequests, "Too many requests", map[string]interface{}{"reset": reset})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimitByIP returns an HTTP middleware that limits requests per client IP
// to requestsPerMinute. It guards unauthenticated endpoints such as login
// and signup, which RateLimit does not count.
func LimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests", nil)
		}),
	)
}
