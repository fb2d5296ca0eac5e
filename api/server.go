/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from proxy headers
  3. requestLogger: zap access log, level by status
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for frontend
  6. authenticate:  Bearer token -> session -> actor (all routes but /auth)

ROUTE GROUPS:
  /api/auth/token                       Dev token issuance
  /api/workspaces/{ws}/policies/*       Policy management
  /api/workspaces/{ws}/requests/*       Request creation and listings
  /api/workspaces/{ws}/balances/*       Balances and their ledger rows
  /api/workspaces/{ws}/worked-hours     Hourly accrual input
  /api/requests/{id}/*                  Approve, reject, cancel
  /api/notifications/*                  In-app notifications

  {ws} is a workspace id or slug.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

type RouterOptions struct {
	AllowedOrigins []string
}

// corsOrigins drops blanks and reports whether credentials may be allowed:
// only when every origin is explicit.
func corsOrigins(configured []string) ([]string, bool) {
	var origins []string
	wildcard := false
	for _, o := range configured {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			wildcard = true
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		return []string{"*"}, false
	}
	return origins, !wildcard
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins, credentials := corsOrigins(opts.AllowedOrigins)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: credentials,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/token", h.IssueToken)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Route("/workspaces/{ws}", func(r chi.Router) {
				// Policy routes
				r.Route("/policies", func(r chi.Router) {
					r.Get("/", h.ListPolicies)
					r.Post("/", h.CreatePolicy)
					r.Get("/{id}", h.GetPolicy)
					r.Put("/{id}", h.UpdatePolicy)
					r.Delete("/{id}", h.DeletePolicy)
				})

				// Request routes
				r.Route("/requests", func(r chi.Router) {
					r.Get("/", h.ListWorkspaceRequests)
					r.Post("/", h.CreateRequest)
					r.Get("/mine", h.ListMyRequests)
					r.Get("/summary", h.RequestSummary)
				})

				// Balance routes
				r.Get("/balances", h.GetBalances)
				r.Get("/balances/{userID}/{policyID}", h.GetBalance)
				r.Get("/balances/{userID}/{policyID}/ledger", h.GetLedgerEntries)
				r.Post("/worked-hours", h.RecordWorkedHours)
			})

			// Lifecycle routes
			r.Route("/requests/{id}", func(r chi.Router) {
				r.Post("/approve", h.ApproveRequest)
				r.Post("/reject", h.RejectRequest)
				r.Post("/cancel", h.CancelRequest)
			})

			// Notification routes
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.ListNotifications)
				r.Post("/{id}/read", h.MarkNotificationRead)
			})
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type ctxKey int

const actorKey ctxKey = iota

func withActor(ctx context.Context, a leave.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFrom returns the actor resolved by the auth middleware.
func ActorFrom(ctx context.Context) (leave.Actor, bool) {
	a, ok := ctx.Value(actorKey).(leave.Actor)
	return a, ok
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// authenticate verifies the bearer token and resolves the session to an
// actor. Unknown users are unauthorized, not "not found".
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeServiceError(w, r, leave.ErrUnauthorized)
			return
		}
		claims, err := h.issuer.Verify(token)
		if err != nil {
			h.writeServiceError(w, r, leave.ErrUnauthorized)
			return
		}
		actor, err := h.gate.ResolveActor(r.Context(), claims.Session())
		if err != nil {
			h.writeServiceError(w, r, leave.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("ip", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("latency", time.Since(start)),
			}
			switch {
			case status >= 500:
				logger.Error("request failed", fields...)
			case status >= 400:
				logger.Warn("client error", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
