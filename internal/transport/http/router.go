package http

import (
	"net/http"

	"github.com/go-api-guard/internal/config"
	"github.com/go-api-guard/internal/domain"
	jwtinfra "github.com/go-api-guard/internal/infrastructure/jwt"
	"github.com/go-api-guard/internal/transport/http/handler"
	appmiddleware "github.com/go-api-guard/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	verifier := deps.Verifier
	if verifier == nil {
		verifier = denyAll{}
	}
	authMw := appmiddleware.Auth(verifier)

	publicMw := func(next http.Handler) http.Handler { return next }
	if deps.PublicLimiter != nil {
		publicMw = deps.PublicLimiter.Limit
	}

	healthH := handler.NewHealthHandler()
	verifyH := handler.NewVerificationHandler(deps.Verification, cfg.Verification.SuccessRedirect, cfg.Verification.FailureRedirect)
	insightH := handler.NewInsightHandler(deps.Insights)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.With(publicMw).Get("/verify-email", verifyH.Verify)
		r.With(publicMw).Post("/verify-email", verifyH.Verify)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/insights/generate", insightH.Generate)
			r.Get("/insights", insightH.List)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/admin/verification-tokens", verifyH.Issue)
			})
		})
	})

	return r
}

type denyAll struct{}

func (denyAll) Verify(string) (*jwtinfra.Claims, error) { return nil, domain.ErrUnauthorized }
