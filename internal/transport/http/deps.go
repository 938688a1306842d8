package http

import (
	"net/http"

	"github.com/go-api-guard/internal/application/insight"
	"github.com/go-api-guard/internal/application/verification"
	"github.com/go-api-guard/internal/transport/http/middleware"
)

// Deps holds everything the router needs. Services are built by the caller
// so that storage backends stay a startup decision.
type Deps struct {
	Verification verification.Service
	Insights     insight.Service
	// Verifier is nil when no JWT key is configured; authenticated routes
	// then reject every request.
	Verifier middleware.TokenVerifier
	// PublicLimiter throttles the unauthenticated verify endpoint per IP.
	PublicLimiter *middleware.RateLimiter
	// Metrics serves /metrics when set.
	Metrics http.Handler
}
