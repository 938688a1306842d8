package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-api-guard/internal/application/insight"
	"github.com/go-api-guard/internal/domain"
	"github.com/go-api-guard/internal/pkg/validate"
	"github.com/go-api-guard/internal/transport/http/middleware"
)

type InsightHandler struct {
	svc insight.Service
}

func NewInsightHandler(svc insight.Service) *InsightHandler {
	return &InsightHandler{svc: svc}
}

// Generate runs a rate-gated generation for the caller. A denied gate is a
// 429 with Retry-After and the summary body.
func (h *InsightHandler) Generate(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.GenerateInsightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, r, err)
		return
	}

	res, err := h.svc.Execute(r.Context(), claims.UserID, req.MaxToGenerate)
	if err != nil {
		httpError(w, r, err)
		return
	}
	if res.RateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// List pages through the caller's insights, newest first.
func (h *InsightHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	page, err := h.svc.List(r.Context(), claims.UserID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
