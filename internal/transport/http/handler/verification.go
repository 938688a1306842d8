package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-api-guard/internal/application/verification"
	"github.com/go-api-guard/internal/domain"
)

// VerificationHandler serves the public verify link and the internal issuance endpoint.
type VerificationHandler struct {
	svc             verification.Service
	successRedirect string
	failureRedirect string
}

func NewVerificationHandler(svc verification.Service, successRedirect, failureRedirect string) *VerificationHandler {
	return &VerificationHandler{svc: svc, successRedirect: successRedirect, failureRedirect: failureRedirect}
}

// Verify consumes the token from ?token= or a JSON body. Every rejected
// token gets the same response.
func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("token")
	if secret == "" && r.Method == http.MethodPost {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		secret = body.Token
	}

	res, err := h.svc.Consume(r.Context(), secret)
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.reject(w, r)
		return
	case err != nil:
		httpError(w, r, err)
		return
	}

	if res.Outcome != domain.ConsumeApplied {
		h.reject(w, r)
		return
	}
	if h.successRedirect != "" {
		http.Redirect(w, r, h.successRedirect, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "email verified"})
}

func (h *VerificationHandler) reject(w http.ResponseWriter, r *http.Request) {
	if h.failureRedirect != "" {
		http.Redirect(w, r, h.failureRedirect, http.StatusSeeOther)
		return
	}
	writeError(w, http.StatusBadRequest, domain.ErrInvalidToken.Error())
}

// Issue mints an email verification token for an internal caller. The raw
// secret appears only in this response.
func (h *VerificationHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req domain.IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	issued, err := h.svc.IssueEmailVerification(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, issued)
}
