package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/streetartmap/accessd/internal/access"
	"github.com/streetartmap/accessd/internal/grant"
	"github.com/streetartmap/accessd/internal/metrics"
	"github.com/streetartmap/accessd/internal/model"
)

// AccessHandler exposes the magic link request and redemption endpoints.
type AccessHandler struct {
	access  *access.Service
	signer  *grant.Signer
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewAccessHandler(svc *access.Service, signer *grant.Signer, mc *metrics.Collector, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{
		access:  svc,
		signer:  signer,
		metrics: mc,
		logger:  logger,
	}
}

// RequestLink handles POST {email}. The three user-facing outcomes are kept
// distinct: sent, no purchase found, purchase expired.
func (h *AccessHandler) RequestLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	err := h.access.RequestLink(req.Email)
	switch {
	case err == nil:
		h.metrics.RecordLinkIssued()
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	case errors.Is(err, model.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid email address")
	case errors.Is(err, model.ErrNoEntitlement):
		writeError(w, http.StatusNotFound, "no purchase found for this email")
	case errors.Is(err, model.ErrEntitlementExpired):
		writeError(w, http.StatusGone, "your map access has expired")
	default:
		h.logger.Error("request link", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to send link, please try again")
	}
}

// Redeem handles POST {token}.
func (h *AccessHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	h.redeem(w, req.Token)
}

// Verify handles GET ?token=, the target of the emailed link. Same
// semantics as Redeem.
func (h *AccessHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.redeem(w, r.URL.Query().Get("token"))
}

func (h *AccessHandler) redeem(w http.ResponseWriter, token string) {
	g, err := h.access.Redeem(token)
	switch {
	case err == nil:
		signed, signErr := h.signer.Sign(g)
		if signErr != nil {
			h.logger.Error("sign grant", "error", signErr)
			h.metrics.RecordRedemption("error")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		h.metrics.RecordRedemption("granted")
		writeJSON(w, http.StatusOK, map[string]any{
			"email":      g.Email,
			"regions":    g.Regions,
			"expires_at": g.ExpiresAt,
			"grant":      signed,
		})
	case errors.Is(err, model.ErrInvalidToken):
		h.metrics.RecordRedemption("invalid_token")
		writeError(w, http.StatusUnauthorized, "invalid link")
	case errors.Is(err, model.ErrTokenAlreadyUsed):
		h.metrics.RecordRedemption("already_used")
		writeError(w, http.StatusUnauthorized, "this link was already used, request a new one")
	case errors.Is(err, model.ErrTokenExpired):
		h.metrics.RecordRedemption("token_expired")
		writeError(w, http.StatusGone, "this link has expired, request a new one")
	case errors.Is(err, model.ErrEntitlementExpired):
		h.metrics.RecordRedemption("entitlement_expired")
		writeError(w, http.StatusGone, "your map access has expired")
	default:
		h.logger.Error("redeem", "error", err)
		h.metrics.RecordRedemption("error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
