package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/streetartmap/accessd/internal/region"
	appstripe "github.com/streetartmap/accessd/internal/stripe"
)

// CheckoutHandler starts a Stripe checkout for one map region.
type CheckoutHandler struct {
	stripeClient     *appstripe.Client
	regionPriceCents int64
	currency         string
	logger           *slog.Logger
}

func NewCheckoutHandler(sc *appstripe.Client, regionPriceCents int64, currency string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		stripeClient:     sc,
		regionPriceCents: regionPriceCents,
		currency:         currency,
		logger:           logger,
	}
}

// CreateCheckoutSession resolves the requested region and returns the
// checkout URL. The canonical region id travels in the session metadata so
// the webhook never has to guess it from line items or product names.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		Region string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	regionID, ok := region.Normalize(req.Region)
	if !ok {
		http.Error(w, "unknown region", http.StatusBadRequest)
		return
	}

	url, err := h.stripeClient.CreateRegionCheckout(
		req.Email, regionID, region.DisplayName(regionID), h.regionPriceCents, h.currency,
	)
	if err != nil {
		h.logger.Error("create checkout session", "region", regionID, "error", err)
		http.Error(w, "failed to create checkout session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}
