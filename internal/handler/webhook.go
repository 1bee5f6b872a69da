package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/streetartmap/accessd/internal/access"
	"github.com/streetartmap/accessd/internal/metrics"
	"github.com/streetartmap/accessd/internal/model"
	appstripe "github.com/streetartmap/accessd/internal/stripe"
)

// WebhookHandler is the purchase intake endpoint for Stripe events.
type WebhookHandler struct {
	stripeClient *appstripe.Client
	access       *access.Service
	metrics      *metrics.Collector
	logger       *slog.Logger
}

func NewWebhookHandler(sc *appstripe.Client, svc *access.Service, mc *metrics.Collector, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		stripeClient: sc,
		access:       svc,
		metrics:      mc,
		logger:       logger,
	}
}

// HandleStripeWebhook verifies the signature against the raw body and
// ingests checkout.session.completed events. Permanent failures (bad
// payload, unknown region) are acknowledged with 200 so Stripe stops
// redelivering; storage failures return 500 so at-least-once redelivery
// retries, which the idempotent upsert makes safe.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.stripeClient.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.metrics.RecordSignatureFailure()
		h.logger.Warn("webhook signature verification failed", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		if err := h.handleCheckoutCompleted(event); err != nil {
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "error", err)
		return nil
	}

	ev := access.PurchaseEvent{
		Region:           sess.Metadata["region"],
		AmountCents:      sess.AmountTotal,
		Currency:         string(sess.Currency),
		PaymentSessionID: sess.ID,
	}
	if sess.CustomerDetails != nil {
		ev.Email = sess.CustomerDetails.Email
	}

	_, applied, err := h.access.IngestPurchase(ev)
	switch {
	case err == nil:
		if applied {
			h.metrics.RecordPurchaseIngested()
		} else {
			h.metrics.RecordPurchaseReplay()
		}
		return nil
	case errors.Is(err, model.ErrMalformedEvent),
		errors.Is(err, model.ErrUnknownRegion):
		// Permanent: redelivery cannot fix the event. Logged for operator
		// review inside the service.
		return nil
	default:
		h.logger.Error("webhook: ingest purchase", "error", err, "payment_session_id", sess.ID)
		return err
	}
}
