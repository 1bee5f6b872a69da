// Package access implements the grant state machine: purchase intake,
// magic link issuance, and redemption.
package access

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/streetartmap/accessd/internal/email"
	"github.com/streetartmap/accessd/internal/model"
	"github.com/streetartmap/accessd/internal/region"
	"github.com/streetartmap/accessd/internal/store"
)

// Service coordinates the entitlement and magic link stores. Handlers stay
// thin; all flow decisions live here.
type Service struct {
	entitlements *store.EntitlementStore
	links        *store.MagicLinkStore
	sender       email.Sender
	baseURL      string
	// fallbackRegion, when non-empty, is attributed to purchases whose
	// region cannot be normalized. Empty means reject such events.
	fallbackRegion string
	logger         *slog.Logger
}

func NewService(
	es *store.EntitlementStore,
	ls *store.MagicLinkStore,
	sender email.Sender,
	baseURL, fallbackRegion string,
	logger *slog.Logger,
) *Service {
	return &Service{
		entitlements:   es,
		links:          ls,
		sender:         sender,
		baseURL:        baseURL,
		fallbackRegion: fallbackRegion,
		logger:         logger,
	}
}

// PurchaseEvent is a verified payment-completed notification, already
// signature-checked by the webhook handler.
type PurchaseEvent struct {
	Email            string
	Region           string
	AmountCents      int64
	Currency         string
	PaymentSessionID string
}

// IngestPurchase applies one payment event to the entitlement store. The
// applied return is false for idempotent replays of an already-seen
// PaymentSessionID. Link issuance is not triggered here: the user requests
// a link explicitly when ready, and a best-effort confirmation email
// pointing there is sent off the request path.
func (s *Service) IngestPurchase(ev PurchaseEvent) (ent *model.Entitlement, applied bool, err error) {
	if ev.PaymentSessionID == "" || ev.Email == "" || ev.Region == "" {
		return nil, false, model.ErrMalformedEvent
	}

	addr, err := model.NormalizeEmail(ev.Email)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s", model.ErrMalformedEvent, ev.Email)
	}

	regionID, ok := region.Normalize(ev.Region)
	if !ok {
		if s.fallbackRegion == "" {
			s.logger.Error("purchase with unknown region rejected",
				"region", ev.Region, "payment_session_id", ev.PaymentSessionID)
			return nil, false, fmt.Errorf("%w: %q", model.ErrUnknownRegion, ev.Region)
		}
		s.logger.Warn("purchase with unknown region attributed to fallback",
			"region", ev.Region, "fallback", s.fallbackRegion,
			"payment_session_id", ev.PaymentSessionID)
		regionID = s.fallbackRegion
	}

	currency := ev.Currency
	if currency == "" {
		currency = "eur"
	}

	ent, applied, err = s.entitlements.UpsertPurchase(addr, regionID, ev.AmountCents, currency, ev.PaymentSessionID)
	if err != nil {
		return nil, false, fmt.Errorf("upsert purchase: %w", err)
	}
	if !applied {
		s.logger.Info("purchase event replayed, already applied",
			"email", addr, "payment_session_id", ev.PaymentSessionID)
		return ent, false, nil
	}

	s.logger.Info("purchase ingested",
		"email", addr, "region", regionID, "amount_cents", ev.AmountCents,
		"payment_session_id", ev.PaymentSessionID, "expires_at", ent.ExpiresAt)

	// Delivery failure never rolls back the purchase; the user can always
	// request a link from the access page.
	go s.sendConfirmation(addr, regionID, ent.ExpiresAt)

	return ent, true, nil
}

// RequestLink issues a fresh magic link for the email and hands it to the
// notification gateway. Prior unconsumed links for the email stop working.
func (s *Service) RequestLink(addr string) error {
	addr, err := model.NormalizeEmail(addr)
	if err != nil {
		return err
	}

	ent, err := s.entitlements.Get(addr)
	if err != nil {
		return fmt.Errorf("get entitlement: %w", err)
	}
	if ent == nil {
		return model.ErrNoEntitlement
	}
	if !ent.Active(time.Now().UTC()) {
		return model.ErrEntitlementExpired
	}

	ml, err := s.links.Create(addr)
	if err != nil {
		return fmt.Errorf("create magic link: %w", err)
	}

	link := fmt.Sprintf("%s/api/access/verify?token=%s", s.baseURL, ml.Token)
	textBody := fmt.Sprintf(
		"Click the link below to open your Amsterdam Street Art Map:\n\n%s\n\nThe link works once and expires in 30 minutes. You can request a new one any time.",
		link,
	)
	htmlBody := fmt.Sprintf(
		`<p>Click the link below to open your Amsterdam Street Art Map:</p><p><a href="%s">Open the map</a></p><p>The link works once and expires in 30 minutes. You can request a new one any time.</p>`,
		link,
	)
	if err := s.sender.Send(addr, "Your Amsterdam Street Art Map link", htmlBody, textBody); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}

	s.logger.Info("magic link sent", "email", addr, "expires_at", ml.ExpiresAt)
	return nil
}

// Redeem consumes the token and returns a session grant built from the
// entitlement as it stands now. If the entitlement lapsed since issuance the
// token stays consumed: the user needs a new link either way.
func (s *Service) Redeem(token string) (*model.SessionGrant, error) {
	if token == "" {
		return nil, model.ErrInvalidToken
	}

	ml, err := s.links.Consume(token)
	if err != nil {
		return nil, err
	}

	ent, err := s.entitlements.Get(ml.Email)
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}
	if ent == nil || !ent.Active(time.Now().UTC()) {
		return nil, model.ErrEntitlementExpired
	}

	s.logger.Info("magic link redeemed", "email", ml.Email, "regions", ent.Regions)
	return &model.SessionGrant{
		Email:     ent.Email,
		Regions:   ent.Regions,
		ExpiresAt: ent.ExpiresAt,
	}, nil
}

func (s *Service) sendConfirmation(addr, regionID string, expiresAt time.Time) {
	display := region.DisplayName(regionID)
	accessURL := s.baseURL + "/access"
	textBody := fmt.Sprintf(
		"Thanks for your purchase! %s is now unlocked on your Amsterdam Street Art Map until %s.\n\nGet your personal map link here: %s",
		display, expiresAt.Format("2 January 2006"), accessURL,
	)
	htmlBody := fmt.Sprintf(
		`<p>Thanks for your purchase! <strong>%s</strong> is now unlocked on your Amsterdam Street Art Map until %s.</p><p><a href="%s">Get your personal map link</a></p>`,
		display, expiresAt.Format("2 January 2006"), accessURL,
	)
	if err := s.sender.Send(addr, "Your street art region is unlocked", htmlBody, textBody); err != nil {
		s.logger.Error("send purchase confirmation", "email", addr, "error", err)
	}
}
