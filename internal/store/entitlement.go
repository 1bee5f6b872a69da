package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streetartmap/accessd/internal/model"
)

// EntitlementStore owns the entitlements, entitlement_regions and purchases
// tables. All mutations go through UpsertPurchase so webhook redelivery can
// never double-count.
type EntitlementStore struct {
	db       *sql.DB
	validity time.Duration
}

// NewEntitlementStore creates a store whose entitlements stay active for the
// given validity window after the latest purchase.
func NewEntitlementStore(db *sql.DB, validity time.Duration) *EntitlementStore {
	return &EntitlementStore{db: db, validity: validity}
}

const entitlementCols = `email, expires_at, total_paid_cents, currency, first_purchase_at, last_purchase_at, created_at, updated_at`

func scanEntitlement(scanner interface{ Scan(...any) error }) (*model.Entitlement, error) {
	var e model.Entitlement
	err := scanner.Scan(
		&e.Email, &e.ExpiresAt, &e.TotalPaidCents, &e.Currency,
		&e.FirstPurchaseAt, &e.LastPurchaseAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Get returns the entitlement for the email with its region set, or nil if
// none exists.
func (s *EntitlementStore) Get(email string) (*model.Entitlement, error) {
	row := s.db.QueryRow(`SELECT `+entitlementCols+` FROM entitlements WHERE email = ?`, email)
	e, err := scanEntitlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}

	rows, err := s.db.Query(`SELECT region FROM entitlement_regions WHERE email = ? ORDER BY region`, email)
	if err != nil {
		return nil, fmt.Errorf("get entitlement regions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		e.Regions = append(e.Regions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regions: %w", err)
	}
	return e, nil
}

// UpsertPurchase records one completed payment event. It is idempotent on
// paymentSessionID: replaying the same event returns the current entitlement
// with applied=false, without touching spend, regions or expiry. Otherwise
// it creates the entitlement or unions the region in, adds the amount to
// cumulative spend, and resets expires_at to now + validity (flat window,
// never stacked).
func (s *EntitlementStore) UpsertPurchase(email, region string, amountCents int64, currency, paymentSessionID string) (ent *model.Entitlement, applied bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("begin upsert purchase: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO purchases (id, email, region, amount_cents, currency, payment_session_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(payment_session_id) DO NOTHING`,
		uuid.NewString(), email, region, amountCents, currency, paymentSessionID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert purchase: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		// Replayed event: already applied, nothing to mutate.
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit replay: %w", err)
		}
		ent, err = s.Get(email)
		return ent, false, err
	}

	expiresAt := time.Now().UTC().Add(s.validity)
	_, err = tx.Exec(
		`INSERT INTO entitlements (email, expires_at, total_paid_cents, currency)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		   expires_at = excluded.expires_at,
		   total_paid_cents = entitlements.total_paid_cents + excluded.total_paid_cents,
		   last_purchase_at = datetime('now'),
		   updated_at = datetime('now')`,
		email, expiresAt, amountCents, currency,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert entitlement: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO entitlement_regions (email, region) VALUES (?, ?)
		 ON CONFLICT(email, region) DO NOTHING`,
		email, region,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert entitlement region: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit upsert purchase: %w", err)
	}
	ent, err = s.Get(email)
	return ent, true, err
}

// GetPurchaseBySessionID returns the purchase record for a payment session
// id, or nil if the event was never ingested.
func (s *EntitlementStore) GetPurchaseBySessionID(paymentSessionID string) (*model.Purchase, error) {
	row := s.db.QueryRow(
		`SELECT id, email, region, amount_cents, currency, payment_session_id, created_at
		 FROM purchases WHERE payment_session_id = ?`,
		paymentSessionID,
	)
	var p model.Purchase
	err := row.Scan(&p.ID, &p.Email, &p.Region, &p.AmountCents, &p.Currency, &p.PaymentSessionID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase by session id: %w", err)
	}
	return &p, nil
}

// ListPurchases returns the append-only purchase log for an email, newest
// first.
func (s *EntitlementStore) ListPurchases(email string) ([]*model.Purchase, error) {
	rows, err := s.db.Query(
		`SELECT id, email, region, amount_cents, currency, payment_session_id, created_at
		 FROM purchases WHERE email = ? ORDER BY created_at DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*model.Purchase
	for rows.Next() {
		var p model.Purchase
		if err := rows.Scan(&p.ID, &p.Email, &p.Region, &p.AmountCents, &p.Currency, &p.PaymentSessionID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return purchases, nil
}

// SetExpiry overrides an entitlement's expiry. Used by operator tooling and
// tests; normal expiry movement happens only through UpsertPurchase.
func (s *EntitlementStore) SetExpiry(email string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE entitlements SET expires_at = ?, updated_at = datetime('now') WHERE email = ?`,
		expiresAt, email,
	)
	if err != nil {
		return fmt.Errorf("set entitlement expiry: %w", err)
	}
	return nil
}
