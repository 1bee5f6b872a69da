package model

import "time"

// Entitlement is the durable record of which map regions an email address
// may access and until when. One row per email; the region set grows with
// each purchase, the expiry is a single flat window refreshed by the latest
// purchase.
type Entitlement struct {
	Email           string    `json:"email"`
	Regions         []string  `json:"regions"`
	ExpiresAt       time.Time `json:"expires_at"`
	TotalPaidCents  int64     `json:"total_paid_cents"`
	Currency        string    `json:"currency"`
	FirstPurchaseAt time.Time `json:"first_purchase_at"`
	LastPurchaseAt  time.Time `json:"last_purchase_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Active reports whether the entitlement is still within its validity window.
func (e *Entitlement) Active(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// HasRegion reports whether the entitlement covers the given region id.
func (e *Entitlement) HasRegion(region string) bool {
	for _, r := range e.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Purchase is an append-only audit record of one completed payment event.
// PaymentSessionID carries the provider's session id and is unique, which is
// what makes webhook redelivery safe.
type Purchase struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Region           string    `json:"region"`
	AmountCents      int64     `json:"amount_cents"`
	Currency         string    `json:"currency"`
	PaymentSessionID string    `json:"payment_session_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// MagicLink is a single-use login token bound to an email address. The token
// is opaque; region and entitlement data are looked up fresh at redemption.
type MagicLink struct {
	ID         int64      `json:"id"`
	Token      string     `json:"token"`
	Email      string     `json:"email"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SessionGrant is the redemption result handed to the map client. It is not
// persisted server-side; the entitlement row remains the source of truth.
type SessionGrant struct {
	Email     string    `json:"email"`
	Regions   []string  `json:"regions"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Backup statuses.
const (
	BackupStatusPending   = "pending"
	BackupStatusUploading = "uploading"
	BackupStatusCompleted = "completed"
	BackupStatusFailed    = "failed"
)

// Backup is an audit row for one database backup run.
type Backup struct {
	ID          int64      `json:"id"`
	Filename    string     `json:"filename"`
	S3Key       string     `json:"s3_key"`
	Status      string     `json:"status"`
	SizeBytes   int64      `json:"size_bytes"`
	Error       string     `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}
