package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/streetartmap/accessd/internal/model"
)

// MagicLinkStore owns the magic_links table. Tokens are opaque 256-bit
// random identifiers; all entitlement data is looked up fresh at redemption.
type MagicLinkStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewMagicLinkStore creates a store issuing tokens valid for ttl.
func NewMagicLinkStore(db *sql.DB, ttl time.Duration) *MagicLinkStore {
	return &MagicLinkStore{db: db, ttl: ttl}
}

const magicLinkCols = `id, token, email, expires_at, consumed_at, created_at`

func scanMagicLink(scanner interface{ Scan(...any) error }) (*model.MagicLink, error) {
	var ml model.MagicLink
	var consumedAt sql.NullTime

	err := scanner.Scan(&ml.ID, &ml.Token, &ml.Email, &ml.ExpiresAt, &consumedAt, &ml.CreatedAt)
	if err != nil {
		return nil, err
	}
	if consumedAt.Valid {
		ml.ConsumedAt = &consumedAt.Time
	}
	return &ml, nil
}

// generateToken returns 32 crypto-random bytes hex-encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create issues a new magic link for the email. Any previous unconsumed
// tokens for the same email are invalidated first, so only the newest link
// in the user's inbox works.
func (s *MagicLinkStore) Create(email string) (*model.MagicLink, error) {
	_, err := s.db.Exec(
		`UPDATE magic_links SET consumed_at = datetime('now') WHERE email = ? AND consumed_at IS NULL`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous tokens: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(s.ttl)

	result, err := s.db.Exec(
		`INSERT INTO magic_links (token, email, expires_at) VALUES (?, ?, ?)`,
		token, email, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert magic link: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+magicLinkCols+` FROM magic_links WHERE id = ?`, id)
	return scanMagicLink(row)
}

// Consume atomically marks the token consumed and returns it. The
// check-and-set is a single conditional UPDATE, so two concurrent
// redemptions of the same token see exactly one success and one
// ErrTokenAlreadyUsed. An expired token is consumed too (it is permanently
// invalid either way) and reported as ErrTokenExpired.
func (s *MagicLinkStore) Consume(token string) (*model.MagicLink, error) {
	result, err := s.db.Exec(
		`UPDATE magic_links SET consumed_at = datetime('now') WHERE token = ? AND consumed_at IS NULL`,
		token,
	)
	if err != nil {
		return nil, fmt.Errorf("consume magic link: %w", err)
	}
	won, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+magicLinkCols+` FROM magic_links WHERE token = ?`, token)
	ml, err := scanMagicLink(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("get magic link: %w", err)
	}

	if won == 0 {
		return nil, model.ErrTokenAlreadyUsed
	}
	if time.Now().UTC().After(ml.ExpiresAt) {
		return nil, model.ErrTokenExpired
	}
	return ml, nil
}

// GetByToken returns the magic link row regardless of state, or nil if not
// found.
func (s *MagicLinkStore) GetByToken(token string) (*model.MagicLink, error) {
	row := s.db.QueryRow(`SELECT `+magicLinkCols+` FROM magic_links WHERE token = ?`, token)
	ml, err := scanMagicLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get magic link by token: %w", err)
	}
	return ml, nil
}

// DeleteExpired removes tokens past expiry regardless of consumption.
func (s *MagicLinkStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM magic_links WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired magic links: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
