package model

import (
	"errors"
	"net/mail"
	"strings"
)

// Error taxonomy for the access-grant flow. Handlers map these onto HTTP
// status codes; everything else is treated as an internal storage error.
var (
	// ErrInvalidEmail rejects malformed addresses before any mutation.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrUnknownRegion means no catalog alias matched the input.
	ErrUnknownRegion = errors.New("unknown region")

	// ErrMalformedEvent means a payment event was missing required fields.
	ErrMalformedEvent = errors.New("malformed payment event")

	// ErrInvalidSignature means a webhook delivery failed signature
	// verification against the raw body.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNoEntitlement means no purchase was ever recorded for the email.
	ErrNoEntitlement = errors.New("no entitlement for email")

	// ErrEntitlementExpired means an entitlement exists but its validity
	// window has lapsed. Distinct from ErrNoEntitlement for user messaging.
	ErrEntitlementExpired = errors.New("entitlement expired")

	// ErrInvalidToken means no magic link matches the presented token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenAlreadyUsed means the magic link was already consumed.
	ErrTokenAlreadyUsed = errors.New("token already used")

	// ErrTokenExpired means the magic link's short validity window passed.
	ErrTokenExpired = errors.New("token expired")
)

// NormalizeEmail lowercases and trims an address and validates its shape.
// All stored and looked-up emails go through this, so the same customer
// typing "Alice@X.com" and "alice@x.com" resolves to one entitlement.
func NormalizeEmail(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", ErrInvalidEmail
	}
	return addr, nil
}
