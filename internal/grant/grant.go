// Package grant signs session grants as client tokens. The signed token is
// a convenience for the map client; the entitlement row remains the source
// of truth and the grant carries no data the server cannot re-derive.
package grant

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/streetartmap/accessd/internal/model"
)

const issuer = "accessd"

// Signer signs and verifies session grant tokens with HMAC-SHA256.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

type grantClaims struct {
	Regions []string `json:"regions"`
	jwt.RegisteredClaims
}

// Sign returns a signed token for the grant, expiring when the entitlement
// does.
func (s *Signer) Sign(g *model.SessionGrant) (string, error) {
	claims := grantClaims{
		Regions: g.Regions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   g.Email,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(g.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// Verify parses a signed grant token and reconstructs the session grant.
// Expired or tampered tokens fail.
func (s *Signer) Verify(tokenString string) (*model.SessionGrant, error) {
	var claims grantClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("parse grant: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid grant token")
	}

	g := &model.SessionGrant{
		Email:   claims.Subject,
		Regions: claims.Regions,
	}
	if claims.ExpiresAt != nil {
		g.ExpiresAt = claims.ExpiresAt.Time
	}
	return g, nil
}
