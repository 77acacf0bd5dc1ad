// Package clients holds the narrow contracts for the external systems the
// session manager calls into but does not own: identity verification and
// the document/annotation store.
package clients

import (
	"context"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims is the identity established for one connection. Verified once at
// authenticate time and cached for the connection's lifetime.
type Claims struct {
	Identity    string
	DisplayName string
	AvatarRef   string
}

// IdentityVerifier validates an identity token issued by the external
// identity service.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// JWTVerifier validates HMAC-signed identity tokens locally using the
// shared verification secret, avoiding a network round-trip per connection.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for HS256 tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token, extracting the subject, display
// name and avatar claims.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}

	subject, err := mapClaims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	claims := &Claims{Identity: subject}
	if name, ok := mapClaims["name"].(string); ok {
		claims.DisplayName = name
	}
	if claims.DisplayName == "" {
		claims.DisplayName = subject
	}
	if avatar, ok := mapClaims["avatar"].(string); ok {
		claims.AvatarRef = avatar
	}

	return claims, nil
}
