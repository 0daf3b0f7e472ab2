package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload carried by access and ID tokens.
type Claims struct {
	jwt.RegisteredClaims

	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Principal converts claims to a Principal. The subject is the user id.
func (c *Claims) Principal() *Principal {
	return &Principal{
		UserID:   c.Subject,
		Email:    c.Email,
		Role:     c.Role,
		TenantID: c.TenantID,
	}
}

// ParseClaims extracts claims without verifying the signature. The client
// never holds the server's verification key; it only reads identity fields
// the server will verify on every call.
func ParseClaims(raw string) (*Claims, error) {
	if raw == "" {
		return nil, NewError(ErrTokenInvalid, "token cannot be empty", nil)
	}

	token, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		return nil, WrapError(ErrTokenMalformed, "failed to parse token", err, nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, NewError(ErrTokenInvalid, "invalid token claims", nil)
	}
	if claims.Subject == "" {
		return nil, NewError(ErrTokenInvalid, "token has no subject", nil)
	}
	return claims, nil
}

// PrincipalFromToken reads the principal out of an ID or access token.
func PrincipalFromToken(raw string) (*Principal, error) {
	claims, err := ParseClaims(raw)
	if err != nil {
		return nil, err
	}
	return claims.Principal(), nil
}

// signHS256 mints a token for p valid from issuedAt for ttl.
func signHS256(key []byte, issuer, id string, p Principal, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			Audience:  jwt.ClaimStrings{issuer},
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			NotBefore: jwt.NewNumericDate(issuedAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ID:        id,
		},
		Email:    p.Email,
		Role:     p.Role,
		TenantID: p.TenantID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", WrapError(ErrTokenSigningFailed, "failed to sign token", err, map[string]interface{}{
			"user_id": p.UserID,
		})
	}
	return signed, nil
}

// verifyHS256 validates signature, issuer and expiry at now.
func verifyHS256(key []byte, issuer, raw string, now time.Time) (*Claims, error) {
	if raw == "" {
		return nil, NewError(ErrTokenInvalid, "token cannot be empty", nil)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	token, err := parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, WrapError(ErrTokenInvalid, "token rejected", err, nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, NewError(ErrTokenInvalid, "invalid token claims", nil)
	}
	return claims, nil
}
